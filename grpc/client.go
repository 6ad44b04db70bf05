package statexfergrpc

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	statexfer "github.com/blockberries/statexfer"
	"github.com/blockberries/statexfer/types"
)

// Compile-time interface check.
var _ statexfer.Source = (*Client)(nil)

// Client implements statexfer.Source for a remote replica over gRPC.
type Client struct {
	cc   *grpc.ClientConn
	addr string
}

// Dial connects to a remote replica.
func Dial(ctx context.Context, addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append(opts, grpc.WithDefaultCallOptions(
		grpc.ForceCodec(Codec{}),
	))
	cc, err := grpc.DialContext(ctx, addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("statexfer client: dial %s: %w", addr, err)
	}
	return &Client{cc: cc, addr: addr}, nil
}

func (c *Client) Close() error {
	return c.cc.Close()
}

// Descriptor fetches the remote committed descriptor.
func (c *Client) Descriptor(ctx context.Context) (*types.StateDescriptor, error) {
	resp := new(types.StateDescriptor)
	if err := c.cc.Invoke(ctx, fullMethod("Descriptor"), &DescriptorRequest{}, resp); err != nil {
		return nil, c.fromStatus(err)
	}
	return resp, nil
}

// SeqNo fetches the remote committed sequence number.
func (c *Client) SeqNo(ctx context.Context) (types.SeqNo, error) {
	resp := new(SeqNoResponse)
	if err := c.cc.Invoke(ctx, fullMethod("SeqNo"), &SeqNoRequest{}, resp); err != nil {
		return 0, c.fromStatus(err)
	}
	return resp.Seq, nil
}

// FetchParts streams the requested parts. The remote omits ids it does
// not hold. Parts are returned unverified; the receiving state checks
// them against its target.
func (c *Client) FetchParts(ctx context.Context, ids [][]byte) ([]types.StatePart, error) {
	stream, err := c.cc.NewStream(ctx, &serviceDesc.Streams[0], fullMethod("FetchParts"))
	if err != nil {
		return nil, c.fromStatus(err)
	}
	if err := stream.SendMsg(&FetchPartsRequest{IDs: ids}); err != nil {
		return nil, c.fromStatus(err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, c.fromStatus(err)
	}

	parts := make([]types.StatePart, 0, len(ids))
	for {
		p := new(types.StatePart)
		if err := stream.RecvMsg(p); err != nil {
			if errors.Is(err, io.EOF) {
				return parts, nil
			}
			return nil, c.fromStatus(err)
		}
		parts = append(parts, *p)
	}
}

func (c *Client) fromStatus(err error) error {
	if st, ok := status.FromError(err); ok && st.Code() == codes.Unavailable {
		return statexfer.NewStateUnavailable("remote "+c.addr, err)
	}
	return err
}
