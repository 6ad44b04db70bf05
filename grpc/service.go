package statexfergrpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"

	"github.com/blockberries/statexfer/types"
)

const serviceName = "statexfer.v1.StateTransfer"

// StateTransferServer is the server-side interface for the state
// transfer gRPC service.
type StateTransferServer interface {
	Descriptor(context.Context, *DescriptorRequest) (*types.StateDescriptor, error)
	SeqNo(context.Context, *SeqNoRequest) (*SeqNoResponse, error)
	FetchParts(*FetchPartsRequest, grpc.ServerStream) error
}

// RegisterStateTransferServer registers srv on a gRPC server.
func RegisterStateTransferServer(s *grpc.Server, srv StateTransferServer) {
	s.RegisterService(&serviceDesc, srv)
}

// --- Handler functions ---

func handlerDescriptor(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req := new(DescriptorRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(StateTransferServer).Descriptor(ctx, req)
}

func handlerSeqNo(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req := new(SeqNoRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(StateTransferServer).SeqNo(ctx, req)
}

func handlerFetchParts(srv any, stream grpc.ServerStream) error {
	req := new(FetchPartsRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(StateTransferServer).FetchParts(req, stream)
}

// fullMethod builds the full gRPC method path.
func fullMethod(method string) string {
	return fmt.Sprintf("/%s/%s", serviceName, method)
}

// serviceDesc is the manual gRPC service descriptor.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*StateTransferServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Descriptor", Handler: handlerDescriptor},
		{MethodName: "SeqNo", Handler: handlerSeqNo},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "FetchParts",
			Handler:       handlerFetchParts,
			ServerStreams: true,
		},
	},
	Metadata: "statexfer/v1/service.cram",
}
