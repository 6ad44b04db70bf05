package statexfergrpc

import (
	"context"
	"errors"
	"net"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	statexfer "github.com/blockberries/statexfer"
	"github.com/blockberries/statexfer/divisible"
	"github.com/blockberries/statexfer/local"
	"github.com/blockberries/statexfer/types"
)

// Compile-time interface check.
var _ StateTransferServer = (*Server)(nil)

// Server serves the committed checkpoint of a divisible.Reader to
// other replicas. Pass an install.Driver when the state is also being
// installed into, so reads never overlap a transfer.
type Server struct {
	src     *local.Source
	logger  hclog.Logger
	limiter *rate.Limiter
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the server's logger.
func WithLogger(l hclog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithRateLimit caps the part bytes streamed per second across all
// FetchParts calls. A non-positive bytesPerSec disables the limit.
func WithRateLimit(bytesPerSec, burst int) ServerOption {
	return func(s *Server) {
		if bytesPerSec <= 0 {
			s.limiter = nil
			return
		}
		s.limiter = rate.NewLimiter(rate.Limit(bytesPerSec), max(burst, 1))
	}
}

// NewServer creates a gRPC server over r.
func NewServer(r divisible.Reader, opts ...ServerOption) *Server {
	s := &Server{
		src:    local.NewSource(r),
		logger: hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds the state transfer service to a gRPC server.
func (s *Server) Register(gs *grpc.Server) {
	RegisterStateTransferServer(gs, s)
}

// Serve starts a gRPC server on the given listener.
func (s *Server) Serve(lis net.Listener, opts ...grpc.ServerOption) error {
	gs := grpc.NewServer(opts...)
	s.Register(gs)
	return gs.Serve(lis)
}

func (s *Server) Descriptor(ctx context.Context, _ *DescriptorRequest) (*types.StateDescriptor, error) {
	d, err := s.src.Descriptor(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return d, nil
}

func (s *Server) SeqNo(_ context.Context, _ *SeqNoRequest) (*SeqNoResponse, error) {
	seq, err := s.src.SeqNo()
	if err != nil {
		return nil, toStatus(err)
	}
	return &SeqNoResponse{Seq: seq}, nil
}

func (s *Server) FetchParts(req *FetchPartsRequest, stream grpc.ServerStream) error {
	ctx := stream.Context()
	parts, err := s.src.FetchParts(ctx, req.IDs)
	if err != nil {
		s.logger.Warn("fetch parts failed", "requested", len(req.IDs), "error", err)
		return toStatus(err)
	}

	var sent int
	for i := range parts {
		if err := s.throttle(ctx, parts[i].Length()); err != nil {
			return status.FromContextError(err).Err()
		}
		if err := stream.SendMsg(&parts[i]); err != nil {
			return err
		}
		sent += parts[i].Length()
	}
	s.logger.Debug("parts served", "requested", len(req.IDs), "parts", len(parts), "bytes", sent)
	return nil
}

// throttle waits for n bytes of budget, in chunks no larger than the
// limiter's burst.
func (s *Server) throttle(ctx context.Context, n int) error {
	if s.limiter == nil {
		return nil
	}
	burst := s.limiter.Burst()
	for n > 0 {
		chunk := min(n, burst)
		if err := s.limiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, statexfer.ErrStateUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
