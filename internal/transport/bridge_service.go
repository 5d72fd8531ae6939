// ABOUTME: Caller-facing gRPC service exposing Dispatch and Listen.
// ABOUTME: Listen streams a streaming call's updates until end-of-stream or failure.

package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/2389/coven-bridge/internal/calls"
	"github.com/2389/coven-bridge/internal/subscription"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// BridgeServiceName is the caller-facing service, also used for health status.
const BridgeServiceName = "coven.bridge.v1.Bridge"

const (
	bridgeDispatchMethod = "/" + BridgeServiceName + "/Dispatch"
	bridgeListenMethod   = "/" + BridgeServiceName + "/Listen"
)

// BridgeHandler is the server API of the Bridge service.
type BridgeHandler interface {
	Dispatch(ctx context.Context, req *calls.Invocation) (*DispatchResponse, error)
	Listen(req *ListenRequest, stream grpc.ServerStream) error
}

var bridgeServiceDesc = grpc.ServiceDesc{
	ServiceName: BridgeServiceName,
	HandlerType: (*BridgeHandler)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Dispatch",
			Handler:    unary(bridgeDispatchMethod, BridgeHandler.Dispatch),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Listen",
			Handler:       serverStream(BridgeHandler.Listen),
			ServerStreams: true,
		},
	},
	Metadata: "coven/bridge/v1/bridge.cbor",
}

// Dispatcher routes invocations. Satisfied by *dispatch.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, inv calls.Invocation) (calls.Reply, error)
}

// Subscriber attaches consumers to streaming calls. Satisfied by *bridge.Bridge.
type Subscriber interface {
	Subscribe(token string) (*subscription.Subscription, error)
}

// BridgeServer implements BridgeHandler on top of a dispatcher and subscriber.
type BridgeServer struct {
	dispatcher Dispatcher
	subscriber Subscriber
	logger     *slog.Logger
}

// NewBridgeServer creates the caller-facing service.
func NewBridgeServer(d Dispatcher, s Subscriber, logger *slog.Logger) *BridgeServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &BridgeServer{
		dispatcher: d,
		subscriber: s,
		logger:     logger.With("component", "bridge-api"),
	}
}

// Register adds the Bridge service to a gRPC server.
func (s *BridgeServer) Register(reg grpc.ServiceRegistrar) {
	reg.RegisterService(&bridgeServiceDesc, s)
}

// Dispatch implements BridgeHandler.
func (s *BridgeServer) Dispatch(ctx context.Context, req *calls.Invocation) (*DispatchResponse, error) {
	reply, err := s.dispatcher.Dispatch(ctx, *req)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeReply(reply), nil
}

// Listen implements BridgeHandler.
func (s *BridgeServer) Listen(req *ListenRequest, stream grpc.ServerStream) error {
	sub, err := s.subscriber.Subscribe(req.Token)
	switch {
	case errors.Is(err, subscription.ErrUnknownToken):
		return status.Errorf(codes.NotFound, "unknown call token %q", req.Token)
	case errors.Is(err, subscription.ErrAlreadyAttached):
		return status.Errorf(codes.AlreadyExists, "call %s already has a listener", req.Token)
	case errors.Is(err, subscription.ErrRegistryClosed):
		return status.Error(codes.Unavailable, "bridge shutting down")
	case err != nil:
		return status.Errorf(codes.Internal, "subscribing: %v", err)
	}
	defer sub.Close()

	ctx := stream.Context()
	for {
		data, err := sub.Next(ctx)
		if err == nil {
			if err := stream.SendMsg(&Update{Data: data}); err != nil {
				return err
			}
			continue
		}

		if errors.Is(err, io.EOF) {
			return nil
		}
		var ce *calls.Error
		if errors.As(err, &ce) {
			return toStatus(ce)
		}
		if ctx.Err() != nil {
			s.logger.Debug("listener went away", "token", req.Token)
			return status.FromContextError(ctx.Err()).Err()
		}
		if errors.Is(err, subscription.ErrSubscriptionClosed) {
			return status.Error(codes.Unavailable, "subscription closed")
		}
		return status.Errorf(codes.Internal, "reading updates: %v", err)
	}
}

// BridgeClient calls the Bridge service.
type BridgeClient struct {
	cc grpc.ClientConnInterface
}

// NewBridgeClient wraps a client connection.
func NewBridgeClient(cc grpc.ClientConnInterface) *BridgeClient {
	return &BridgeClient{cc: cc}
}

// Dispatch sends one invocation. Failures are *calls.Error where the server reported one.
func (c *BridgeClient) Dispatch(ctx context.Context, inv calls.Invocation) (calls.Reply, error) {
	out := new(DispatchResponse)
	if err := c.cc.Invoke(ctx, bridgeDispatchMethod, &inv, out, callCodec()); err != nil {
		return calls.Reply{}, fromStatus(err)
	}
	return decodeReply(out), nil
}

// Listen attaches to the updates of the streaming call identified by token.
func (c *BridgeClient) Listen(ctx context.Context, token string) (*Listener, error) {
	stream, err := c.cc.NewStream(ctx, &bridgeServiceDesc.Streams[0], bridgeListenMethod, callCodec())
	if err != nil {
		return nil, fromStatus(err)
	}
	// io.EOF means the server already finished; RecvMsg reports its status.
	if err := stream.SendMsg(&ListenRequest{Token: token}); err != nil && !errors.Is(err, io.EOF) {
		return nil, fromStatus(err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fromStatus(err)
	}
	return &Listener{stream: stream}, nil
}

// Listener receives the updates of one streaming call.
type Listener struct {
	stream grpc.ClientStream
}

// Recv returns the next update, io.EOF at end-of-stream or the call's failure.
func (l *Listener) Recv() ([]byte, error) {
	var u Update
	if err := l.stream.RecvMsg(&u); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fromStatus(err)
	}
	return u.Data, nil
}
