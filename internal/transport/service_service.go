// ABOUTME: gRPC service through which the bridge reaches the background service.
// ABOUTME: ServiceServer exposes a service.Service; RemoteService consumes one.

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/2389/coven-bridge/internal/calls"
	"github.com/2389/coven-bridge/internal/service"
	"google.golang.org/grpc"
)

const (
	serviceServiceName  = "coven.bridge.v1.Service"
	serviceCallMethod   = "/" + serviceServiceName + "/Call"
	serviceStreamMethod = "/" + serviceServiceName + "/CallStream"
	serviceHandshake    = "/" + serviceServiceName + "/Handshake"
	serviceSyncData     = "/" + serviceServiceName + "/SyncData"
	serviceRollbackData = "/" + serviceServiceName + "/RollbackData"
	serviceResetData    = "/" + serviceServiceName + "/ResetData"
	serviceLog          = "/" + serviceServiceName + "/Log"
)

// logTimeout bounds the fire-and-forget log call.
const logTimeout = 5 * time.Second

// ServiceHandler is the server API of the Service service.
type ServiceHandler interface {
	Call(ctx context.Context, req *calls.Invocation) (*CallResponse, error)
	CallStream(req *calls.Invocation, stream grpc.ServerStream) error
	Handshake(ctx context.Context, req *Empty) (*HandshakeResponse, error)
	SyncData(ctx context.Context, req *SyncRequest) (*Empty, error)
	RollbackData(ctx context.Context, req *Empty) (*Empty, error)
	ResetData(ctx context.Context, req *Empty) (*Empty, error)
	Log(ctx context.Context, req *calls.LogRecord) (*Empty, error)
}

var serviceServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceServiceName,
	HandlerType: (*ServiceHandler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Call", Handler: unary(serviceCallMethod, ServiceHandler.Call)},
		{MethodName: "Handshake", Handler: unary(serviceHandshake, ServiceHandler.Handshake)},
		{MethodName: "SyncData", Handler: unary(serviceSyncData, ServiceHandler.SyncData)},
		{MethodName: "RollbackData", Handler: unary(serviceRollbackData, ServiceHandler.RollbackData)},
		{MethodName: "ResetData", Handler: unary(serviceResetData, ServiceHandler.ResetData)},
		{MethodName: "Log", Handler: unary(serviceLog, ServiceHandler.Log)},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "CallStream",
			Handler:       serverStream(ServiceHandler.CallStream),
			ServerStreams: true,
		},
	},
	Metadata: "coven/bridge/v1/service.cbor",
}

// ServiceServer exposes a service.Service over gRPC.
type ServiceServer struct {
	svc    service.Service
	logger *slog.Logger
}

// NewServiceServer wraps svc.
func NewServiceServer(svc service.Service, logger *slog.Logger) *ServiceServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ServiceServer{svc: svc, logger: logger.With("component", "service-api")}
}

// Register adds the Service service to a gRPC server.
func (s *ServiceServer) Register(reg grpc.ServiceRegistrar) {
	reg.RegisterService(&serviceServiceDesc, s)
}

// Call implements ServiceHandler.
func (s *ServiceServer) Call(ctx context.Context, req *calls.Invocation) (*CallResponse, error) {
	out, err := s.svc.Call(ctx, *req)
	if err != nil {
		return nil, toStatus(err)
	}
	return &CallResponse{Data: out}, nil
}

// CallStream implements ServiceHandler.
func (s *ServiceServer) CallStream(req *calls.Invocation, stream grpc.ServerStream) error {
	updates, err := s.svc.CallStream(stream.Context(), *req)
	if err != nil {
		return toStatus(err)
	}
	for {
		raw, err := updates.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return toStatus(err)
		}
		if err := stream.SendMsg(&Update{Data: raw}); err != nil {
			return err
		}
	}
}

// Handshake implements ServiceHandler.
func (s *ServiceServer) Handshake(context.Context, *Empty) (*HandshakeResponse, error) {
	return &HandshakeResponse{
		Port:         s.svc.InitializedPort(),
		DatabasePath: s.svc.DatabasePath(),
	}, nil
}

// SyncData implements ServiceHandler.
func (s *ServiceServer) SyncData(ctx context.Context, req *SyncRequest) (*Empty, error) {
	if err := s.svc.SyncData(ctx, req.Path); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

// RollbackData implements ServiceHandler.
func (s *ServiceServer) RollbackData(ctx context.Context, _ *Empty) (*Empty, error) {
	if err := s.svc.RollbackData(ctx); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

// ResetData implements ServiceHandler.
func (s *ServiceServer) ResetData(ctx context.Context, _ *Empty) (*Empty, error) {
	if err := s.svc.ResetData(ctx); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

// Log implements ServiceHandler.
func (s *ServiceServer) Log(_ context.Context, req *calls.LogRecord) (*Empty, error) {
	s.svc.Log(req.Level, req.Message)
	return &Empty{}, nil
}

// RemoteService is a service.Service reached over a gRPC connection.
type RemoteService struct {
	cc     grpc.ClientConnInterface
	port   int
	dbPath string
	logger *slog.Logger
}

// DialService performs the handshake and returns the connected service.
func DialService(ctx context.Context, cc grpc.ClientConnInterface, logger *slog.Logger) (*RemoteService, error) {
	if logger == nil {
		logger = slog.Default()
	}
	out := new(HandshakeResponse)
	if err := cc.Invoke(ctx, serviceHandshake, &Empty{}, out, callCodec()); err != nil {
		return nil, fmt.Errorf("handshake: %w", fromStatus(err))
	}
	return &RemoteService{
		cc:     cc,
		port:   out.Port,
		dbPath: out.DatabasePath,
		logger: logger.With("component", "remote-service"),
	}, nil
}

// Call implements service.Service.
func (r *RemoteService) Call(ctx context.Context, inv calls.Invocation) ([]byte, error) {
	out := new(CallResponse)
	if err := r.cc.Invoke(ctx, serviceCallMethod, &inv, out, callCodec()); err != nil {
		return nil, fromStatus(err)
	}
	return out.Data, nil
}

// CallStream implements service.Service.
func (r *RemoteService) CallStream(ctx context.Context, inv calls.Invocation) (service.Stream, error) {
	stream, err := r.cc.NewStream(ctx, &serviceServiceDesc.Streams[0], serviceStreamMethod, callCodec())
	if err != nil {
		return nil, fromStatus(err)
	}
	// io.EOF means the server already finished; RecvMsg reports its status.
	if err := stream.SendMsg(&inv); err != nil && !errors.Is(err, io.EOF) {
		return nil, fromStatus(err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fromStatus(err)
	}
	return &remoteStream{stream: stream}, nil
}

type remoteStream struct {
	stream grpc.ClientStream
}

func (s *remoteStream) Recv() ([]byte, error) {
	var u Update
	if err := s.stream.RecvMsg(&u); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fromStatus(err)
	}
	return u.Data, nil
}

// InitializedPort implements service.Service.
func (r *RemoteService) InitializedPort() int { return r.port }

// DatabasePath implements service.Service.
func (r *RemoteService) DatabasePath() string { return r.dbPath }

// SyncData implements service.Service.
func (r *RemoteService) SyncData(ctx context.Context, src string) error {
	return fromStatus(r.cc.Invoke(ctx, serviceSyncData, &SyncRequest{Path: src}, &Empty{}, callCodec()))
}

// RollbackData implements service.Service.
func (r *RemoteService) RollbackData(ctx context.Context) error {
	return fromStatus(r.cc.Invoke(ctx, serviceRollbackData, &Empty{}, &Empty{}, callCodec()))
}

// ResetData implements service.Service.
func (r *RemoteService) ResetData(ctx context.Context) error {
	return fromStatus(r.cc.Invoke(ctx, serviceResetData, &Empty{}, &Empty{}, callCodec()))
}

// Log implements service.Service. Delivery failures are only logged.
func (r *RemoteService) Log(level int, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), logTimeout)
	defer cancel()
	rec := &calls.LogRecord{Level: level, Message: message}
	if err := r.cc.Invoke(ctx, serviceLog, rec, &Empty{}, callCodec()); err != nil {
		r.logger.Debug("failed to forward log record", "error", err)
	}
}

var _ service.Service = (*RemoteService)(nil)
