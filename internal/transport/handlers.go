// ABOUTME: Generic helpers for hand-written gRPC method and stream handlers.
// ABOUTME: Decode the request, apply the interceptor chain and call the typed method.

package transport

import (
	"context"

	"google.golang.org/grpc"
)

// unary builds a grpc.MethodHandler for a typed unary method on handler type H.
func unary[H any, Req any, Resp any](fullMethod string, call func(H, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(H), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(H), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// serverStream builds a grpc.StreamHandler for a server-streaming method on handler type H.
func serverStream[H any, Req any](call func(H, *Req, grpc.ServerStream) error) grpc.StreamHandler {
	return func(srv any, stream grpc.ServerStream) error {
		in := new(Req)
		if err := stream.RecvMsg(in); err != nil {
			return err
		}
		return call(srv.(H), in, stream)
	}
}
