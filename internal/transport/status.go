// ABOUTME: Conversion between call errors and gRPC status errors.
// ABOUTME: Error codes ride in an errdetails.ErrorInfo so they survive the hop.

package transport

import (
	"context"
	"errors"
	"strconv"

	"github.com/2389/coven-bridge/internal/calls"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	errorDomain   = "coven.bridge"
	reasonCall    = "CALL_ERROR"
	reasonService = "SERVICE_ERROR"
)

// RemoteError is a failure reported by the other side without a call code.
type RemoteError struct {
	Code    codes.Code
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// GRPCStatus lets status.FromError recover the original code.
func (e *RemoteError) GRPCStatus() *status.Status {
	return status.New(e.Code, e.Message)
}

// toStatus converts err into a gRPC status error.
func toStatus(err error) error {
	if err == nil {
		return nil
	}

	var se *calls.ServiceError
	if errors.As(err, &se) {
		return withInfo(codes.Aborted, se.Message, reasonService, strconv.Itoa(se.Code))
	}

	var ce *calls.Error
	if errors.As(err, &ce) {
		code := codes.Aborted
		if ce.Code == calls.CodeServiceUnavailable {
			code = codes.Unavailable
		}
		return withInfo(code, ce.Message, reasonCall, ce.Code)
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}
	if st, ok := status.FromError(err); ok {
		return st.Err()
	}
	return status.Error(codes.Internal, err.Error())
}

func withInfo(code codes.Code, message, reason, callCode string) error {
	st := status.New(code, message)
	detailed, err := st.WithDetails(&errdetails.ErrorInfo{
		Reason:   reason,
		Domain:   errorDomain,
		Metadata: map[string]string{"code": callCode},
	})
	if err != nil {
		return st.Err()
	}
	return detailed.Err()
}

// fromStatus restores the error a peer encoded with toStatus.
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	for _, d := range st.Details() {
		info, ok := d.(*errdetails.ErrorInfo)
		if !ok || info.GetDomain() != errorDomain {
			continue
		}
		code := info.GetMetadata()["code"]
		switch info.GetReason() {
		case reasonService:
			if n, convErr := strconv.Atoi(code); convErr == nil {
				return &calls.ServiceError{Code: n, Message: st.Message()}
			}
		case reasonCall:
			return calls.NewError(code, st.Message())
		}
	}

	switch st.Code() {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}
	return &RemoteError{Code: st.Code(), Message: st.Message()}
}
