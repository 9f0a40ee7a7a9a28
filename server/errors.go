package server

import (
	"errors"

	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/frobware/go-p4bridge"
)

// errorSpace identifies this bridge in p4.v1.Error details.
const errorSpace = "p4bridge"

// codeFor maps a bridge error to its gRPC code. Evaluator failures
// and anything unrecognised are UNKNOWN.
func codeFor(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	var (
		invalid      p4bridge.ErrInvalidArgument
		exists       p4bridge.ErrAlreadyExists
		notFound     p4bridge.ErrNotFound
		unimpl       p4bridge.ErrUnimplemented
		denied       p4bridge.ErrPermissionDenied
		precondition p4bridge.ErrFailedPrecondition
	)
	switch {
	case errors.As(err, &invalid):
		return codes.InvalidArgument
	case errors.As(err, &exists):
		return codes.AlreadyExists
	case errors.As(err, &notFound):
		return codes.NotFound
	case errors.As(err, &unimpl):
		return codes.Unimplemented
	case errors.As(err, &denied):
		return codes.PermissionDenied
	case errors.As(err, &precondition):
		return codes.FailedPrecondition
	}
	if s, ok := status.FromError(err); ok {
		return s.Code()
	}
	return codes.Unknown
}

// statusErr converts a bridge error into a gRPC status error.
func statusErr(err error) error {
	if err == nil {
		return nil
	}
	return status.Error(codeFor(err), err.Error())
}

// writeError builds the batched error of a Write: UNKNOWN, with one
// p4.v1.Error per update in request order.
func writeError(results []error) error {
	st := status.New(codes.Unknown, "one or more updates failed")
	details := make([]*p4v1.Error, len(results))
	for i, err := range results {
		details[i] = &p4v1.Error{CanonicalCode: int32(codeFor(err))}
		if err != nil {
			details[i].Message = err.Error()
			details[i].Space = errorSpace
		}
	}
	for _, d := range details {
		var err error
		if st, err = st.WithDetails(d); err != nil {
			return status.Errorf(codes.Internal, "encode write error: %v", err)
		}
	}
	return st.Err()
}
