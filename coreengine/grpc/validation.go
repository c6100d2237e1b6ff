package grpc

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jeeves-cluster-organization/answerflow/coreengine/runtime"
)

// =============================================================================
// REQUEST VALIDATION
// =============================================================================

// validateRequired checks if a field is non-empty.
func validateRequired(field, fieldName string) error {
	if field == "" {
		return InvalidArgument(fieldName)
	}
	return nil
}

// =============================================================================
// STATUS BUILDERS
// =============================================================================

// InvalidArgument returns an InvalidArgument error for a missing field.
func InvalidArgument(fieldName string) error {
	return status.Errorf(codes.InvalidArgument, "%s is required", fieldName)
}

// Internal wraps an unexpected failure.
func Internal(operation string, cause error) error {
	return status.Errorf(codes.Internal, "%s failed: %v", operation, cause)
}

// FailedPrecondition reports an operation the server cannot perform in its
// current state.
func FailedPrecondition(resource, currentState, attemptedAction string) error {
	return status.Errorf(codes.FailedPrecondition,
		"%s in state %s cannot %s", resource, currentState, attemptedAction)
}

// toStatus maps a run error to a gRPC status error.
func toStatus(err error) error {
	if err == nil {
		return status.Error(codes.Unknown, "run produced no result")
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var inputErr *runtime.InputError
	switch {
	case errors.As(err, &inputErr):
		return status.Error(codes.InvalidArgument, inputErr.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return Internal("workflow run", err)
	}
}
