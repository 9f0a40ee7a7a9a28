package p4bridge

import "fmt"

// ErrInvalidArgument is returned when a request is malformed or does
// not conform to the table schema.
type ErrInvalidArgument struct {
	Reason string
}

func (e ErrInvalidArgument) Error() string {
	return "invalid argument: " + e.Reason
}

// ErrAlreadyExists is returned when inserting an entity whose key is
// already present.
type ErrAlreadyExists struct {
	What string
}

func (e ErrAlreadyExists) Error() string {
	return fmt.Sprintf("%s already exists", e.What)
}

// ErrNotFound is returned when modifying or deleting an entity that
// is not present, or when referencing an unknown table or device.
type ErrNotFound struct {
	What string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found", e.What)
}

// ErrUnimplemented is returned for entity kinds the bridge does not
// model.
type ErrUnimplemented struct {
	What string
}

func (e ErrUnimplemented) Error() string {
	return fmt.Sprintf("%s is not supported", e.What)
}

// ErrEvaluator is returned when an evaluator transaction fails. State
// is left as it was before the write.
type ErrEvaluator struct {
	Op  string
	Err error
}

func (e ErrEvaluator) Error() string {
	return fmt.Sprintf("evaluator %s: %v", e.Op, e.Err)
}

func (e ErrEvaluator) Unwrap() error {
	return e.Err
}

// ErrPermissionDenied is returned when a write comes from a
// controller that is not the primary.
type ErrPermissionDenied struct {
	Reason string
}

func (e ErrPermissionDenied) Error() string {
	return "permission denied: " + e.Reason
}

// ErrFailedPrecondition is returned when an operation needs state
// that has not been established, such as committing a pipeline that
// was never saved.
type ErrFailedPrecondition struct {
	Reason string
}

func (e ErrFailedPrecondition) Error() string {
	return "failed precondition: " + e.Reason
}
