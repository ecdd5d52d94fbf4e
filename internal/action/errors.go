package action

import (
	"errors"
	"fmt"
)

// NotFoundError signals that the VIM driver (or the WIM connector) reports
// the referenced object is gone. DELETE treats this as success; FIND
// treats it as a miss.
type NotFoundError struct {
	Item ItemKind
	Ref  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Item, e.Ref)
}

// IsNotFound reports whether err is, or wraps, a *NotFoundError. DELETE
// dispatch paths throughout the executor treat this as success.
func IsNotFound(err error) bool {
	var notFound *NotFoundError
	return errors.As(err, &notFound)
}

// AmbiguousError signals a FIND that matched more than one object.
type AmbiguousError struct {
	Item  ItemKind
	Count int
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("find on %s matched %d objects, expected exactly one", e.Item, e.Count)
}

// DependencyFailedError is raised when a task's dependency reached FAILED
// before the task itself could run.
type DependencyFailedError struct {
	InstanceActionID string
	TaskIndex        int
}

func (e *DependencyFailedError) Error() string {
	return fmt.Sprintf("dependency %s/%d failed", e.InstanceActionID, e.TaskIndex)
}

// DependencyTimeoutError is raised when a task exhausted its retry budget
// waiting on an unresolved dependency.
type DependencyTimeoutError struct {
	InstanceActionID string
	TaskIndex        int
	Tries            int
}

func (e *DependencyTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %d tries waiting on dependency %s/%d", e.Tries, e.InstanceActionID, e.TaskIndex)
}

// DriverError wraps any VIM-driver-originated failure other than NotFound
// or Ambiguous.
type DriverError struct {
	Op  string
	Err error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("driver op %s: %v", e.Op, e.Err)
}

func (e *DriverError) Unwrap() error { return e.Err }

// OverlayError wraps a failure from the SDN overlay client.
type OverlayError struct {
	Op  string
	Err error
}

func (e *OverlayError) Error() string {
	return fmt.Sprintf("overlay op %s: %v", e.Op, e.Err)
}

func (e *OverlayError) Unwrap() error { return e.Err }

// StoreError wraps a persistence failure. The worker logs these and keeps
// looping; it never treats them as fatal.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store op %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// TruncateErrorMessage truncates an error message written to storage to
// 1024 characters, preserving both ends via middle-elision rather than a
// simple tail cut, so a truncated message still shows its opening cause.
func TruncateErrorMessage(msg string) string {
	const maxLen = 1024
	const half = 509
	if len(msg) <= maxLen {
		return msg
	}
	return msg[:half] + " ... " + msg[len(msg)-half:]
}
