package kerr

import (
	"errors"
	"fmt"
)

// Sentinel errors, one per kind in the kernel error taxonomy.
var (
	ErrNotFound          = errors.New("not found")
	ErrNameTaken         = errors.New("name taken")
	ErrInvalidHandle     = errors.New("invalid handle")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrQueueFull         = errors.New("queue full")
	ErrWouldBlock        = errors.New("would block")
	ErrRecipientDead     = errors.New("recipient dead")
	ErrChannelClosed     = errors.New("channel closed")
	ErrOutOfMemory       = errors.New("out of memory")
	ErrOutOfVirtualSpace = errors.New("out of virtual space")
	ErrMisalignedAddress = errors.New("misaligned address")
	ErrOverlap           = errors.New("overlapping mapping")
	ErrTimedOut          = errors.New("timed out")
	ErrInvalidArgument   = errors.New("invalid argument")
)

// Kind is a stable label for an error class.
type Kind string

const (
	KindNone              Kind = "ok"
	KindNotFound          Kind = "not_found"
	KindNameTaken         Kind = "name_taken"
	KindInvalidHandle     Kind = "invalid_handle"
	KindPermissionDenied  Kind = "permission_denied"
	KindQueueFull         Kind = "queue_full"
	KindWouldBlock        Kind = "would_block"
	KindRecipientDead     Kind = "recipient_dead"
	KindChannelClosed     Kind = "channel_closed"
	KindOutOfMemory       Kind = "out_of_memory"
	KindOutOfVirtualSpace Kind = "out_of_virtual_space"
	KindMisalignedAddress Kind = "misaligned_address"
	KindOverlap           Kind = "overlap"
	KindTimedOut          Kind = "timed_out"
	KindInvalidArgument   Kind = "invalid_argument"
	KindInternal          Kind = "internal"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrNotFound, KindNotFound},
	{ErrNameTaken, KindNameTaken},
	{ErrInvalidHandle, KindInvalidHandle},
	{ErrPermissionDenied, KindPermissionDenied},
	{ErrQueueFull, KindQueueFull},
	{ErrWouldBlock, KindWouldBlock},
	{ErrRecipientDead, KindRecipientDead},
	{ErrChannelClosed, KindChannelClosed},
	{ErrOutOfMemory, KindOutOfMemory},
	{ErrOutOfVirtualSpace, KindOutOfVirtualSpace},
	{ErrMisalignedAddress, KindMisalignedAddress},
	{ErrOverlap, KindOverlap},
	{ErrTimedOut, KindTimedOut},
	{ErrInvalidArgument, KindInvalidArgument},
}

// Error records the operation that failed alongside the taxonomy sentinel.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps a sentinel with the failing operation. An error that already
// names its operation is returned as is.
func New(op string, err error) error {
	if err == nil {
		return nil
	}
	var ke *Error
	if errors.As(err, &ke) {
		return err
	}
	return &Error{Op: op, Err: err}
}

// Newf wraps a sentinel with the failing operation and extra detail.
// The sentinel stays reachable through errors.Is.
func Newf(op string, err error, format string, args ...any) error {
	return &Error{Op: op, Err: fmt.Errorf("%w: %s", err, fmt.Sprintf(format, args...))}
}

// KindOf maps an error to its taxonomy label.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// Retryable reports whether the caller may retry the same call later.
func Retryable(err error) bool {
	return errors.Is(err, ErrQueueFull) || errors.Is(err, ErrWouldBlock)
}
