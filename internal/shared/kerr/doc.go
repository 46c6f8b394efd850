// Package kerr defines the kernel error taxonomy.
//
// Every syscall returns nil or exactly one of the sentinels declared here,
// usually wrapped in an *Error naming the failing operation:
//
//	if errors.Is(err, kerr.ErrQueueFull) {
//		// transient, retry later
//	}
//
// Transient: ErrQueueFull, ErrWouldBlock.
// Peer gone: ErrRecipientDead, ErrChannelClosed.
// Exhaustion: ErrOutOfMemory, ErrOutOfVirtualSpace.
// Caller bugs: ErrMisalignedAddress, ErrOverlap, ErrInvalidArgument.
package kerr
