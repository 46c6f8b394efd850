// Package ipc implements bounded message channels.
//
// A channel queues messages for one receiving task. Sends never grow the
// queue past its capacity: a full queue rejects with ErrQueueFull, and callers
// that opt in park a waiter until space frees up. Attached capabilities are
// taken from the sender under the channel lock, so a message and all of its
// handles are accepted together or not at all.
package ipc
