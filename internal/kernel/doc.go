/*
Package kernel wires the kernel subsystems into one instance and exposes the
syscall surface to tasks.

# Components

  - object.Table: reference counted kernel objects
  - capability.Table: one per task, mediates every syscall
  - mm.Manager and mm.AddressSpace: memory objects and mappings
  - sched.Scheduler: task states and ready queues
  - ipc.Channel: bounded message queues
  - service.Registry: named channel endpoints

A Kernel is an explicit value; tests build as many as they need.

# Tasks

A task either runs a Program on a kernel core (see Run) or is detached, in
which case the goroutine holding the *Task issues its syscalls directly.
Detached tasks go through the same state machine, including Blocked, but never
occupy a core.

# Usage

	k, err := kernel.New(cfg, kernel.WithLogger(log))
	root, err := k.Bootstrap("init", nil)

	ch, err := k.ChannelCreate(root, 0)
	err = k.ChannelSend(ctx, root, ch, []byte("ping"), nil, kernel.SendOptions{})
	msg, err := k.ChannelReceive(ctx, root, ch, kernel.ReceiveOptions{})
*/
package kernel
