// Package providers implements user-mode services that run as kernel tasks.
//
// A provider registers a service name, then answers tool calls that arrive on
// the service channel. Each call is one message: a codec-encoded request body
// plus exactly one attached handle, a send right to the caller's reply
// channel. The provider answers on that handle and closes it.
//
// Available Providers:
//   - Disk: fixed-size blocks backed by a lazily committed memory object
//
// Provider Interface:
//   - Name(): service name to register
//   - Setup(): acquires kernel resources once the task is running
//   - Execute(): runs one tool call
//
// Example Usage:
//
//	disk := providers.NewDisk(64)
//	k.TaskCreate(root, kernel.TaskSpec{Name: "disk", Program: providers.Program(disk, codec.Proto{}, log)})
//
//	client, err := providers.Dial(ctx, k, t, "disk", codec.Proto{})
//	data, err := client.Call(ctx, "disk.read", map[string]any{"block": 3})
package providers
