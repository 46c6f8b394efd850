// Package service is the kernel's name registry.
//
// A task registers a name for one of its channels; other tasks subscribe by
// name to obtain a send capability to that channel. A name is bound to at
// most one registration at a time and is released when the owner dies or
// the service object is destroyed.
//
// Example:
//
//	reg := service.NewRegistry()
//	err := reg.Register(svc)            // kerr.ErrNameTaken if bound
//	svc, err := reg.Lookup("disk")      // kerr.ErrNotFound once unregistered
//	reg.UnregisterOwner(deadTask)
package service
