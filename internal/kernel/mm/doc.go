// Package mm manages memory objects and per-task address spaces.
//
// Physical frames come from a FrameAllocator and translations are installed
// through a PageTable driver; both are narrow interfaces so the package runs
// hosted with the simulated implementations in this package. A memory object
// owns its frames. Address spaces only borrow them through mappings, which is
// how the same object is shared between tasks with different permissions.
package mm
