// Package utils holds input validation shared by the kernel syscall layer.
package utils
