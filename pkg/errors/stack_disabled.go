//go:build nostack
// +build nostack

package errors

// captureStack is compiled out under the "nostack" build tag; errors carry
// no stack trace and New/Wrap pay no runtime.Callers cost.
func captureStack(skip int) string {
	return ""
}
