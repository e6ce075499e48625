// Package async provides panic-safe detached goroutine execution for
// background work such as reconciliation passes.
package async
