// Package middleware provides the HTTP middleware chain for the read API:
// request ids, request-scoped logging, and principal resolution.
package middleware
