// Package registry tracks the sites the service collects metrics for and the
// per-principal access grants that scope who can read them. Sites are
// soft-deactivated rather than deleted so historical metric rows stay
// attributable.
package registry
