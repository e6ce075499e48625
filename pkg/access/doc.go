// Package access scopes read operations to the sites a principal owns, has
// been granted, or may see by role.
package access
