// Package searchconsole is the client for the external search analytics
// capability. It fetches daily totals and per-page/per-query breakdowns for
// one site and date, bounds every call with a timeout, and classifies
// failures into transient, auth, not-found and validation kinds.
package searchconsole
