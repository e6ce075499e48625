// Package collector pulls one site's search performance for one calendar
// date from the upstream analytics API and persists it through the metrics
// store. Collection is idempotent per (site, date).
package collector
