// Package reports builds comparative performance reports from stored metric
// rows: period totals, deltas against the preceding equal-length period,
// ranked top pages and queries, and a data-coverage ratio.
package reports
