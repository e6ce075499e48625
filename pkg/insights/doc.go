// Package insights turns period aggregates into narrative insights,
// recommendations, and a fixed-size list of follow-up tasks. A deterministic
// rule baseline always runs; an optional text-generation enricher decorates
// it and falls back to the baseline on any failure.
package insights
