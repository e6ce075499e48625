package insights

import (
	"context"
	"fmt"

	"github.com/platinummonkey/searchpulse/pkg/observability"
	"github.com/platinummonkey/searchpulse/pkg/store"
)

// Deltas carries a period's aggregates and their change versus the previous
// period. Change fields are percentages except PositionChange, which is a
// point change where negative means the site moved up.
type Deltas struct {
	Clicks      int64
	Impressions int64
	AvgCTR      float64
	AvgPosition float64

	ClicksChange      float64
	ImpressionsChange float64
	CTRChange         float64
	PositionChange    float64

	DataCoverage float64
}

// Result is a set of narrative insights and actionable recommendations
type Result struct {
	Insights        []string `json:"insights"`
	Recommendations []string `json:"recommendations"`
}

// Task is one follow-up work item derived from a report
type Task struct {
	Title    string `json:"title"`
	Detail   string `json:"detail"`
	Priority int    `json:"priority"`
}

// Synthesizer produces insights from period aggregates. Implementations
// never return an error; a synthesizer that cannot do better falls back to
// the deterministic baseline.
type Synthesizer interface {
	Synthesize(ctx context.Context, d Deltas, topPages, topQueries []store.TopEntry) Result
}

// thresholds for the baseline decision table, in percent
const (
	dropThreshold = -10.0
	riseThreshold = 10.0
	flatBand      = 5.0
)

// Baseline is the deterministic rule-based synthesizer. It reads the delta
// buckets off a fixed decision table so the same aggregates always produce
// the same text.
type Baseline struct {
	maxRecommendations int
}

// NewBaseline creates the rule-based synthesizer
func NewBaseline() *Baseline {
	return &Baseline{maxRecommendations: 5}
}

// Synthesize applies the decision table to the deltas
func (b *Baseline) Synthesize(_ context.Context, d Deltas, topPages, topQueries []store.TopEntry) Result {
	var res Result

	switch {
	case d.ClicksChange <= dropThreshold && d.ImpressionsChange <= dropThreshold:
		res.Insights = append(res.Insights, fmt.Sprintf(
			"Clicks fell %.1f%% alongside a %.1f%% impressions drop, which points at lost rankings or an algorithm update rather than a listing problem.",
			-d.ClicksChange, -d.ImpressionsChange))
		res.Recommendations = append(res.Recommendations,
			"Review ranking changes for your top queries and check for recent search algorithm updates.")
	case d.ClicksChange <= dropThreshold && within(d.ImpressionsChange, flatBand):
		res.Insights = append(res.Insights, fmt.Sprintf(
			"Clicks fell %.1f%% while impressions held steady: the site is still being shown but the listing is attracting fewer clicks.",
			-d.ClicksChange))
		res.Recommendations = append(res.Recommendations,
			"Rework titles and meta descriptions on the highest-impression pages to improve click-through.")
	case d.ClicksChange >= riseThreshold:
		res.Insights = append(res.Insights, fmt.Sprintf(
			"Clicks grew %.1f%% over the previous period.", d.ClicksChange))
	}

	if within(d.ImpressionsChange, flatBand) && d.CTRChange <= dropThreshold {
		res.Insights = append(res.Insights, fmt.Sprintf(
			"CTR dropped %.1f%% on flat impressions, suggesting the search listing has become less attractive against competing results.",
			-d.CTRChange))
		res.Recommendations = append(res.Recommendations,
			"Compare your snippets against competing results and add structured data where it is missing.")
	}

	if d.PositionChange <= -0.5 && within(d.ClicksChange, flatBand) {
		res.Insights = append(res.Insights, fmt.Sprintf(
			"Average position improved by %.1f places without a matching click gain yet; rising pages are an opportunity for content refreshes.",
			-d.PositionChange))
		res.Recommendations = append(res.Recommendations,
			"Refresh content on pages that recently climbed positions to capture the additional visibility.")
	} else if d.PositionChange >= 0.5 {
		res.Insights = append(res.Insights, fmt.Sprintf(
			"Average position slipped by %.1f places.", d.PositionChange))
		res.Recommendations = append(res.Recommendations,
			"Audit pages that lost positions for stale content, slow loads, or broken internal links.")
	}

	if len(topQueries) > 0 {
		res.Insights = append(res.Insights, fmt.Sprintf(
			"%q remains the top performing query with %d clicks.", topQueries[0].Key, topQueries[0].Clicks))
	}
	if len(topPages) > 0 && topPages[0].Position > 10 {
		res.Recommendations = append(res.Recommendations, fmt.Sprintf(
			"Your top page %s averages position %.1f; on-page optimization could move it onto the first page.",
			topPages[0].Key, topPages[0].Position))
	}

	if d.DataCoverage > 0 && d.DataCoverage < 1 {
		res.Insights = append(res.Insights, fmt.Sprintf(
			"Metrics cover %.0f%% of the period; missing days understate the totals.", d.DataCoverage*100))
	}

	if len(res.Insights) == 0 {
		res.Insights = append(res.Insights,
			"Search performance held steady against the previous period with no significant movements.")
	}
	if len(res.Recommendations) == 0 {
		res.Recommendations = append(res.Recommendations,
			"Keep publishing on the topics behind your top queries to consolidate current rankings.")
	}
	if len(res.Recommendations) > b.maxRecommendations {
		res.Recommendations = res.Recommendations[:b.maxRecommendations]
	}

	return res
}

func within(v, band float64) bool {
	return v > -band && v < band
}

// generalBacklog pads task lists when detections come up short
var generalBacklog = []Task{
	{Title: "Review top query rankings", Detail: "Track position movement for the ten highest-click queries.", Priority: 3},
	{Title: "Refresh stale content", Detail: "Update pages older than six months among the top clicked pages.", Priority: 3},
	{Title: "Improve internal linking", Detail: "Link from high-traffic pages to pages ranking just off the first page.", Priority: 4},
	{Title: "Audit page speed", Detail: "Run a load-time audit on the top ten pages by impressions.", Priority: 4},
	{Title: "Expand keyword coverage", Detail: "Draft content for high-impression queries with weak click-through.", Priority: 5},
	{Title: "Check structured data", Detail: "Validate schema markup across templates used by the top pages.", Priority: 5},
}

// Tasks derives an exact, fixed-size list of follow-up work items. Technical
// issues sort ahead of optimization suggestions; the general backlog pads
// the list when detections are fewer than count.
func Tasks(d Deltas, issues []string, count int) []Task {
	if count < 1 {
		count = 1
	}

	var tasks []Task
	for _, issue := range issues {
		tasks = append(tasks, Task{
			Title:    "Fix technical issue",
			Detail:   issue,
			Priority: 1,
		})
	}

	if d.ClicksChange <= dropThreshold {
		tasks = append(tasks, Task{
			Title:    "Investigate click decline",
			Detail:   fmt.Sprintf("Clicks dropped %.1f%% versus the previous period; identify which queries lost traffic.", -d.ClicksChange),
			Priority: 2,
		})
	}
	if d.CTRChange <= dropThreshold {
		tasks = append(tasks, Task{
			Title:    "Improve listing click-through",
			Detail:   "Rewrite titles and descriptions on the highest-impression pages.",
			Priority: 2,
		})
	}
	if d.PositionChange >= 0.5 {
		tasks = append(tasks, Task{
			Title:    "Recover lost positions",
			Detail:   fmt.Sprintf("Average position slipped %.1f places; audit the affected pages.", d.PositionChange),
			Priority: 2,
		})
	}

	// The backlog cycles so the list always reaches count exactly, however
	// large the caller's count is relative to the detections.
	for i := 0; len(tasks) < count; i++ {
		t := generalBacklog[i%len(generalBacklog)]
		if pass := i / len(generalBacklog); pass > 0 {
			t.Detail = fmt.Sprintf("%s (follow-up pass %d)", t.Detail, pass+1)
		}
		tasks = append(tasks, t)
	}
	if len(tasks) > count {
		tasks = tasks[:count]
	}
	return tasks
}

// Enriched decorates a baseline synthesizer with an external enricher. Any
// enrichment failure falls back to the baseline result unmodified.
type Enriched struct {
	baseline Synthesizer
	enricher Enricher
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewEnriched wraps baseline with enricher
func NewEnriched(baseline Synthesizer, enricher Enricher, logger *observability.Logger, metrics *observability.Metrics) *Enriched {
	return &Enriched{baseline: baseline, enricher: enricher, logger: logger, metrics: metrics}
}

// Synthesize returns the enriched result when the enricher succeeds, the
// baseline otherwise. It never returns an error.
func (e *Enriched) Synthesize(ctx context.Context, d Deltas, topPages, topQueries []store.TopEntry) Result {
	base := e.baseline.Synthesize(ctx, d, topPages, topQueries)

	enriched, err := e.enricher.Enrich(ctx, d, topPages, topQueries, base)
	if err != nil || len(enriched.Insights) == 0 {
		if e.metrics != nil {
			e.metrics.EnrichmentFallbacks.Inc()
		}
		if e.logger != nil {
			e.logger.WithError(err).Warn("insight enrichment failed, using baseline")
		}
		return base
	}
	if len(enriched.Recommendations) == 0 {
		enriched.Recommendations = base.Recommendations
	}
	return enriched
}
