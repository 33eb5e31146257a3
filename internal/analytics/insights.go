// Package analytics implements cost analytics over the daily ledger.
//
// The engine summarises ledger records for a period, estimates how much the
// local tier saved compared with sending everything to the remote model, and
// flags days where remote spend spiked above its trailing average.
package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/DevCabin/ClawLess/pkg/models"
)

// InsightType categorizes the kind of insight generated.
type InsightType string

const (
	InsightCostSpike     InsightType = "cost_spike"
	InsightModelSwitch   InsightType = "model_switch"
	InsightSavingsFound  InsightType = "savings_found"
	InsightLowLocalShare InsightType = "low_local_share"
)

// Severity indicates the urgency of an insight.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const (
	// SpikeThreshold is the multiple of the trailing average that counts as a spike.
	SpikeThreshold = 2.0
	// SpikeWindowDays is the trailing window in calendar days.
	SpikeWindowDays = 7
	// criticalSpike is the multiple at which a spike becomes critical.
	criticalSpike = 5.0
	// modelSwitchMinSpend is the period spend below which no switch is suggested.
	modelSwitchMinSpend = 1.0
	// lowLocalShare is the local share of executions that triggers a hint.
	lowLocalShare = 0.2
)

// premiumModelAlternatives maps remote models to cheaper siblings.
var premiumModelAlternatives = map[string]string{
	"claude-opus-4-20250514":     "claude-sonnet-4-20250514",
	"claude-sonnet-4-20250514":   "claude-3-5-haiku-20241022",
	"claude-sonnet-4-5-20250929": "claude-3-5-haiku-20241022",
	"gpt-4o":                     "gpt-4o-mini",
	"gpt-4.1":                    "gpt-4o-mini",
}

// Insight represents an actionable recommendation or alert.
type Insight struct {
	ID              string      `json:"id"`
	Type            InsightType `json:"type"`
	Severity        Severity    `json:"severity"`
	Title           string      `json:"title"`
	Description     string      `json:"description"`
	EstimatedSaving float64     `json:"estimated_saving"`
	AffectedEntity  string      `json:"affected_entity"`
	CreatedAt       time.Time   `json:"created_at"`
}

// BackendTotals aggregates one backend over a period.
type BackendTotals struct {
	TokensIn       int64   `json:"tokens_in"`
	TokensOut      int64   `json:"tokens_out"`
	CostUSD        float64 `json:"cost_usd"`
	ExecutionCount int64   `json:"execution_count"`
}

// Totals sums records per backend.
func Totals(records []models.CostRecord) map[models.BackendKind]BackendTotals {
	out := make(map[models.BackendKind]BackendTotals, 2)
	for _, r := range records {
		t := out[r.Backend]
		t.TokensIn += r.TokensIn
		t.TokensOut += r.TokensOut
		t.CostUSD += r.CostUSD
		t.ExecutionCount += r.ExecutionCount
		out[r.Backend] = t
	}
	return out
}

// LocalShare returns the fraction of executions served locally, or 0 when
// there were none.
func LocalShare(totals map[models.BackendKind]BackendTotals) float64 {
	local := totals[models.BackendLocal].ExecutionCount
	all := local + totals[models.BackendRemote].ExecutionCount
	if all == 0 {
		return 0
	}
	return float64(local) / float64(all)
}

// EstimateSavings prices the local tier's tokens at the remote model's rates.
func EstimateSavings(totals map[models.BackendKind]BackendTotals, remote models.ModelPricing) float64 {
	l := totals[models.BackendLocal]
	return remote.Cost(l.TokensIn, l.TokensOut)
}

// Spike is a day whose remote spend exceeded SpikeThreshold times its
// trailing average.
type Spike struct {
	Date       string  `json:"date"`
	CostUSD    float64 `json:"cost_usd"`
	AverageUSD float64 `json:"average_usd"`
	Multiple   float64 `json:"multiple"`
}

// DetectSpikes scans remote spend in records. The trailing average covers the
// days with remote spend among the preceding SpikeWindowDays calendar days; a
// day with no such history is never a spike.
func DetectSpikes(records []models.CostRecord) []Spike {
	daily := make(map[string]float64)
	for _, r := range records {
		if r.Backend == models.BackendRemote {
			daily[r.Date] += r.CostUSD
		}
	}

	days := make([]string, 0, len(daily))
	for d := range daily {
		days = append(days, d)
	}
	sort.Strings(days)

	var spikes []Spike
	for _, d := range days {
		day, err := time.Parse(models.DateLayout, d)
		if err != nil {
			continue
		}
		var sum float64
		var n int
		for i := 1; i <= SpikeWindowDays; i++ {
			if c, ok := daily[day.AddDate(0, 0, -i).Format(models.DateLayout)]; ok {
				sum += c
				n++
			}
		}
		if n == 0 || sum <= 0 {
			continue
		}
		avg := sum / float64(n)
		if cost := daily[d]; cost > avg*SpikeThreshold {
			spikes = append(spikes, Spike{Date: d, CostUSD: cost, AverageUSD: avg, Multiple: cost / avg})
		}
	}
	return spikes
}

// Report is a summary of usage and costs over a time period.
type Report struct {
	From                string                               `json:"from"`
	To                  string                               `json:"to"`
	TotalCostUSD        float64                              `json:"total_cost_usd"`
	TotalExecutions     int64                                `json:"total_executions"`
	TotalTokens         int64                                `json:"total_tokens"`
	Backends            map[models.BackendKind]BackendTotals `json:"backends"`
	LocalShare          float64                              `json:"local_share"`
	EstimatedSavingsUSD float64                              `json:"estimated_savings_usd"`
	Spikes              []Spike                              `json:"spikes,omitempty"`
	Insights            []Insight                            `json:"insights"`
}

// RecordSource reads ledger records by UTC date range. *ledger.Ledger
// satisfies it.
type RecordSource interface {
	Range(ctx context.Context, from, to time.Time) ([]models.CostRecord, error)
}

// InsightsEngine generates reports and insights from the ledger.
type InsightsEngine struct {
	source  RecordSource
	pricing models.ModelPricing
	now     func() time.Time
}

// NewInsightsEngine creates a new InsightsEngine. pricing is the remote
// model's price, used to value local executions.
func NewInsightsEngine(source RecordSource, pricing models.ModelPricing) *InsightsEngine {
	return &InsightsEngine{source: source, pricing: pricing, now: time.Now}
}

// GenerateReport summarises [from, to] by UTC date. Records from the
// SpikeWindowDays before from are read so early days get a full average.
func (e *InsightsEngine) GenerateReport(ctx context.Context, from, to time.Time) (*Report, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("report range: to %s is before from %s", models.LedgerDate(to), models.LedgerDate(from))
	}
	all, err := e.source.Range(ctx, from.AddDate(0, 0, -SpikeWindowDays), to)
	if err != nil {
		return nil, fmt.Errorf("generating report: %w", err)
	}

	fromKey, toKey := models.LedgerDate(from), models.LedgerDate(to)
	var inRange []models.CostRecord
	for _, r := range all {
		if r.Date >= fromKey && r.Date <= toKey {
			inRange = append(inRange, r)
		}
	}

	totals := Totals(inRange)
	report := &Report{
		From:                fromKey,
		To:                  toKey,
		Backends:            totals,
		LocalShare:          LocalShare(totals),
		EstimatedSavingsUSD: round(EstimateSavings(totals, e.pricing)),
		Insights:            []Insight{},
	}
	for _, t := range totals {
		report.TotalCostUSD += t.CostUSD
		report.TotalExecutions += t.ExecutionCount
		report.TotalTokens += t.TokensIn + t.TokensOut
	}
	report.TotalCostUSD = round(report.TotalCostUSD)

	for _, s := range DetectSpikes(all) {
		if s.Date >= fromKey && s.Date <= toKey {
			report.Spikes = append(report.Spikes, s)
		}
	}

	report.Insights = append(report.Insights, e.spikeInsights(report.Spikes)...)
	report.Insights = append(report.Insights, e.usageInsights(report)...)
	return report, nil
}

func (e *InsightsEngine) spikeInsights(spikes []Spike) []Insight {
	insights := make([]Insight, 0, len(spikes))
	for _, s := range spikes {
		severity := SeverityWarning
		if s.Multiple >= criticalSpike {
			severity = SeverityCritical
		}
		insights = append(insights, Insight{
			ID:       "spike-remote-" + s.Date,
			Type:     InsightCostSpike,
			Severity: severity,
			Title:    fmt.Sprintf("Remote spend spike: %.1fx above average", s.Multiple),
			Description: fmt.Sprintf(
				"On %s, remote inference cost $%.4f, which is %.1fx the %d-day trailing average of $%.4f.",
				s.Date, s.CostUSD, s.Multiple, SpikeWindowDays, s.AverageUSD,
			),
			EstimatedSaving: round(s.CostUSD - s.AverageUSD),
			AffectedEntity:  string(models.BackendRemote),
			CreatedAt:       e.now(),
		})
	}
	return insights
}

func (e *InsightsEngine) usageInsights(r *Report) []Insight {
	var insights []Insight
	remote := r.Backends[models.BackendRemote]

	if r.EstimatedSavingsUSD > 0 {
		insights = append(insights, Insight{
			ID:       fmt.Sprintf("savings-%s-%s", r.From, r.To),
			Type:     InsightSavingsFound,
			Severity: SeverityInfo,
			Title:    fmt.Sprintf("Local inference saved ~$%.2f", r.EstimatedSavingsUSD),
			Description: fmt.Sprintf(
				"%d of %d executions ran locally. At %s rates they would have cost $%.4f.",
				r.Backends[models.BackendLocal].ExecutionCount, r.TotalExecutions, e.pricing.Model, r.EstimatedSavingsUSD,
			),
			EstimatedSaving: r.EstimatedSavingsUSD,
			AffectedEntity:  string(models.BackendLocal),
			CreatedAt:       e.now(),
		})
	}

	if r.TotalExecutions > 0 && r.LocalShare < lowLocalShare {
		insights = append(insights, Insight{
			ID:       fmt.Sprintf("local-share-%s-%s", r.From, r.To),
			Type:     InsightLowLocalShare,
			Severity: SeverityInfo,
			Title:    fmt.Sprintf("Only %.0f%% of executions ran locally", r.LocalShare*100),
			Description: "Most tasks scored above the remote threshold or failed local validation. " +
				"Check local backend health and the quality of its responses.",
			AffectedEntity: string(models.BackendLocal),
			CreatedAt:      e.now(),
		})
	}

	if cheaper, ok := premiumModelAlternatives[e.pricing.Model]; ok && remote.CostUSD > modelSwitchMinSpend {
		if alt, ok := models.LookupPricing(cheaper); ok {
			saving := remote.CostUSD - alt.Cost(remote.TokensIn, remote.TokensOut)
			if saving > 0 {
				insights = append(insights, Insight{
					ID:       fmt.Sprintf("switch-%s-%s", e.pricing.Provider, e.pricing.Model),
					Type:     InsightModelSwitch,
					Severity: SeverityInfo,
					Title:    fmt.Sprintf("Consider switching %s to %s", e.pricing.Model, cheaper),
					Description: fmt.Sprintf(
						"Remote spend was $%.2f over %d executions. The same tokens on %s would cost ~$%.2f less.",
						remote.CostUSD, remote.ExecutionCount, cheaper, saving,
					),
					EstimatedSaving: round(saving),
					AffectedEntity:  e.pricing.Model,
					CreatedAt:       e.now(),
				})
			}
		}
	}
	return insights
}

func round(v float64) float64 {
	return math.Round(v*10000) / 10000
}
