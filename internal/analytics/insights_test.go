package analytics

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/DevCabin/ClawLess/pkg/models"
)

func rec(date string, b models.BackendKind, in, out int64, cost float64, count int64) models.CostRecord {
	return models.CostRecord{Date: date, Backend: b, TokensIn: in, TokensOut: out, CostUSD: cost, ExecutionCount: count}
}

type staticSource struct {
	records []models.CostRecord
	err     error
	from    time.Time
}

func (s *staticSource) Range(_ context.Context, from, to time.Time) ([]models.CostRecord, error) {
	s.from = from
	if s.err != nil {
		return nil, s.err
	}
	f, t := models.LedgerDate(from), models.LedgerDate(to)
	var out []models.CostRecord
	for _, r := range s.records {
		if r.Date >= f && r.Date <= t {
			out = append(out, r)
		}
	}
	return out, nil
}

func sonnet() models.ModelPricing {
	p, _ := models.LookupPricing("claude-sonnet-4-20250514")
	return p
}

func TestSeverityConstants(t *testing.T) {
	tests := []struct {
		severity Severity
		expected string
	}{
		{SeverityInfo, "info"},
		{SeverityWarning, "warning"},
		{SeverityCritical, "critical"},
	}

	for _, tt := range tests {
		if string(tt.severity) != tt.expected {
			t.Errorf("expected severity %q, got %q", tt.expected, tt.severity)
		}
	}
}

func TestTotalsAndLocalShare(t *testing.T) {
	records := []models.CostRecord{
		rec("2026-03-01", models.BackendLocal, 100, 50, 0, 3),
		rec("2026-03-02", models.BackendLocal, 200, 70, 0, 5),
		rec("2026-03-02", models.BackendRemote, 1000, 400, 0.25, 2),
	}

	totals := Totals(records)
	local := totals[models.BackendLocal]
	if local.TokensIn != 300 || local.TokensOut != 120 || local.ExecutionCount != 8 {
		t.Errorf("unexpected local totals %+v", local)
	}
	if totals[models.BackendRemote].CostUSD != 0.25 {
		t.Errorf("unexpected remote cost %f", totals[models.BackendRemote].CostUSD)
	}

	if share := LocalShare(totals); share != 0.8 {
		t.Errorf("expected local share 0.8, got %f", share)
	}
	if share := LocalShare(Totals(nil)); share != 0 {
		t.Errorf("expected zero share for no executions, got %f", share)
	}
}

func TestEstimateSavings(t *testing.T) {
	totals := map[models.BackendKind]BackendTotals{
		models.BackendLocal: {TokensIn: 1_000_000, TokensOut: 100_000},
	}
	// 1M in at $3 plus 100k out at $15.
	if got := EstimateSavings(totals, sonnet()); math.Abs(got-4.5) > 1e-9 {
		t.Errorf("expected savings $4.50, got $%.4f", got)
	}
}

func TestDetectSpikes(t *testing.T) {
	var records []models.CostRecord
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		records = append(records, rec(models.LedgerDate(start.AddDate(0, 0, i)), models.BackendRemote, 0, 0, 1.0, 1))
	}
	// Local rows never count toward remote spikes.
	records = append(records, rec("2026-03-08", models.BackendLocal, 0, 0, 0, 50))
	records = append(records, rec("2026-03-08", models.BackendRemote, 0, 0, 2.0, 1))
	records = append(records, rec("2026-03-09", models.BackendRemote, 0, 0, 6.0, 1))

	spikes := DetectSpikes(records)
	if len(spikes) != 1 {
		t.Fatalf("expected one spike, got %+v", spikes)
	}
	s := spikes[0]
	if s.Date != "2026-03-09" {
		t.Errorf("expected spike on 2026-03-09, got %s", s.Date)
	}
	// Trailing window 03-02..03-08: six days at $1 plus $2.
	if math.Abs(s.AverageUSD-8.0/7) > 1e-9 {
		t.Errorf("unexpected trailing average %f", s.AverageUSD)
	}
}

func TestDetectSpikes_ExactlyDoubleIsNotSpike(t *testing.T) {
	records := []models.CostRecord{
		rec("2026-03-01", models.BackendRemote, 0, 0, 7, 1),
		rec("2026-03-02", models.BackendRemote, 0, 0, 2, 1),
	}
	if spikes := DetectSpikes(records); len(spikes) != 0 {
		t.Errorf("expected no spikes, got %+v", spikes)
	}
}

func TestDetectSpikes_NoHistory(t *testing.T) {
	records := []models.CostRecord{rec("2026-03-01", models.BackendRemote, 0, 0, 100, 1)}
	if spikes := DetectSpikes(records); len(spikes) != 0 {
		t.Errorf("expected no spikes without history, got %+v", spikes)
	}
}

func TestGenerateReport(t *testing.T) {
	src := &staticSource{records: []models.CostRecord{
		rec("2026-02-27", models.BackendRemote, 0, 0, 0.7, 1),
		rec("2026-03-01", models.BackendLocal, 2_000_000, 0, 0, 10),
		rec("2026-03-01", models.BackendRemote, 100_000, 10_000, 0.45, 2),
		rec("2026-03-02", models.BackendRemote, 400_000, 40_000, 1.8, 3),
	}}
	engine := NewInsightsEngine(src, sonnet())
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC)

	report, err := engine.GenerateReport(context.Background(), from, to)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := models.LedgerDate(src.from); got != "2026-02-22" {
		t.Errorf("expected lookback from 2026-02-22, got %s", got)
	}
	if report.From != "2026-03-01" || report.To != "2026-03-02" {
		t.Errorf("unexpected range %s..%s", report.From, report.To)
	}
	if report.TotalExecutions != 15 {
		t.Errorf("expected 15 executions, got %d", report.TotalExecutions)
	}
	if math.Abs(report.TotalCostUSD-2.25) > 1e-9 {
		t.Errorf("expected total cost 2.25, got %f", report.TotalCostUSD)
	}
	if math.Abs(report.EstimatedSavingsUSD-6.0) > 1e-9 {
		t.Errorf("expected savings 6.0, got %f", report.EstimatedSavingsUSD)
	}
	// 03-01 sits below 2x the 02-27 baseline; 03-02 is 1.8 against an
	// average of 0.575.
	if len(report.Spikes) != 1 || report.Spikes[0].Date != "2026-03-02" {
		t.Fatalf("expected one spike on 2026-03-02, got %+v", report.Spikes)
	}

	types := make(map[InsightType]int)
	for _, in := range report.Insights {
		types[in.Type]++
	}
	if types[InsightCostSpike] != 1 {
		t.Errorf("expected one spike insight, got %d", types[InsightCostSpike])
	}
	if types[InsightSavingsFound] != 1 {
		t.Errorf("expected a savings insight, got %d", types[InsightSavingsFound])
	}
	if types[InsightModelSwitch] != 1 {
		t.Errorf("expected a model switch insight, got %d", types[InsightModelSwitch])
	}
	if types[InsightLowLocalShare] != 0 {
		t.Errorf("did not expect a low local share insight at %.2f", report.LocalShare)
	}
}

func TestGenerateReport_Empty(t *testing.T) {
	engine := NewInsightsEngine(&staticSource{}, sonnet())
	now := time.Now()

	report, err := engine.GenerateReport(context.Background(), now, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.TotalExecutions != 0 || len(report.Insights) != 0 {
		t.Errorf("expected empty report, got %+v", report)
	}
	if report.Insights == nil {
		t.Error("expected non-nil insights slice")
	}
}

func TestGenerateReport_Errors(t *testing.T) {
	engine := NewInsightsEngine(&staticSource{err: errors.New("db down")}, sonnet())
	now := time.Now()

	if _, err := engine.GenerateReport(context.Background(), now, now); err == nil {
		t.Error("expected source error")
	}
	if _, err := engine.GenerateReport(context.Background(), now, now.AddDate(0, 0, -1)); err == nil {
		t.Error("expected error for inverted range")
	}
}

func TestPremiumModelAlternatives(t *testing.T) {
	for premium, alternative := range premiumModelAlternatives {
		if premium == alternative {
			t.Errorf("alternative should differ from premium model: %q", premium)
		}
		if _, ok := models.LookupPricing(alternative); !ok {
			t.Errorf("alternative %q for %q has no pricing", alternative, premium)
		}
	}
}
