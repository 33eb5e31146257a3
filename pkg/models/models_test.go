package models

import (
	"math"
	"testing"
	"time"
)

func TestParseRoutingMode(t *testing.T) {
	tests := []struct {
		in      string
		want    RoutingMode
		wantErr bool
	}{
		{"", ModeAuto, false},
		{"auto", ModeAuto, false},
		{"remote-only", ModeRemoteOnly, false},
		{"REMOTE_ONLY", ModeRemoteOnly, false},
		{"local_only", ModeLocalOnly, false},
		{"sideways", "", true},
	}

	for _, tt := range tests {
		got, err := ParseRoutingMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRoutingMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRoutingMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestModelPricing_Cost(t *testing.T) {
	p := ModelPricing{InputPerMToken: 3.0, OutputPerMToken: 15.0}
	got := p.Cost(1_000_000, 100_000)
	if math.Abs(got-4.5) > 1e-9 {
		t.Errorf("Cost() = %f, want 4.5", got)
	}
	if p.Cost(0, 0) != 0 {
		t.Error("expected zero cost for zero tokens")
	}
}

func TestLedgerDate_UsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*60*60)
	ts := time.Date(2026, 3, 2, 5, 0, 0, 0, loc)
	if got := LedgerDate(ts); got != "2026-03-01" {
		t.Errorf("LedgerDate() = %s, want 2026-03-01", got)
	}
}

func TestTaskValidate(t *testing.T) {
	if err := (&Task{Kind: KindExtraction, Prompt: "  "}).Validate(); err == nil {
		t.Error("expected error for blank prompt")
	}
	if err := (&Task{Kind: KindExtraction, Prompt: "x", ToolCount: -1}).Validate(); err == nil {
		t.Error("expected error for negative tool count")
	}
	if err := (&Task{Kind: KindExtraction, Prompt: "x"}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
