package triage

import (
	"testing"
	"time"
)

func mustSLA(t *testing.T, grace int) *SLAEvaluator {
	t.Helper()
	e, err := NewSLAEvaluator(mustCatalog(t).Risk, grace)
	if err != nil {
		t.Fatalf("NewSLAEvaluator: %v", err)
	}
	return e
}

func TestSLAEvaluator_Boundaries(t *testing.T) {
	e := mustSLA(t, DefaultGracePercent)
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		level   RiskLevel
		elapsed time.Duration
		want    SLAStatus
	}{
		{LevelUrgent, 0, SLANormal},
		{LevelUrgent, 60 * time.Minute, SLANormal},
		{LevelUrgent, 61 * time.Minute, SLAWarning},
		{LevelUrgent, 75 * time.Minute, SLAWarning},
		{LevelUrgent, 76 * time.Minute, SLABreached},
		{LevelVeryUrgent, 10 * time.Minute, SLANormal},
		{LevelVeryUrgent, 12 * time.Minute, SLAWarning},
		{LevelVeryUrgent, 13 * time.Minute, SLABreached},
		{LevelImmediate, 0, SLANormal},
		{LevelImmediate, time.Second, SLABreached},
		{LevelNonUrgent, 300 * time.Minute, SLAWarning},
		{LevelNonUrgent, 301 * time.Minute, SLABreached},
	}
	for _, tt := range tests {
		got, ok := e.Evaluate(tt.level, created, created.Add(tt.elapsed))
		if !ok {
			t.Errorf("%s after %s: unexpected unknown level", tt.level, tt.elapsed)
			continue
		}
		if got != tt.want {
			t.Errorf("%s after %s = %s, want %s", tt.level, tt.elapsed, got, tt.want)
		}
	}
}

func TestSLAEvaluator_Monotonic(t *testing.T) {
	e := mustSLA(t, DefaultGracePercent)
	order := map[SLAStatus]int{SLANormal: 0, SLAWarning: 1, SLABreached: 2}
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for _, info := range mustCatalog(t).Risk.Levels() {
		prev := -1
		for m := 0; m <= 400; m++ {
			st, ok := e.Evaluate(info.ID, created, created.Add(time.Duration(m)*time.Minute))
			if !ok {
				t.Fatalf("%s: unknown level", info.ID)
			}
			if order[st] < prev {
				t.Fatalf("%s regressed to %s at minute %d", info.ID, st, m)
			}
			prev = order[st]
		}
		if prev != order[SLABreached] {
			t.Errorf("%s never breached within 400 minutes", info.ID)
		}
	}
}

func TestSLAEvaluator_ZeroGrace(t *testing.T) {
	e := mustSLA(t, 0)
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if st, _ := e.Evaluate(LevelUrgent, created, created.Add(61*time.Minute)); st != SLABreached {
		t.Errorf("with no grace window, status = %s, want breached", st)
	}
}

func TestSLAEvaluator_UnknownLevelAndNegativeGrace(t *testing.T) {
	e := mustSLA(t, DefaultGracePercent)
	if _, ok := e.Evaluate("purple", time.Now(), time.Now()); ok {
		t.Error("expected unknown level to report false")
	}
	if _, err := NewSLAEvaluator(mustCatalog(t).Risk, -5); err == nil {
		t.Error("expected error for negative grace percent")
	}
	if e.GracePercent() != DefaultGracePercent {
		t.Errorf("GracePercent = %d", e.GracePercent())
	}
}
