package triage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func ptr[T any](v T) *T { return &v }

func mustCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := DefaultCatalog()
	if err != nil {
		t.Fatalf("DefaultCatalog: %v", err)
	}
	return c
}

func TestDefaultCatalog_RiskLevels(t *testing.T) {
	c := mustCatalog(t)
	levels := c.Risk.Levels()
	if len(levels) != 5 {
		t.Fatalf("expected 5 risk levels, got %d", len(levels))
	}
	want := []struct {
		id    RiskLevel
		color string
		sla   int
	}{
		{LevelImmediate, "red", 0},
		{LevelVeryUrgent, "orange", 10},
		{LevelUrgent, "yellow", 60},
		{LevelLessUrgent, "green", 120},
		{LevelNonUrgent, "blue", 240},
	}
	for i, w := range want {
		got := levels[i]
		if got.ID != w.id || got.Color != w.color || got.SLAMinutes != w.sla || got.PriorityRank != i+1 {
			t.Errorf("level %d = %+v, want id=%s color=%s sla=%d rank=%d", i, got, w.id, w.color, w.sla, i+1)
		}
	}
}

func TestDefaultCatalog_ProtocolOrder(t *testing.T) {
	c := mustCatalog(t)
	var ids []string
	for _, p := range c.Protocols() {
		ids = append(ids, p.ID)
	}
	want := "hypertensive_crisis,acute_myocardial_infarction,acute_stroke,dengue,covid19"
	if got := strings.Join(ids, ","); got != want {
		t.Errorf("protocol order = %s, want %s", got, want)
	}
}

func TestCatalog_ProtocolLookup(t *testing.T) {
	c := mustCatalog(t)
	p, ok := c.Protocol("dengue")
	if !ok {
		t.Fatal("expected dengue protocol")
	}
	if p.SuggestedLevel != LevelVeryUrgent {
		t.Errorf("dengue suggested level = %s, want %s", p.SuggestedLevel, LevelVeryUrgent)
	}
	if _, ok := c.Protocol("unknown"); ok {
		t.Error("expected unknown protocol lookup to fail")
	}
}

func TestCatalog_ProtocolsReturnsCopy(t *testing.T) {
	c := mustCatalog(t)
	ps := c.Protocols()
	ps[0].ID = "mutated"
	if c.Protocols()[0].ID == "mutated" {
		t.Error("Protocols must not expose the internal slice")
	}
}

func TestRiskTable_Parse(t *testing.T) {
	c := mustCatalog(t)
	tests := []struct {
		in   string
		want RiskLevel
	}{
		{"immediate", LevelImmediate},
		{"RED", LevelImmediate},
		{" Orange ", LevelVeryUrgent},
		{"urgent", LevelUrgent},
		{"green", LevelLessUrgent},
		{"blue", LevelNonUrgent},
	}
	for _, tt := range tests {
		got, err := c.Risk.Parse(tt.in)
		if err != nil {
			t.Errorf("Parse(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
	if _, err := c.Risk.Parse("purple"); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for unknown level, got %v", err)
	}
}

func TestRiskTable_RankAndMostUrgent(t *testing.T) {
	c := mustCatalog(t)
	if got := c.Risk.Rank(nil); got != unclassifiedRank {
		t.Errorf("Rank(nil) = %d, want %d", got, unclassifiedRank)
	}
	if got := c.Risk.Rank(ptr(LevelUrgent)); got != 3 {
		t.Errorf("Rank(urgent) = %d, want 3", got)
	}
	got := c.Risk.MostUrgent(ptr(LevelUrgent), ptr(LevelVeryUrgent))
	if got == nil || *got != LevelVeryUrgent {
		t.Errorf("MostUrgent(urgent, very_urgent) = %v, want very_urgent", got)
	}
	if got := c.Risk.MostUrgent(nil, ptr(LevelNonUrgent)); got == nil || *got != LevelNonUrgent {
		t.Errorf("MostUrgent(nil, non_urgent) = %v", got)
	}
}

func TestNewRiskTable_RejectsNonMonotonicSLA(t *testing.T) {
	_, err := NewRiskTable([]RiskLevelInfo{
		{ID: "a", SLAMinutes: 10, PriorityRank: 1},
		{ID: "b", SLAMinutes: 5, PriorityRank: 2},
	})
	if err == nil {
		t.Fatal("expected error for SLA decreasing with rank")
	}
}

func TestNewRiskTable_RejectsDuplicates(t *testing.T) {
	tests := []struct {
		name string
		rows []RiskLevelInfo
	}{
		{"empty", nil},
		{"duplicate id", []RiskLevelInfo{{ID: "a", SLAMinutes: 0, PriorityRank: 1}, {ID: "a", SLAMinutes: 5, PriorityRank: 2}}},
		{"duplicate rank", []RiskLevelInfo{{ID: "a", SLAMinutes: 0, PriorityRank: 1}, {ID: "b", SLAMinutes: 5, PriorityRank: 1}}},
		{"missing id", []RiskLevelInfo{{SLAMinutes: 0, PriorityRank: 1}}},
		{"negative sla", []RiskLevelInfo{{ID: "a", SLAMinutes: -1, PriorityRank: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRiskTable(tt.rows); err == nil {
				t.Error("expected error")
			}
		})
	}
}

const minimalLevels = `
risk_levels:
  - {id: immediate, color: red, sla_minutes: 0, priority_rank: 1}
  - {id: urgent, color: yellow, sla_minutes: 60, priority_rank: 2}
`

func TestParseCatalog_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad yaml", "risk_levels: [::"},
		{"missing protocol id", minimalLevels + `
protocols:
  - {name: x, keywords: [a], min_keyword_hits: 1, suggested_level: urgent}
`},
		{"duplicate protocol", minimalLevels + `
protocols:
  - {id: p, keywords: [a], min_keyword_hits: 1, suggested_level: urgent}
  - {id: p, keywords: [b], min_keyword_hits: 1, suggested_level: urgent}
`},
		{"no keywords", minimalLevels + `
protocols:
  - {id: p, min_keyword_hits: 1, suggested_level: urgent}
`},
		{"zero min hits", minimalLevels + `
protocols:
  - {id: p, keywords: [a], min_keyword_hits: 0, suggested_level: urgent}
`},
		{"unknown level", minimalLevels + `
protocols:
  - {id: p, keywords: [a], min_keyword_hits: 1, suggested_level: purple}
`},
		{"unknown field", minimalLevels + `
protocols:
  - id: p
    keywords: [a]
    min_keyword_hits: 1
    suggested_level: urgent
    vitals: {mode: any, conditions: [{field: glucose, op: gt, value: 1}]}
`},
		{"unknown op", minimalLevels + `
protocols:
  - id: p
    keywords: [a]
    min_keyword_hits: 1
    suggested_level: urgent
    vitals: {mode: any, conditions: [{field: temperature, op: eq, value: 1}]}
`},
		{"unknown mode", minimalLevels + `
protocols:
  - id: p
    keywords: [a]
    min_keyword_hits: 1
    suggested_level: urgent
    vitals: {mode: some, conditions: [{field: temperature, op: gt, value: 1}]}
`},
		{"empty alert predicate", minimalLevels + `
vital_alerts:
  - {message: x, level: urgent, when: {mode: any}}
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseCatalog([]byte(tt.yaml)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseCatalog_NormalizesKeywords(t *testing.T) {
	c, err := ParseCatalog([]byte(minimalLevels + `
protocols:
  - {id: p, keywords: ["  Dor   NO Peito! "], min_keyword_hits: 1, suggested_level: urgent}
`))
	if err != nil {
		t.Fatalf("ParseCatalog: %v", err)
	}
	if got := c.Protocols()[0].Keywords[0]; got != "dor no peito" {
		t.Errorf("keyword = %q, want %q", got, "dor no peito")
	}
}

func TestLoadCatalog_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	content := minimalLevels + `
protocols:
  - {id: only, keywords: [tosse], min_keyword_hits: 1, suggested_level: urgent}
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if len(c.Protocols()) != 1 {
		t.Errorf("expected 1 protocol, got %d", len(c.Protocols()))
	}

	if _, err := LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := LoadCatalog(""); err != nil {
		t.Errorf("empty path should load the embedded catalog: %v", err)
	}
}
