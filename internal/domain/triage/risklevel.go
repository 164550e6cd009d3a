package triage

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// RiskLevel identifies one of the five urgency tiers.
type RiskLevel string

const (
	LevelImmediate  RiskLevel = "immediate"
	LevelVeryUrgent RiskLevel = "very_urgent"
	LevelUrgent     RiskLevel = "urgent"
	LevelLessUrgent RiskLevel = "less_urgent"
	LevelNonUrgent  RiskLevel = "non_urgent"
)

// unclassifiedRank sorts deferred ambulatory records behind every real level.
const unclassifiedRank = 99

// RiskLevelInfo is one row of the risk level table.
type RiskLevelInfo struct {
	ID           RiskLevel `yaml:"id" json:"id"`
	Label        string    `yaml:"label" json:"label"`
	Color        string    `yaml:"color" json:"color"`
	SLAMinutes   int       `yaml:"sla_minutes" json:"sla_minutes"`
	PriorityRank int       `yaml:"priority_rank" json:"priority_rank"`
}

// SLA returns the maximum wait allowed for the level.
func (r RiskLevelInfo) SLA() time.Duration {
	return time.Duration(r.SLAMinutes) * time.Minute
}

// RiskTable is the immutable lookup over the configured levels.
type RiskTable struct {
	levels []RiskLevelInfo
	byID   map[RiskLevel]RiskLevelInfo
	alias  map[string]RiskLevel
}

// NewRiskTable validates the rows and builds the lookup. Rows are ordered by
// priority rank; rank must strictly increase with the SLA threshold.
func NewRiskTable(rows []RiskLevelInfo) (*RiskTable, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("risk level table is empty")
	}
	sorted := make([]RiskLevelInfo, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PriorityRank < sorted[j].PriorityRank })

	t := &RiskTable{
		levels: sorted,
		byID:   make(map[RiskLevel]RiskLevelInfo, len(sorted)),
		alias:  make(map[string]RiskLevel, 2*len(sorted)),
	}
	for i, r := range sorted {
		if r.ID == "" {
			return nil, fmt.Errorf("risk level at rank %d has no id", r.PriorityRank)
		}
		if r.SLAMinutes < 0 {
			return nil, fmt.Errorf("risk level %s: sla_minutes must not be negative", r.ID)
		}
		if _, dup := t.byID[r.ID]; dup {
			return nil, fmt.Errorf("duplicate risk level %s", r.ID)
		}
		if i > 0 {
			prev := sorted[i-1]
			if prev.PriorityRank == r.PriorityRank {
				return nil, fmt.Errorf("risk levels %s and %s share priority rank %d", prev.ID, r.ID, r.PriorityRank)
			}
			if prev.SLAMinutes >= r.SLAMinutes {
				return nil, fmt.Errorf("risk level %s (rank %d) must have a longer SLA than %s (rank %d)",
					r.ID, r.PriorityRank, prev.ID, prev.PriorityRank)
			}
		}
		t.byID[r.ID] = r
		t.alias[strings.ToLower(string(r.ID))] = r.ID
		if r.Color != "" {
			t.alias[strings.ToLower(r.Color)] = r.ID
		}
	}
	return t, nil
}

// Levels returns the rows ordered from most to least urgent.
func (t *RiskTable) Levels() []RiskLevelInfo {
	out := make([]RiskLevelInfo, len(t.levels))
	copy(out, t.levels)
	return out
}

// Info returns the row for id.
func (t *RiskTable) Info(id RiskLevel) (RiskLevelInfo, bool) {
	r, ok := t.byID[id]
	return r, ok
}

// Rank returns the priority rank of a level; nil sorts last.
func (t *RiskTable) Rank(id *RiskLevel) int {
	if id == nil {
		return unclassifiedRank
	}
	if r, ok := t.byID[*id]; ok {
		return r.PriorityRank
	}
	return unclassifiedRank
}

// Parse resolves a level from its id or its color name.
func (t *RiskTable) Parse(s string) (RiskLevel, error) {
	if id, ok := t.alias[strings.ToLower(strings.TrimSpace(s))]; ok {
		return id, nil
	}
	return "", fmt.Errorf("%w: unknown risk level %q", ErrValidation, s)
}

// MostUrgent returns whichever of a and b has the lower rank.
func (t *RiskTable) MostUrgent(a, b *RiskLevel) *RiskLevel {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if t.Rank(b) < t.Rank(a) {
		return b
	}
	return a
}

// MarshalJSON exposes the table as its ordered rows.
func (t *RiskTable) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.levels)
}
