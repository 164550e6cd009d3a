package triage

import (
	"strings"
	"unicode"
)

// ProtocolMatch is what the matcher hands to the classification engine.
type ProtocolMatch struct {
	ProtocolID         string    `json:"protocol_id"`
	ProtocolName       string    `json:"protocol_name"`
	KeywordHits        int       `json:"keyword_hits"`
	MatchedKeywords    []string  `json:"matched_keywords"`
	SuggestedLevel     RiskLevel `json:"suggested_level"`
	SuggestedDiagnoses []string  `json:"suggested_diagnoses"`
	SuggestedConduct   string    `json:"suggested_conduct"`
}

// VitalAlert is an advisory finding on the vital signs.
type VitalAlert struct {
	Message string    `json:"message"`
	Level   RiskLevel `json:"level"`
}

// normalizeText lowercases, splits on whitespace, strips punctuation from the
// edges of every token and joins the tokens back with single spaces.
func normalizeText(s string) string {
	fields := strings.Fields(strings.ToLower(s))
	out := fields[:0]
	for _, f := range fields {
		f = strings.TrimFunc(f, unicode.IsPunct)
		if f != "" {
			out = append(out, f)
		}
	}
	return strings.Join(out, " ")
}

// keywordHits counts how many distinct keywords occur in the normalized text.
func keywordHits(text string, keywords []string) []string {
	var hits []string
	for _, kw := range keywords {
		if kw != "" && strings.Contains(text, kw) {
			hits = append(hits, kw)
		}
	}
	return hits
}

// Match walks the catalog in order and returns the first protocol whose
// keyword threshold and vital predicate both hold. It never mutates anything
// and is safe for concurrent use.
func (c *Catalog) Match(complaint string, vitals VitalSigns) (*ProtocolMatch, bool) {
	text := normalizeText(complaint)
	if text == "" {
		return nil, false
	}
	for _, p := range c.protocols {
		hits := keywordHits(text, p.Keywords)
		if len(hits) < p.MinKeywordHits {
			continue
		}
		if !p.Vitals.Eval(vitals) {
			continue
		}
		return &ProtocolMatch{
			ProtocolID:         p.ID,
			ProtocolName:       p.Name,
			KeywordHits:        len(hits),
			MatchedKeywords:    hits,
			SuggestedLevel:     p.SuggestedLevel,
			SuggestedDiagnoses: append([]string(nil), p.SuggestedDiagnoses...),
			SuggestedConduct:   p.SuggestedConduct,
		}, true
	}
	return nil, false
}

// AnalyzeVitals lists the advisory alerts raised by the readings.
func (c *Catalog) AnalyzeVitals(vitals VitalSigns) []VitalAlert {
	var alerts []VitalAlert
	for i := range c.vitalAlerts {
		rule := &c.vitalAlerts[i]
		if rule.When.Eval(vitals) {
			alerts = append(alerts, VitalAlert{Message: rule.Message, Level: rule.Level})
		}
	}
	return alerts
}

// Analysis is the side-effect-free preview of a complaint.
type Analysis struct {
	Match          *ProtocolMatch `json:"match,omitempty"`
	SuggestedLevel *RiskLevel     `json:"suggested_level,omitempty"`
	VitalAlerts    []VitalAlert   `json:"vital_alerts,omitempty"`
	VitalsLevel    *RiskLevel     `json:"vitals_level,omitempty"`
}

// Analyze previews what a triage with this complaint and vitals would suggest.
func (c *Catalog) Analyze(complaint string, vitals VitalSigns) Analysis {
	var a Analysis
	if m, ok := c.Match(complaint, vitals); ok {
		a.Match = m
		lvl := m.SuggestedLevel
		a.SuggestedLevel = &lvl
	}
	a.VitalAlerts = c.AnalyzeVitals(vitals)
	for _, al := range a.VitalAlerts {
		lvl := al.Level
		a.VitalsLevel = c.Risk.MostUrgent(a.VitalsLevel, &lvl)
	}
	return a
}
