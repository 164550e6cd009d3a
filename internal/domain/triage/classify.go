package triage

import "fmt"

// Classification is the engine's resolution of a triage's level.
type Classification struct {
	Level    *RiskLevel
	Source   string // "manual", "protocol" or "" when deferred
	Deferred bool
	Match    *ProtocolMatch
}

const (
	SourceManual   = "manual"
	SourceProtocol = "protocol"
)

// Classify resolves the level of a new triage. An explicit manual level wins
// over the protocol suggestion. With neither, the emergency unit flow is
// rejected and the ambulatory flow is deferred to the clinician.
func (c *Catalog) Classify(manual *RiskLevel, match *ProtocolMatch, flow Flow) (Classification, error) {
	if manual != nil {
		if _, ok := c.Risk.Info(*manual); !ok {
			return Classification{}, fmt.Errorf("%w: unknown risk level %q", ErrValidation, *manual)
		}
		lvl := *manual
		return Classification{Level: &lvl, Source: SourceManual, Match: match}, nil
	}
	if match != nil {
		lvl := match.SuggestedLevel
		return Classification{Level: &lvl, Source: SourceProtocol, Match: match}, nil
	}
	switch flow {
	case FlowEmergencyUnit:
		return Classification{}, fmt.Errorf("%w: risk classification is required for the emergency unit flow", ErrValidation)
	case FlowAmbulatory:
		return Classification{Deferred: true}, nil
	}
	return Classification{}, fmt.Errorf("%w: unknown flow %q", ErrValidation, flow)
}

// Apply writes the classification and the protocol suggestions onto a new record.
// The original level is fixed here when one was resolved.
func (cl Classification) Apply(t *TriageRecord) {
	if cl.Level != nil {
		final := *cl.Level
		original := final
		t.FinalRiskLevel = &final
		t.OriginalRiskLevel = &original
	}
	if cl.Match != nil {
		ref := cl.Match.ProtocolID
		conduct := cl.Match.SuggestedConduct
		t.AppliedProtocolRef = &ref
		t.SuggestedConduct = &conduct
		t.SuggestedDiagnoses = append([]string(nil), cl.Match.SuggestedDiagnoses...)
	}
}

// Reclassify changes only the final level. A record whose classification was
// deferred gets its original level on this first assignment.
func Reclassify(t *TriageRecord, level RiskLevel) {
	final := level
	t.FinalRiskLevel = &final
	if t.OriginalRiskLevel == nil {
		original := level
		t.OriginalRiskLevel = &original
	}
}
