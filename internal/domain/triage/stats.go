package triage

import "time"

const (
	unclassifiedKey = "unclassified"
	noProtocolKey   = "none"
)

// Statistics summarizes the triages created in [Start, End). Cancelled records
// are counted; they are part of the audit trail.
type Statistics struct {
	Start            time.Time      `json:"start"`
	End              time.Time      `json:"end"`
	Total            int            `json:"total"`
	Cancelled        int            `json:"cancelled"`
	Attended         int            `json:"attended"`
	Classified       int            `json:"classified"`
	Reclassified     int            `json:"reclassified"`
	ReclassifiedRate float64        `json:"reclassification_rate"`
	WithProtocol     int            `json:"with_protocol"`
	ProtocolRate     float64        `json:"protocol_rate"`
	ByClassification map[string]int `json:"by_classification"`
	ByProtocol       map[string]int `json:"by_protocol"`
	ByFlow           map[Flow]int   `json:"by_flow"`
}

// ComputeStatistics folds records into counts. The reclassification rate is
// taken over records that have an original level, the protocol rate over all.
func ComputeStatistics(records []*TriageRecord, risk *RiskTable, start, end time.Time) Statistics {
	st := Statistics{
		Start:            start,
		End:              end,
		ByClassification: make(map[string]int, len(risk.levels)+1),
		ByProtocol:       make(map[string]int),
		ByFlow:           make(map[Flow]int, 2),
	}
	for _, lvl := range risk.levels {
		st.ByClassification[string(lvl.ID)] = 0
	}
	for _, r := range records {
		st.Total++
		st.ByFlow[r.Flow]++
		if r.Cancelled {
			st.Cancelled++
		}
		if r.AttendedAt != nil {
			st.Attended++
		}
		if r.FinalRiskLevel != nil {
			st.ByClassification[string(*r.FinalRiskLevel)]++
		} else {
			st.ByClassification[unclassifiedKey]++
		}
		if r.AppliedProtocolRef != nil {
			st.WithProtocol++
			st.ByProtocol[*r.AppliedProtocolRef]++
		} else {
			st.ByProtocol[noProtocolKey]++
		}
		if r.OriginalRiskLevel != nil {
			st.Classified++
		}
		if r.IsReclassified() {
			st.Reclassified++
		}
	}
	if st.Total > 0 {
		st.ProtocolRate = float64(st.WithProtocol) / float64(st.Total)
	}
	if st.Classified > 0 {
		st.ReclassifiedRate = float64(st.Reclassified) / float64(st.Classified)
	}
	return st
}
