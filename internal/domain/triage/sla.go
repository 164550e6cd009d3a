package triage

import (
	"fmt"
	"time"
)

// SLAStatus is the live breach state of a classified record.
type SLAStatus string

const (
	SLANormal   SLAStatus = "normal"
	SLAWarning  SLAStatus = "warning"
	SLABreached SLAStatus = "breached"
)

// DefaultGracePercent is the width of the warning window past the SLA threshold.
const DefaultGracePercent = 25

// SLAEvaluator computes breach status on demand. Nothing it returns is stored.
type SLAEvaluator struct {
	risk         *RiskTable
	gracePercent int
}

// NewSLAEvaluator builds an evaluator with a warning window of gracePercent of the threshold.
func NewSLAEvaluator(risk *RiskTable, gracePercent int) (*SLAEvaluator, error) {
	if gracePercent < 0 {
		return nil, fmt.Errorf("sla grace percent must not be negative, got %d", gracePercent)
	}
	return &SLAEvaluator{risk: risk, gracePercent: gracePercent}, nil
}

// GracePercent returns the configured warning window.
func (e *SLAEvaluator) GracePercent() int { return e.gracePercent }

// Evaluate returns Normal while elapsed <= threshold, Warning up to
// threshold*(1+grace), Breached beyond. Unknown levels report false.
func (e *SLAEvaluator) Evaluate(level RiskLevel, createdAt, now time.Time) (SLAStatus, bool) {
	info, ok := e.risk.Info(level)
	if !ok {
		return "", false
	}
	elapsed := now.Sub(createdAt)
	threshold := info.SLA()
	warnLimit := threshold + threshold*time.Duration(e.gracePercent)/100
	switch {
	case elapsed <= threshold:
		return SLANormal, true
	case elapsed <= warnLimit:
		return SLAWarning, true
	default:
		return SLABreached, true
	}
}
