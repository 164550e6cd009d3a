package triage

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var bpSeparator = regexp.MustCompile(`(?i)\s*[x/]\s*`)

// ParseBloodPressure reads "SYS x DIA" or "SYS/DIA". Anything else reports false.
func ParseBloodPressure(s string) (systolic, diastolic int, ok bool) {
	parts := bpSeparator.Split(strings.TrimSpace(s), -1)
	if len(parts) < 2 {
		return 0, 0, false
	}
	sys, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, false
	}
	dia, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, false
	}
	return sys, dia, true
}

// VitalField names a measurement a predicate can test.
type VitalField string

const (
	FieldTemperature      VitalField = "temperature"
	FieldOxygenSaturation VitalField = "oxygen_saturation"
	FieldSystolic         VitalField = "systolic"
	FieldDiastolic        VitalField = "diastolic"
	FieldHeartRate        VitalField = "heart_rate"
	FieldRespiratoryRate  VitalField = "respiratory_rate"
	FieldPainScale        VitalField = "pain_scale"
)

// Value returns the numeric reading for f, or false when it is absent or unparsable.
func (v VitalSigns) Value(f VitalField) (float64, bool) {
	switch f {
	case FieldTemperature:
		if v.Temperature != nil {
			return *v.Temperature, true
		}
	case FieldOxygenSaturation:
		if v.OxygenSaturation != nil {
			return float64(*v.OxygenSaturation), true
		}
	case FieldHeartRate:
		if v.HeartRate != nil {
			return float64(*v.HeartRate), true
		}
	case FieldRespiratoryRate:
		if v.RespiratoryRate != nil {
			return float64(*v.RespiratoryRate), true
		}
	case FieldPainScale:
		if v.PainScale != nil {
			return float64(*v.PainScale), true
		}
	case FieldSystolic, FieldDiastolic:
		if v.BloodPressure == nil {
			return 0, false
		}
		sys, dia, ok := ParseBloodPressure(*v.BloodPressure)
		if !ok {
			return 0, false
		}
		if f == FieldSystolic {
			return float64(sys), true
		}
		return float64(dia), true
	}
	return 0, false
}

type vitalRange struct {
	key      VitalField
	field    string
	min, max float64
}

// vitalRanges is checked in order so the first invalid field is reported.
var vitalRanges = []vitalRange{
	{FieldTemperature, "temperature", 25, 45},
	{FieldOxygenSaturation, "oxygen_saturation", 0, 100},
	{FieldHeartRate, "heart_rate", 0, 300},
	{FieldRespiratoryRate, "respiratory_rate", 0, 100},
	{FieldPainScale, "pain_scale", 0, 10},
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// Validate rejects physiologically impossible readings. A blood pressure that
// does not parse is left alone; the matcher treats it as unknown.
func (v VitalSigns) Validate() error {
	for _, r := range vitalRanges {
		val, ok := v.Value(r.key)
		if !ok {
			continue
		}
		if !finite(val) || val < r.min || val > r.max {
			return fmt.Errorf("%w: %s must be between %g and %g", ErrValidation, r.field, r.min, r.max)
		}
	}
	if v.Weight != nil && (!finite(*v.Weight) || *v.Weight <= 0 || *v.Weight > 500) {
		return fmt.Errorf("%w: weight must be between 0 and 500 kg", ErrValidation)
	}
	if v.Height != nil && (!finite(*v.Height) || *v.Height <= 0 || *v.Height > 300) {
		return fmt.Errorf("%w: height must be between 0 and 300 cm", ErrValidation)
	}
	return nil
}

// Validate checks the obstetric block.
func (w *WomenHealthData) Validate() error {
	if w == nil {
		return nil
	}
	if w.GestationWeeks != nil && (*w.GestationWeeks < 0 || *w.GestationWeeks > 45) {
		return fmt.Errorf("%w: gestation_weeks must be between 0 and 45", ErrValidation)
	}
	return nil
}
