// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package efuse

import (
	"fmt"
	"strings"
)

// AnomalyType classifies a tolerated irregularity
type AnomalyType int

const (
	// AnomalyRedundantCopyFailed: one copy of a policy bit failed to
	// program or verify; the OR-merged read still shows the bit
	AnomalyRedundantCopyFailed AnomalyType = iota
	// AnomalyECCCorrected: a Hamming row read back with a corrected bit
	AnomalyECCCorrected
)

func (a AnomalyType) String() string {
	switch a {
	case AnomalyRedundantCopyFailed:
		return "REDUNDANT_COPY_FAILED"
	case AnomalyECCCorrected:
		return "ECC_CORRECTED"
	default:
		return fmt.Sprintf("ANOMALY_%d", int(a))
	}
}

// Anomaly is a recorded, non-fatal irregularity
type Anomaly struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Report summarizes one programming operation
type Report struct {
	Variant   Variant
	Fields    []Field
	Written   int // program pulses issued
	Skipped   int // requested bits already burned
	Verified  int // rows that passed the margin sweep
	Anomalies []Anomaly
}

func newReport(v Variant) *Report {
	return &Report{Variant: v}
}

func (r *Report) addField(f Field) {
	for _, have := range r.Fields {
		if have == f {
			return
		}
	}
	r.Fields = append(r.Fields, f)
}

func (r *Report) addAnomaly(t AnomalyType, msg string, details map[string]interface{}) {
	r.Anomalies = append(r.Anomalies, Anomaly{Type: t, Message: msg, Details: details})
}

// Degraded reports whether any redundant copy failed
func (r *Report) Degraded() bool {
	for _, a := range r.Anomalies {
		if a.Type == AnomalyRedundantCopyFailed {
			return true
		}
	}
	return false
}

func (r *Report) String() string {
	names := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		names[i] = f.String()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [%s]: %d written, %d already set, %d rows verified\n",
		r.Variant, strings.Join(names, ","), r.Written, r.Skipped, r.Verified)
	for _, a := range r.Anomalies {
		fmt.Fprintf(&sb, "  %s: %s\n", a.Type, a.Message)
	}
	return sb.String()
}
