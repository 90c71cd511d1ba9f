// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package efuse

import "fmt"

// Plan is a set of field programs applied together. Nil members are left
// untouched. Policy sets are the desired burned state of the row.
type Plan struct {
	AESKey     []byte
	UserKey    []byte
	UserKey128 []byte
	RSAHash    []byte
	Control    *PolicySet
	Secure     *PolicySet
}

// Empty reports whether the plan requests nothing
func (p Plan) Empty() bool {
	return p.AESKey == nil && p.UserKey == nil && p.UserKey128 == nil &&
		p.RSAHash == nil && p.Control == nil && p.Secure == nil
}

// Fields lists the requested fields in execution order
func (p Plan) Fields() []Field {
	var out []Field
	for _, k := range p.keys() {
		out = append(out, k.field)
	}
	if p.Control != nil {
		out = append(out, FieldControl)
	}
	if p.Secure != nil {
		out = append(out, FieldSecure)
	}
	return out
}

type planKey struct {
	field Field
	buf   []byte
}

func (p Plan) keys() []planKey {
	var out []planKey
	for _, k := range []planKey{
		{FieldAESKey, p.AESKey},
		{FieldUserKey, p.UserKey},
		{FieldUserKey128, p.UserKey128},
		{FieldRSAHash, p.RSAHash},
	} {
		if k.buf != nil {
			out = append(out, k)
		}
	}
	return out
}

// Apply validates every requested field before the first write, then burns
// key fields, then control bits, then secure bits. A failure after the first
// write leaves earlier fields burned; callers resume forward.
//
// A lone raw key field whose request would clear burned bits still burns
// its new bits and returns the report with a *RevertError.
func (s *Session) Apply(p Plan) (*Report, error) {
	if err := s.ensureInit(); err != nil {
		return nil, err
	}
	if p.Empty() {
		return nil, fmt.Errorf("empty plan: %w", ErrNullInput)
	}

	var jobs []*fieldJob
	for _, k := range p.keys() {
		job, err := s.prepareKey(k.field, k.buf)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if p.Control != nil {
		job, err := s.preparePolicy(FieldControl, *p.Control)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if p.Secure != nil {
		job, err := s.preparePolicy(FieldSecure, *p.Secure)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	// a single raw field burns what it can and reports the rest; a plan
	// carrying other fields is refused as a whole
	var revert *RevertError
	for _, job := range jobs {
		if job.revert == nil {
			continue
		}
		if len(jobs) > 1 {
			return nil, job.revert
		}
		revert = job.revert
	}

	rep := newReport(s.geo.Variant)
	for _, job := range jobs {
		s.progress(job.field, StagePolicyChecked, 0, len(job.rows))
		if err := s.runJob(job, rep); err != nil {
			s.progress(job.field, StageFailed, 0, len(job.rows))
			s.log.Error("field program failed", "field", job.field, "error", err)
			return rep, fmt.Errorf("program %s: %w", job.field, err)
		}
		s.progress(job.field, StageProgrammed, len(job.rows), len(job.rows))
	}
	s.log.Info("plan applied", "fields", len(jobs), "written", rep.Written, "skipped", rep.Skipped, "anomalies", len(rep.Anomalies))
	if revert != nil {
		s.log.Warn("burned bits cannot be cleared", "field", revert.Field, "bits", revert.Bits)
		return rep, revert
	}
	return rep, nil
}

func (s *Session) runJob(job *fieldJob, rep *Report) error {
	rep.addField(job.field)

	if job.policy != nil {
		if job.policyMask == 0 {
			s.log.Info("policy bits already burned", "field", job.field)
			return nil
		}
		s.progress(job.field, StageProgramming, 0, 1)
		return s.programPolicyRow(job.policy, job.policyMask, rep)
	}

	// AES rows cannot be sensed back; the hardware CRC stands in for verify
	verify := job.field != FieldAESKey
	for i, w := range job.rows {
		s.progress(job.field, StageProgramming, i, len(job.rows))
		if err := s.programRow(job.field, w, verify, rep); err != nil {
			return err
		}
	}
	if job.field == FieldAESKey {
		s.progress(job.field, StageVerifying, len(job.rows), len(job.rows))
		if err := s.checkKeyCRC(KeyCRC(job.key)); err != nil {
			return err
		}
	}
	return nil
}
