// Package policy resolves per-jurisdiction retention rules, confidence
// thresholds, zombie-check intervals, and deletion timelines, and records
// which policy snapshot a workflow was created under.
//
// Grounded on other_examples/6f7cf296_HarshaReddyVardhan-banking-audit-compliance
// (domain.RetentionPolicy / StandardRetentionPolicies map keyed by category,
// each with a duration and a named regulation) for the shape of a
// versioned, table-driven retention ruleset, and on the teacher's
// functional-options constructor convention (graph.Options / With*) for
// Manager's construction.
package policy

import (
	"fmt"
	"sort"
)

// Jurisdiction is one of the three regimes spec.md §3 names.
type Jurisdiction string

const (
	EU    Jurisdiction = "EU"
	US    Jurisdiction = "US"
	Other Jurisdiction = "OTHER"
)

// System is one of the fixed set of external systems every jurisdiction's
// policy must cover (spec.md §8 invariant 7).
type System string

const (
	SystemStripe   System = "stripe"
	SystemDatabase System = "database"
	SystemIntercom System = "intercom"
	SystemSendgrid System = "sendgrid"
	SystemCRM      System = "crm"
	SystemAnalytics System = "analytics"
)

// AllSystems is the fixed, ordered set of systems every policy must rule on.
var AllSystems = []System{SystemStripe, SystemDatabase, SystemIntercom, SystemSendgrid, SystemCRM, SystemAnalytics}

// RetentionRule is a per-system retention rule within a jurisdiction's policy.
type RetentionRule struct {
	System        System
	RetentionDays int
	Priority      int // 1-2 identity-critical, 3-4 parallel, 5 background
	Notes         string
}

// LegalHoldRule names the conditions under which a system's deletion may be
// held, and for how long a hold may stand before it is flagged expired.
type LegalHoldRule struct {
	System         System
	Conditions     []string
	MaxDurationDays int
}

// ConfidenceThresholds gates automatic vs. manual-review handling of a
// PII-detection finding. AutoDelete must be >= ManualReview (spec.md §8
// invariant 8).
type ConfidenceThresholds struct {
	AutoDelete   float64
	ManualReview float64
}

// DeletionTimeline bounds how long each phase is allowed to run before it
// is considered stalled.
type DeletionTimeline struct {
	IdentityCriticalHours int
	NonCriticalHours      int
	BackgroundScansDays   int
}

// Policy is the full per-jurisdiction configuration record, versioned and
// immutable within a version (spec.md §3).
type Policy struct {
	Jurisdiction         Jurisdiction
	Version              string
	RetentionRules       []RetentionRule
	LegalHoldRules       []LegalHoldRule
	ZombieCheckIntervalDays int
	ConfidenceThresholds ConfidenceThresholds
	DeletionTimeline     DeletionTimeline
	SignCertificates     bool
}

// RetentionRuleFor returns the rule for system within the policy.
func (p Policy) RetentionRuleFor(system System) (RetentionRule, error) {
	for _, r := range p.RetentionRules {
		if r.System == system {
			return r, nil
		}
	}
	return RetentionRule{}, &UnknownSystemError{System: system}
}

// IdentityCriticalSystems returns systems with priority 1-2, sorted by priority.
func (p Policy) IdentityCriticalSystems() []System {
	return p.systemsWithPriority(func(pr int) bool { return pr <= 2 })
}

// ParallelSystems returns systems with priority 3-4, sorted by priority.
func (p Policy) ParallelSystems() []System {
	return p.systemsWithPriority(func(pr int) bool { return pr == 3 || pr == 4 })
}

// BackgroundSystems returns systems with priority 5.
func (p Policy) BackgroundSystems() []System {
	return p.systemsWithPriority(func(pr int) bool { return pr == 5 })
}

func (p Policy) systemsWithPriority(match func(int) bool) []System {
	type ranked struct {
		system   System
		priority int
	}
	var rs []ranked
	for _, r := range p.RetentionRules {
		if match(r.Priority) {
			rs = append(rs, ranked{r.System, r.Priority})
		}
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i].priority < rs[j].priority })
	out := make([]System, len(rs))
	for i, r := range rs {
		out[i] = r.system
	}
	return out
}

// UnknownSystemError is returned by RetentionRuleFor for a system the
// policy has no rule for (spec.md §4.2 "unknown system → fails with
// UnknownSystem").
type UnknownSystemError struct {
	System System
}

func (e *UnknownSystemError) Error() string {
	return fmt.Sprintf("policy: unknown system %q", e.System)
}
