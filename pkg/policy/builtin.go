package policy

// builtinVersion is the policy version stamped on every workflow created
// against these built-ins. Bump this string when the rule tables below
// change; policyApplication snapshots keep old workflows bound to the
// version active at creation time.
const builtinVersion = "v1"

// builtinPolicies holds the fixed, versioned policy for each jurisdiction.
// Retention and zombie-interval values satisfy spec.md §8 invariant 7:
// EU <= US <= OTHER for every identity-critical system and for the zombie
// interval itself — EU tightens retention and re-checks sooner, reflecting
// stricter enforcement expectations; OTHER is the conservative fallback.
var builtinPolicies = map[Jurisdiction]Policy{
	EU: {
		Jurisdiction: EU,
		Version:      builtinVersion,
		RetentionRules: []RetentionRule{
			{System: SystemStripe, RetentionDays: 30, Priority: 1, Notes: "payment records, EU minimal retention"},
			{System: SystemDatabase, RetentionDays: 30, Priority: 2, Notes: "primary user record"},
			{System: SystemIntercom, RetentionDays: 14, Priority: 3, Notes: "support messaging"},
			{System: SystemSendgrid, RetentionDays: 14, Priority: 3, Notes: "email delivery logs"},
			{System: SystemCRM, RetentionDays: 14, Priority: 4, Notes: "sales/CRM records"},
			{System: SystemAnalytics, RetentionDays: 7, Priority: 5, Notes: "aggregate analytics, background priority"},
		},
		LegalHoldRules: []LegalHoldRule{
			{System: SystemStripe, Conditions: []string{"open-dispute", "regulatory-investigation"}, MaxDurationDays: 180},
			{System: SystemDatabase, Conditions: []string{"litigation-hold"}, MaxDurationDays: 365},
		},
		ZombieCheckIntervalDays: 30,
		ConfidenceThresholds:    ConfidenceThresholds{AutoDelete: 0.95, ManualReview: 0.70},
		DeletionTimeline:        DeletionTimeline{IdentityCriticalHours: 24, NonCriticalHours: 72, BackgroundScansDays: 30},
		SignCertificates:        true,
	},
	US: {
		Jurisdiction: US,
		Version:      builtinVersion,
		RetentionRules: []RetentionRule{
			{System: SystemStripe, RetentionDays: 60, Priority: 1, Notes: "payment records, US retention window"},
			{System: SystemDatabase, RetentionDays: 60, Priority: 2, Notes: "primary user record"},
			{System: SystemIntercom, RetentionDays: 30, Priority: 3, Notes: "support messaging"},
			{System: SystemSendgrid, RetentionDays: 30, Priority: 3, Notes: "email delivery logs"},
			{System: SystemCRM, RetentionDays: 30, Priority: 4, Notes: "sales/CRM records"},
			{System: SystemAnalytics, RetentionDays: 14, Priority: 5, Notes: "aggregate analytics, background priority"},
		},
		LegalHoldRules: []LegalHoldRule{
			{System: SystemStripe, Conditions: []string{"open-dispute", "regulatory-investigation"}, MaxDurationDays: 365},
			{System: SystemDatabase, Conditions: []string{"litigation-hold"}, MaxDurationDays: 730},
		},
		ZombieCheckIntervalDays: 45,
		ConfidenceThresholds:    ConfidenceThresholds{AutoDelete: 0.90, ManualReview: 0.60},
		DeletionTimeline:        DeletionTimeline{IdentityCriticalHours: 48, NonCriticalHours: 96, BackgroundScansDays: 45},
		SignCertificates:        true,
	},
	Other: {
		Jurisdiction: Other,
		Version:      builtinVersion,
		RetentionRules: []RetentionRule{
			{System: SystemStripe, RetentionDays: 90, Priority: 1, Notes: "payment records, conservative default"},
			{System: SystemDatabase, RetentionDays: 90, Priority: 2, Notes: "primary user record"},
			{System: SystemIntercom, RetentionDays: 45, Priority: 3, Notes: "support messaging"},
			{System: SystemSendgrid, RetentionDays: 45, Priority: 3, Notes: "email delivery logs"},
			{System: SystemCRM, RetentionDays: 45, Priority: 4, Notes: "sales/CRM records"},
			{System: SystemAnalytics, RetentionDays: 30, Priority: 5, Notes: "aggregate analytics, background priority"},
		},
		LegalHoldRules: []LegalHoldRule{
			{System: SystemStripe, Conditions: []string{"open-dispute", "regulatory-investigation"}, MaxDurationDays: 365},
			{System: SystemDatabase, Conditions: []string{"litigation-hold"}, MaxDurationDays: 730},
		},
		ZombieCheckIntervalDays: 60,
		ConfidenceThresholds:    ConfidenceThresholds{AutoDelete: 0.90, ManualReview: 0.60},
		DeletionTimeline:        DeletionTimeline{IdentityCriticalHours: 48, NonCriticalHours: 96, BackgroundScansDays: 60},
		SignCertificates:        false,
	},
}
