package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RuleContribution is one row of the per-rule audit trail. Every active
// rule produces exactly one row, matched or not. A rule whose action or
// formula failed is recorded as non-matching with the error attached.
type RuleContribution struct {
	RuleID   string `json:"ruleId"`
	RuleName string `json:"ruleName"`
	GroupID  string `json:"groupId"`

	Matched  bool            `json:"matched"`
	DeltaUSD decimal.Decimal `json:"deltaUsd"`

	// RunningTotalAfter is the intra-group running total once this rule
	// was applied, before the group weight folds in.
	RunningTotalAfter decimal.Decimal `json:"runningTotalAfter"`

	Error string `json:"error,omitempty"`
}

// GroupContribution records how a rule group's net delta was weighted
// into the adjusted price.
type GroupContribution struct {
	GroupID  string          `json:"groupId"`
	Category string          `json:"category"`
	Weight   decimal.Decimal `json:"weight"`

	RawDelta      decimal.Decimal `json:"rawDelta"`
	WeightedDelta decimal.Decimal `json:"weightedDelta"`
}

// EvaluationResult is the complete outcome of running one listing
// snapshot through one ruleset. Produced fresh per call, never mutated
// after return.
type EvaluationResult struct {
	BasePrice     decimal.Decimal `json:"basePrice"`
	AdjustedPrice decimal.Decimal `json:"adjustedPrice"`

	Breakdown []RuleContribution  `json:"breakdown"`
	Groups    []GroupContribution `json:"groups,omitempty"`
}

// ValidationResult is the outcome of parsing a formula without
// evaluating it, used by the authoring surface before a rule is saved.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Valuation is a persisted evaluation of one listing.
type Valuation struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenantId"`
	ListingID string `json:"listingId"`
	RulesetID string `json:"rulesetId"`

	BasePrice     decimal.Decimal `json:"basePrice"`
	AdjustedPrice decimal.Decimal `json:"adjustedPrice"`

	Breakdown []RuleContribution  `json:"breakdown"`
	Groups    []GroupContribution `json:"groups,omitempty"`

	Timestamp time.Time         `json:"timestamp"`
	Metadata  ValuationMetadata `json:"metadata"`
}

// ValuationMetadata contains processing information.
type ValuationMetadata struct {
	TraceID        string `json:"traceId"`
	SnapshotMs     int64  `json:"snapshotMs"`
	EvalMs         int64  `json:"evalMs"`
	TotalMs        int64  `json:"totalMs"`
	RulesEvaluated int    `json:"rulesEvaluated"`
	RulesMatched   int    `json:"rulesMatched"`
	EngineVersion  string `json:"engineVersion"`
}

// GlobalTenantID marks rulesets and catalog data shared by all tenants.
const GlobalTenantID = "*"
