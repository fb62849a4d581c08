package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ComponentType is the hardware category of a listing.
type ComponentType string

const (
	ComponentCPU    ComponentType = "cpu"
	ComponentGPU    ComponentType = "gpu"
	ComponentRAM    ComponentType = "ram"
	ComponentDrive  ComponentType = "drive"
	ComponentServer ComponentType = "server"
	ComponentNIC    ComponentType = "nic"
	ComponentOther  ComponentType = "other"
)

// ListingCondition is the normalized physical condition of a listing.
type ListingCondition string

const (
	ConditionNew         ListingCondition = "new"
	ConditionRefurbished ListingCondition = "refurbished"
	ConditionUsed        ListingCondition = "used"
	ConditionForParts    ListingCondition = "for_parts"
)

// MultiplierKey returns the condition-multiplier label used in action
// modifiers. Authors configure multipliers under the short labels.
func (c ListingCondition) MultiplierKey() string {
	switch c {
	case ConditionNew:
		return "new"
	case ConditionRefurbished:
		return "refurb"
	case ConditionUsed:
		return "used"
	default:
		return string(c)
	}
}

// Listing represents a hardware listing to be appraised.
type Listing struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	Title     string           `json:"title"`
	Component ComponentType    `json:"component"`
	Condition ListingCondition `json:"condition"`

	// BasePrice is the asking or reference price the ruleset adjusts.
	BasePrice decimal.Decimal `json:"basePrice"`
	Currency  string          `json:"currency"`

	// Source of the listing ("manual", "ebay", "amazon", ...).
	Source string `json:"source,omitempty"`

	// Attributes is the raw attribute document (possibly nested), e.g.
	// {"ram_gb": 32, "cpu_model": "Xeon E5-2680 v4", "form_factor": "2U"}.
	Attributes map[string]any `json:"attributes,omitempty"`

	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`
}

// Snapshot is the immutable, read-only attribute view a ruleset is
// evaluated against. Keys are top-level field names; nested entities
// (cpu, gpu) are nested maps addressed with dotted paths. The engine
// never mutates a snapshot.
type Snapshot map[string]any

// Benchmark is a row from the component benchmark catalog, joined into
// snapshots as cpu.* / gpu.* fields by the snapshot builder.
type Benchmark struct {
	Model     string        `json:"model"`
	Component ComponentType `json:"component"`

	MarkSingle float64 `json:"markSingle"`
	MarkMulti  float64 `json:"markMulti"`

	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// ListingRequest is the API payload for listing ingestion.
type ListingRequest struct {
	Title      string           `json:"title"`
	Component  ComponentType    `json:"component"`
	Condition  ListingCondition `json:"condition"`
	BasePrice  decimal.Decimal  `json:"basePrice"`
	Currency   string           `json:"currency,omitempty"`
	Source     string           `json:"source,omitempty"`
	Attributes map[string]any   `json:"attributes,omitempty"`
}

// ToListing converts a request to a Listing domain object.
func (r *ListingRequest) ToListing(tenantID string) *Listing {
	now := time.Now().UTC()
	currency := r.Currency
	if currency == "" {
		currency = "USD"
	}
	return &Listing{
		TenantID:   tenantID,
		Title:      r.Title,
		Component:  r.Component,
		Condition:  r.Condition,
		BasePrice:  r.BasePrice,
		Currency:   currency,
		Source:     r.Source,
		Attributes: r.Attributes,
		Timestamp:  now,
		CreatedAt:  now,
	}
}
