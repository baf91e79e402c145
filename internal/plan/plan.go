// Package plan defines the pricing catalogue: each plan carries a typed
// feature set with per-resource ceilings. Plans are immutable after creation
// except for retirement (active flag).
package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrPlanNotFound = errors.New("plan: not found")
	ErrPlanInvalid  = errors.New("plan: invalid definition")
)

// Limit is a resource ceiling that is either a concrete maximum or unlimited.
// It marshals as a JSON number, or the string "unlimited".
type Limit struct {
	Unlimited bool
	Max       int
}

// Unlimited is the sentinel ceiling that always allows.
var Unlimited = Limit{Unlimited: true}

// LimitOf returns a concrete ceiling.
func LimitOf(n int) Limit { return Limit{Max: n} }

// Allows reports whether a current count of n permits creating one more.
func (l Limit) Allows(n int) bool {
	return l.Unlimited || n < l.Max
}

func (l Limit) String() string {
	if l.Unlimited {
		return "unlimited"
	}
	return fmt.Sprintf("%d", l.Max)
}

// MarshalJSON encodes the ceiling as a number or "unlimited".
func (l Limit) MarshalJSON() ([]byte, error) {
	if l.Unlimited {
		return json.Marshal("unlimited")
	}
	return json.Marshal(l.Max)
}

// UnmarshalJSON accepts a number, a numeric string, or "unlimited".
func (l *Limit) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*l = Limit{Max: n}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("plan: limit must be a number or %q", "unlimited")
	}
	if s == "unlimited" {
		*l = Unlimited
		return nil
	}
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return fmt.Errorf("plan: limit %q is neither a number nor %q", s, "unlimited")
	}
	*l = Limit{Max: n}
	return nil
}

// Features is the typed feature map of a plan. Each field names a countable
// resource kind and its ceiling. Validated once at plan creation, never
// parsed ad hoc at check time.
type Features struct {
	MaxProjects Limit `json:"max_projects"`
	MaxMembers  Limit `json:"max_members"`
	StorageMB   Limit `json:"storage_mb"`
}

// Validate rejects negative ceilings.
func (f Features) Validate() error {
	for name, l := range map[string]Limit{
		"max_projects": f.MaxProjects,
		"max_members":  f.MaxMembers,
		"storage_mb":   f.StorageMB,
	} {
		if !l.Unlimited && l.Max < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrPlanInvalid, name)
		}
	}
	return nil
}

// Plan is a pricing tier. ExternalPriceID references the payment gateway's
// price object used at checkout.
type Plan struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	PriceCents      int64     `json:"priceCents"`
	Currency        string    `json:"currency"`
	ExternalPriceID string    `json:"externalPriceId,omitempty"`
	Features        Features  `json:"features"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Free reports whether the plan costs nothing and needs no gateway checkout.
func (p *Plan) Free() bool { return p.PriceCents == 0 }

// Validate checks a plan definition before it enters the catalogue.
func (p *Plan) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrPlanInvalid)
	}
	if p.PriceCents < 0 {
		return fmt.Errorf("%w: price must not be negative", ErrPlanInvalid)
	}
	if p.PriceCents > 0 && p.ExternalPriceID == "" {
		return fmt.Errorf("%w: paid plan needs an external price reference", ErrPlanInvalid)
	}
	return p.Features.Validate()
}
