/*
policy.go - Leave-type policies

PURPOSE:
  A Policy is one catalog entry: how much a leave type grants per year and
  which limits a request or a debit must respect.

DEFAULTS:
  CASUAL       21 days/year, capped
  SICK         24 days/year, capped (the MEDICAL label resolves here)
  SHORT_LEAVE  2 per calendar month, capped, single day, 1 unit per request
  MATERNITY    84 days, not capped at the ledger; requests limited to 84
               continuous days; approved before the end date is known
  DUTY         not capped unless a deployment sets Capped and Entitlement

SEE ALSO:
  - catalog.go: lookup, aliases and admin edits
  - factory/catalog.go: loading policies from YAML
*/
package leave

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
)

type Policy struct {
	Code              Type     `json:"code" yaml:"code"`
	Name              string   `json:"name" yaml:"name"`
	Entitlement       float64  `json:"entitlement" yaml:"entitlement"`
	Capped            bool     `json:"capped" yaml:"capped"`
	MonthlyCap        int      `json:"monthlyCap,omitempty" yaml:"monthly_cap,omitempty"`
	MaxContinuousDays int      `json:"maxContinuousDays,omitempty" yaml:"max_continuous_days,omitempty"`
	SingleDay         bool     `json:"singleDay,omitempty" yaml:"single_day,omitempty"`
	DeferredEnd       bool     `json:"deferredEnd,omitempty" yaml:"deferred_end,omitempty"`
	Aliases           []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
}

// Unit is days, except for per-occurrence types.
func (p Policy) Unit() generic.Unit {
	if p.MonthlyCap > 0 {
		return generic.UnitUnits
	}
	return generic.UnitDays
}

// HasMonthlyQuota is true for SHORT_LEAVE-style types.
func (p Policy) HasMonthlyQuota() bool { return p.MonthlyCap > 0 }

// YearlyTotal is the amount provisioned for a fresh year. Monthly-quota types
// get twelve buckets worth so buckets always aggregate to the entry.
func (p Policy) YearlyTotal() generic.Amount {
	if p.HasMonthlyQuota() {
		return generic.NewAmountFromInt(12*p.MonthlyCap, p.Unit())
	}
	return generic.NewAmountFromDecimal(decimal.NewFromFloat(p.Entitlement), p.Unit())
}

func (p Policy) Validate() error {
	if strings.TrimSpace(string(p.Code)) == "" {
		return invalid("code", "required")
	}
	if strings.ContainsAny(string(p.Code), " -") {
		return invalid("code", "must not contain spaces or dashes")
	}
	if strings.TrimSpace(p.Name) == "" {
		return invalid("name", "required")
	}
	if p.Entitlement < 0 {
		return invalid("entitlement", "must not be negative")
	}
	if !generic.NewAmount(p.Entitlement, generic.UnitDays).IsHalfDayMultiple() {
		return invalid("entitlement", "must be a multiple of 0.5")
	}
	if p.MonthlyCap < 0 {
		return invalid("monthlyCap", "must not be negative")
	}
	if p.MonthlyCap > 0 && !p.SingleDay {
		return invalid("monthlyCap", "monthly quotas count single-day requests")
	}
	if p.MaxContinuousDays < 0 {
		return invalid("maxContinuousDays", "must not be negative")
	}
	if p.SingleDay && p.DeferredEnd {
		return invalid("deferredEnd", "single-day types always know their end date")
	}
	return nil
}

// DefaultPolicies is the built-in catalog.
func DefaultPolicies() []Policy {
	return []Policy{
		{Code: TypeCasual, Name: "Casual Leave", Entitlement: 21, Capped: true},
		{Code: TypeSick, Name: "Sick Leave", Entitlement: 24, Capped: true, Aliases: []string{"MEDICAL"}},
		{Code: TypeShortLeave, Name: "Short Leave", Capped: true, MonthlyCap: 2, SingleDay: true},
		{Code: TypeMaternity, Name: "Maternity Leave", Entitlement: 84, MaxContinuousDays: 84, DeferredEnd: true},
		{Code: TypeDuty, Name: "Duty Leave"},
	}
}
