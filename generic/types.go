/*
Package generic provides the domain-agnostic balance engine underneath the
leave workflow.

PURPOSE:
  Everything that moves a balance is a Transaction appended to a ledger.
  Balances are never stored; they are replayed from transactions. The leave
  package layers entitlement policy, monthly quotas and the approval workflow
  on top of these primitives.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: a decimal quantity with a unit (half days are exact)
  - Transaction: an immutable ledger entry
  - EntityID / PolicyID: typed identifiers (employee, "<TYPE>-<YEAR>" bucket)
  - ResourceType: implemented by domain packages (leave.Type)

USAGE:
  tx := generic.Transaction{
      EntityID:       "emp-1",
      PolicyID:       "CASUAL-2024",
      Delta:          generic.NewAmount(-3, generic.UnitDays),
      Type:           generic.TxConsumption,
      IdempotencyKey: "debit:req-42",
  }

SEE ALSO:
  - ledger.go: append-only log with idempotency
  - balance.go: replaying transactions into totals
  - store.go: persistence contracts
*/
package generic

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT
// =============================================================================

type Amount struct {
	Value decimal.Decimal
	Unit  Unit
}

type Unit string

const (
	UnitDays  Unit = "days"
	UnitUnits Unit = "units" // short leaves are counted per occurrence
)

var half = decimal.NewFromFloat(0.5)

func NewAmount(value float64, unit Unit) Amount {
	return Amount{Value: decimal.NewFromFloat(value), Unit: unit}
}

func NewAmountFromInt(value int, unit Unit) Amount {
	return Amount{Value: decimal.NewFromInt(int64(value)), Unit: unit}
}

func NewAmountFromDecimal(value decimal.Decimal, unit Unit) Amount {
	return Amount{Value: value, Unit: unit}
}

// ParseAmount parses a decimal string such as "1.5". An empty string is zero.
func ParseAmount(s string, unit Unit) (Amount, error) {
	if s == "" {
		return Amount{Value: decimal.Zero, Unit: unit}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, err
	}
	return Amount{Value: d, Unit: unit}, nil
}

func (a Amount) Zero() Amount                 { return Amount{Value: decimal.Zero, Unit: a.Unit} }
func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value), Unit: a.Unit} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value), Unit: a.Unit} }
func (a Amount) Neg() Amount                  { return Amount{Value: a.Value.Neg(), Unit: a.Unit} }
func (a Amount) Abs() Amount                  { return Amount{Value: a.Value.Abs(), Unit: a.Unit} }
func (a Amount) IsNegative() bool             { return a.Value.IsNegative() }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) IsPositive() bool             { return a.Value.IsPositive() }
func (a Amount) GreaterThan(b Amount) bool    { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool       { return a.Value.LessThan(b.Value) }
func (a Amount) Equal(b Amount) bool          { return a.Value.Equal(b.Value) }
func (a Amount) String() string               { return a.Value.String() }
func (a Amount) Float64() float64             { return a.Value.InexactFloat64() }

// IsHalfDayMultiple reports whether the amount is a whole number of half days.
func (a Amount) IsHalfDayMultiple() bool {
	return a.Value.Mod(half).IsZero()
}

// HasHalfDay reports whether the amount carries a trailing half day (x.5).
func (a Amount) HasHalfDay() bool {
	return !a.Value.Abs().Mod(decimal.NewFromInt(1)).IsZero()
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EntityID string
type PolicyID string
type TransactionID string

// ResourceType identifies what a transaction is drawn against. Domain packages
// define the concrete types; generic never switches on them.
type ResourceType interface {
	ResourceID() string
	ResourceDomain() string
}

// =============================================================================
// TRANSACTION
// =============================================================================

type TransactionType string

const (
	TxGrant       TransactionType = "grant"       // entitlement provisioned for a period
	TxAdjustment  TransactionType = "adjustment"  // admin override of the entitlement
	TxConsumption TransactionType = "consumption" // debit on approval
	TxReversal    TransactionType = "reversal"    // credit undoing a consumption
)

type Transaction struct {
	ID             TransactionID
	EntityID       EntityID
	PolicyID       PolicyID
	ResourceType   ResourceType
	EffectiveAt    TimePoint
	Delta          Amount
	Type           TransactionType
	ReferenceID    string
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string

	CreatedBy string
	CreatedAt TimePoint
}

// Key identifies one ledger stream.
type Key struct {
	EntityID EntityID
	PolicyID PolicyID
}
