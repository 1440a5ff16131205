/*
entitlement.go - Per-employee, per-year leave balances

PURPOSE:
  The EntitlementLedger owns balance arithmetic. Each (employee, leave type,
  year) is one ledger stream with policy ID "<TYPE>-<YEAR>". The entry shown
  to callers is replayed from that stream on every read:

    Total     = grants + adjustments
    Used      = debits - credits
    Remaining = Total - Used

PROVISIONING:
  The first read (or debit) of an open year appends the policy's yearly
  grant under the key "grant:<employee>:<type>:<year>". Concurrent first
  reads race on that key and exactly one grant survives. Closed years are
  never provisioned; a closed year with no stream is NotFound. Reads enter
  the year gate like decisions do, so a grant can never land in a year
  whose close has already listed its employees.

IDEMPOTENCY:
  Debits are keyed "debit:<requestID>" and credits "credit:<requestID>". A
  repeated debit is reported as Applied=false and changes nothing.

SHORT LEAVE:
  Quota types carry twelve month buckets. A debit checks the bucket of its
  date on its own, so a third short leave in March fails even with yearly
  headroom. Buckets always sum to the entry because the yearly total is
  twelve times the monthly cap.

SEE ALSO:
  - generic/balance.go: Summarize, BalanceCalculator
  - workflow.go: debits on final approval inside the same store transaction
*/
package leave

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// TYPES
// =============================================================================

type Entry struct {
	EmployeeID          generic.EntityID
	Year                int
	Type                Type
	Total               generic.Amount
	Used                generic.Amount
	Remaining           generic.Amount
	AccumulatedHalfDays int
	Capped              bool
	Frozen              bool
	Monthly             map[string]MonthBucket // quota types only, keyed "January".."December"
}

type MonthBucket struct {
	Used  generic.Amount
	Total generic.Amount
}

type DebitInput struct {
	EmployeeID generic.EntityID
	LeaveType  Type
	Amount     generic.Amount
	At         generic.TimePoint
	RequestID  string
}

type DebitResult struct {
	// Applied is false when the request had already been debited.
	Applied     bool
	Transaction generic.Transaction
}

type CreditInput struct {
	RequestID string
	// Amount defaults to the whole debit when zero.
	Amount  generic.Amount
	ActorID string
	Reason  string
}

type CreditResult struct {
	Applied     bool
	Transaction generic.Transaction
}

type SetEntitlementInput struct {
	EmployeeID generic.EntityID
	Year       int
	LeaveType  Type
	Total      generic.Amount
	ActorID    string
	Reason     string
}

func debitKey(requestID string) string  { return "debit:" + requestID }
func creditKey(requestID string) string { return "credit:" + requestID }
func grantKey(emp generic.EntityID, t Type, year int) string {
	return fmt.Sprintf("grant:%s:%s:%d", emp, t, year)
}

// =============================================================================
// ENTITLEMENT LEDGER
// =============================================================================

type EntitlementLedger struct {
	*deps
}

// Balance returns the entry for one leave type. Open years are provisioned on
// first read.
func (l *EntitlementLedger) Balance(ctx context.Context, employeeID generic.EntityID, year int, t Type) (Entry, error) {
	if employeeID == "" {
		return Entry{}, invalid("employeeId", "required")
	}
	p, err := l.policy(t)
	if err != nil {
		return Entry{}, err
	}
	defer l.years.Enter(year)()
	return l.balance(ctx, l.repo, employeeID, year, p)
}

// Balances returns an entry per catalog type. Closed years list only the
// types that have a stream.
func (l *EntitlementLedger) Balances(ctx context.Context, employeeID generic.EntityID, year int) ([]Entry, error) {
	if employeeID == "" {
		return nil, invalid("employeeId", "required")
	}
	defer l.years.Enter(year)()

	var out []Entry
	for _, p := range l.catalog.List() {
		e, err := l.balance(ctx, l.repo, employeeID, year, p)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (l *EntitlementLedger) balance(ctx context.Context, repo Repository, employeeID generic.EntityID, year int, p Policy) (Entry, error) {
	closed, err := l.yearClosed(ctx, repo, year)
	if err != nil {
		return Entry{}, err
	}
	if !closed {
		if err := l.provision(ctx, repo, employeeID, year, p); err != nil {
			return Entry{}, err
		}
	}
	e, b, err := l.entry(ctx, repo, employeeID, year, p)
	if err != nil {
		return Entry{}, err
	}
	if b.Transactions == 0 {
		return Entry{}, &NotFoundError{What: "entitlement", ID: fmt.Sprintf("%s/%s/%d", employeeID, p.Code, year)}
	}
	e.Frozen = closed
	return e, nil
}

// Debit records a debit for a request. A second debit for the same request is
// a no-op reported with Applied=false.
func (l *EntitlementLedger) Debit(ctx context.Context, in DebitInput) (DebitResult, error) {
	p, err := l.validateDebit(in)
	if err != nil {
		return DebitResult{}, err
	}
	defer l.years.Enter(in.At.Year())()

	var res DebitResult
	err = l.repo.WithTx(ctx, func(tx Repository) error {
		var err error
		res, err = l.debitIn(ctx, tx, p, in)
		return err
	})
	return res, err
}

func (l *EntitlementLedger) validateDebit(in DebitInput) (Policy, error) {
	if in.EmployeeID == "" {
		return Policy{}, invalid("employeeId", "required")
	}
	if in.RequestID == "" {
		return Policy{}, invalid("requestId", "required")
	}
	if in.At.IsZero() {
		return Policy{}, invalid("at", "required")
	}
	p, err := l.policy(in.LeaveType)
	if err != nil {
		return Policy{}, invalid("leaveType", err.Error())
	}
	if !in.Amount.IsPositive() {
		return Policy{}, invalid("amount", "must be positive")
	}
	if !in.Amount.IsHalfDayMultiple() {
		return Policy{}, invalid("amount", "must be a multiple of 0.5")
	}
	if p.HasMonthlyQuota() && in.Amount.HasHalfDay() {
		return Policy{}, invalid("amount", "must be whole units")
	}
	return p, nil
}

// debitIn runs inside the caller's transaction.
func (l *EntitlementLedger) debitIn(ctx context.Context, repo Repository, p Policy, in DebitInput) (DebitResult, error) {
	ledger := generic.NewLedger(repo)
	existing, found, err := ledger.Find(ctx, debitKey(in.RequestID))
	if err != nil {
		return DebitResult{}, fmt.Errorf("lookup debit: %w", err)
	}
	if found {
		return DebitResult{Applied: false, Transaction: existing}, nil
	}

	year := in.At.Year()
	closed, err := l.yearClosed(ctx, repo, year)
	if err != nil {
		return DebitResult{}, err
	}
	if closed {
		return DebitResult{}, fmt.Errorf("debit %s in %d: %w", in.RequestID, year, ErrYearClosed)
	}

	if err := l.provision(ctx, repo, in.EmployeeID, year, p); err != nil {
		return DebitResult{}, err
	}
	policyID := PolicyIDFor(p.Code, year)
	amount := generic.NewAmountFromDecimal(in.Amount.Value, p.Unit())

	if p.Capped {
		_, yearBal, err := l.entry(ctx, repo, in.EmployeeID, year, p)
		if err != nil {
			return DebitResult{}, err
		}
		if p.HasMonthlyQuota() {
			calc := generic.BalanceCalculator{Ledger: ledger}
			monthBal, err := calc.CalculateBalance(ctx, in.EmployeeID, policyID, generic.MonthPeriodFor(in.At), p.Unit())
			if err != nil {
				return DebitResult{}, fmt.Errorf("load month: %w", err)
			}
			// Month buckets carry no grants of their own.
			monthBal.Total = monthlyTotal(yearBal.Total)
			if !monthBal.CanConsume(amount) {
				return DebitResult{}, &InsufficientBalanceError{
					EntityID:  in.EmployeeID,
					PolicyID:  policyID,
					Scope:     in.At.Month().String(),
					Available: monthBal.Remaining(),
					Requested: amount,
				}
			}
		}
		if !yearBal.CanConsume(amount) {
			return DebitResult{}, &InsufficientBalanceError{
				EntityID:  in.EmployeeID,
				PolicyID:  policyID,
				Scope:     "year",
				Available: yearBal.Remaining(),
				Requested: amount,
			}
		}
	}

	tx := generic.Transaction{
		ID:             generic.TransactionID(uuid.NewString()),
		EntityID:       in.EmployeeID,
		PolicyID:       policyID,
		ResourceType:   p.Code,
		EffectiveAt:    in.At,
		Delta:          amount.Neg(),
		Type:           generic.TxConsumption,
		ReferenceID:    in.RequestID,
		Reason:         "leave approved",
		IdempotencyKey: debitKey(in.RequestID),
		CreatedAt:      generic.FromTime(l.now()),
	}
	if err := ledger.Append(ctx, tx); err != nil {
		return DebitResult{}, fmt.Errorf("append debit: %w", err)
	}
	return DebitResult{Applied: true, Transaction: tx}, nil
}

// Credit reverses a request's debit, restoring the same year and month. It is
// allowed on closed years; the archived row keeps its snapshot.
func (l *EntitlementLedger) Credit(ctx context.Context, in CreditInput) (CreditResult, error) {
	if in.RequestID == "" {
		return CreditResult{}, invalid("requestId", "required")
	}
	debit, found, err := generic.NewLedger(l.repo).Find(ctx, debitKey(in.RequestID))
	if err != nil {
		return CreditResult{}, fmt.Errorf("lookup debit: %w", err)
	}
	if !found {
		return CreditResult{}, &NotEligibleError{RequestID: in.RequestID, Reason: "no debit recorded"}
	}
	defer l.years.Enter(debit.EffectiveAt.Year())()

	var res CreditResult
	err = l.repo.WithTx(ctx, func(tx Repository) error {
		var err error
		res, err = l.creditIn(ctx, tx, in)
		if err != nil || !res.Applied {
			return err
		}
		return l.audit(ctx, tx, generic.AuditEntry{
			ActorID:     in.ActorID,
			Action:      generic.AuditDebitReversed,
			EntityID:    res.Transaction.EntityID,
			ReferenceID: in.RequestID,
			Payload:     map[string]string{"credit": res.Transaction.Delta.String(), "reason": in.Reason},
		})
	})
	return res, err
}

func (l *EntitlementLedger) creditIn(ctx context.Context, repo Repository, in CreditInput) (CreditResult, error) {
	ledger := generic.NewLedger(repo)
	debit, found, err := ledger.Find(ctx, debitKey(in.RequestID))
	if err != nil {
		return CreditResult{}, fmt.Errorf("lookup debit: %w", err)
	}
	if !found {
		return CreditResult{}, &NotEligibleError{RequestID: in.RequestID, Reason: "no debit recorded"}
	}
	existing, found, err := ledger.Find(ctx, creditKey(in.RequestID))
	if err != nil {
		return CreditResult{}, fmt.Errorf("lookup credit: %w", err)
	}
	if found {
		return CreditResult{Applied: false, Transaction: existing}, nil
	}

	debited := debit.Delta.Neg()
	amount := generic.NewAmountFromDecimal(in.Amount.Value, debited.Unit)
	if amount.IsZero() {
		amount = debited
	}
	if amount.IsNegative() || !amount.IsHalfDayMultiple() {
		return CreditResult{}, invalid("amount", "must be a positive multiple of 0.5")
	}
	if amount.GreaterThan(debited) {
		return CreditResult{}, invalid("amount", fmt.Sprintf("exceeds the debit of %s", debited))
	}

	txs, err := ledger.Transactions(ctx, debit.EntityID, debit.PolicyID)
	if err != nil {
		return CreditResult{}, fmt.Errorf("load stream: %w", err)
	}
	b := generic.Summarize(debit.EntityID, debit.PolicyID, generic.Period{}, txs, debited.Unit)
	if b.Used.Sub(amount).IsNegative() {
		return CreditResult{}, invalid("amount", "would drive used below zero")
	}

	reason := in.Reason
	if reason == "" {
		reason = "debit reversed"
	}
	tx := generic.Transaction{
		ID:             generic.TransactionID(uuid.NewString()),
		EntityID:       debit.EntityID,
		PolicyID:       debit.PolicyID,
		ResourceType:   debit.ResourceType,
		EffectiveAt:    debit.EffectiveAt,
		Delta:          amount,
		Type:           generic.TxReversal,
		ReferenceID:    in.RequestID,
		Reason:         reason,
		IdempotencyKey: creditKey(in.RequestID),
		CreatedBy:      in.ActorID,
		CreatedAt:      generic.FromTime(l.now()),
	}
	if err := ledger.Append(ctx, tx); err != nil {
		return CreditResult{}, fmt.Errorf("append credit: %w", err)
	}
	return CreditResult{Applied: true, Transaction: tx}, nil
}

// SetEntitlement overrides an entry's total with an adjustment transaction.
func (l *EntitlementLedger) SetEntitlement(ctx context.Context, in SetEntitlementInput) (Entry, error) {
	if in.EmployeeID == "" {
		return Entry{}, invalid("employeeId", "required")
	}
	p, err := l.policy(in.LeaveType)
	if err != nil {
		return Entry{}, err
	}
	if p.HasMonthlyQuota() {
		return Entry{}, invalid("leaveType", fmt.Sprintf("%s totals follow the monthly cap", p.Code))
	}
	if in.Total.IsNegative() || !in.Total.IsHalfDayMultiple() {
		return Entry{}, invalid("total", "must be a non-negative multiple of 0.5")
	}
	defer l.years.Enter(in.Year)()

	var out Entry
	err = l.repo.WithTx(ctx, func(tx Repository) error {
		current, err := l.balance(ctx, tx, in.EmployeeID, in.Year, p)
		if err != nil {
			return err
		}
		total := generic.NewAmountFromDecimal(in.Total.Value, p.Unit())
		if total.LessThan(current.Used) {
			return invalid("total", fmt.Sprintf("below the %s already used", current.Used))
		}
		delta := total.Sub(current.Total)
		if delta.IsZero() {
			out = current
			return nil
		}
		id := uuid.NewString()
		adj := generic.Transaction{
			ID:             generic.TransactionID(id),
			EntityID:       in.EmployeeID,
			PolicyID:       PolicyIDFor(p.Code, in.Year),
			ResourceType:   p.Code,
			EffectiveAt:    generic.StartOfYear(in.Year),
			Delta:          delta,
			Type:           generic.TxAdjustment,
			Reason:         in.Reason,
			IdempotencyKey: "adjust:" + id,
			CreatedBy:      in.ActorID,
			CreatedAt:      generic.FromTime(l.now()),
		}
		if err := generic.NewLedger(tx).Append(ctx, adj); err != nil {
			return fmt.Errorf("append adjustment: %w", err)
		}
		if err := l.audit(ctx, tx, generic.AuditEntry{
			ActorID:     in.ActorID,
			Action:      generic.AuditEntitlementSet,
			EntityID:    in.EmployeeID,
			ReferenceID: fmt.Sprintf("%s/%d", in.EmployeeID, in.Year),
			Payload: map[string]string{
				"leaveType": string(p.Code),
				"from":      current.Total.String(),
				"to":        total.String(),
			},
		}); err != nil {
			return err
		}
		out, err = l.balance(ctx, tx, in.EmployeeID, in.Year, p)
		return err
	})
	return out, err
}

// HasDebit reports whether a debit was recorded for requestID.
func (l *EntitlementLedger) HasDebit(ctx context.Context, requestID string) (bool, error) {
	return l.repo.Exists(ctx, debitKey(requestID))
}

// =============================================================================
// INTERNALS
// =============================================================================

func (l *EntitlementLedger) provision(ctx context.Context, repo Repository, employeeID generic.EntityID, year int, p Policy) error {
	key := grantKey(employeeID, p.Code, year)
	exists, err := repo.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("check grant: %w", err)
	}
	if exists {
		return nil
	}
	grant := generic.Transaction{
		ID:             generic.TransactionID(uuid.NewString()),
		EntityID:       employeeID,
		PolicyID:       PolicyIDFor(p.Code, year),
		ResourceType:   p.Code,
		EffectiveAt:    generic.StartOfYear(year),
		Delta:          p.YearlyTotal(),
		Type:           generic.TxGrant,
		Reason:         "annual entitlement",
		IdempotencyKey: key,
		CreatedBy:      "system",
		CreatedAt:      generic.FromTime(l.now()),
	}
	err = generic.NewLedger(repo).Append(ctx, grant)
	if errors.Is(err, generic.ErrDuplicateIdempotencyKey) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("provision %s: %w", grant.PolicyID, err)
	}
	return nil
}

// entry replays a stream without provisioning. The Balance is the raw
// yearly replay behind the entry.
func (l *EntitlementLedger) entry(ctx context.Context, repo Repository, employeeID generic.EntityID, year int, p Policy) (Entry, generic.Balance, error) {
	policyID := PolicyIDFor(p.Code, year)
	txs, err := generic.NewLedger(repo).Transactions(ctx, employeeID, policyID)
	if err != nil {
		return Entry{}, generic.Balance{}, fmt.Errorf("load %s: %w", policyID, err)
	}
	b := generic.Summarize(employeeID, policyID, generic.YearPeriod(year), txs, p.Unit())
	e := Entry{
		EmployeeID:          employeeID,
		Year:                year,
		Type:                p.Code,
		Total:               b.Total,
		Used:                b.Used,
		Remaining:           b.Remaining(),
		AccumulatedHalfDays: b.HalfDays,
		Capped:              p.Capped,
	}
	if !p.Capped && e.Remaining.IsNegative() {
		e.Remaining = e.Remaining.Zero()
	}
	if p.HasMonthlyQuota() {
		e.Monthly = monthlyBuckets(employeeID, policyID, year, txs, b.Total)
	}
	return e, b, nil
}

func monthlyTotal(yearTotal generic.Amount) generic.Amount {
	return generic.NewAmountFromDecimal(yearTotal.Value.Div(decimal.NewFromInt(12)), yearTotal.Unit)
}

func monthlyBuckets(employeeID generic.EntityID, policyID generic.PolicyID, year int, txs []generic.Transaction, yearTotal generic.Amount) map[string]MonthBucket {
	total := monthlyTotal(yearTotal)
	out := make(map[string]MonthBucket, 12)
	for m := time.January; m <= time.December; m++ {
		period := generic.MonthPeriod(year, m)
		var inMonth []generic.Transaction
		for _, tx := range txs {
			if period.Contains(tx.EffectiveAt) {
				inMonth = append(inMonth, tx)
			}
		}
		used := generic.Summarize(employeeID, policyID, period, inMonth, yearTotal.Unit).Used
		out[m.String()] = MonthBucket{Used: used, Total: total}
	}
	return out
}
