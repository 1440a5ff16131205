/*
balance.go - Replaying transactions into a balance

PURPOSE:
  Answers "how much does this employee have left?" for one ledger stream
  within one period. Nothing here is stored; every Balance is rebuilt from
  the transactions that fall inside the period.

COMPONENTS:
  Total:    grants + adjustments (the entitlement)
  Used:     consumption - reversals
  HalfDays: debits carrying a trailing half day, net of reversed ones

  Remaining = Total - Used

SEE ALSO:
  - ledger.go: where the transactions come from
  - leave/entitlement.go: monthly short-leave buckets use MonthPeriod here
*/
package generic

import "context"

// =============================================================================
// BALANCE
// =============================================================================

type Balance struct {
	EntityID EntityID
	PolicyID PolicyID
	Period   Period

	Total    Amount
	Used     Amount
	HalfDays int

	// Provisioned is true once any grant or adjustment exists.
	Provisioned bool
	// Transactions is the number of transactions replayed.
	Transactions int
}

func (b Balance) Remaining() Amount {
	return b.Total.Sub(b.Used)
}

// CanConsume reports whether amount fits under the total. Uncapped callers
// skip this check entirely.
func (b Balance) CanConsume(amount Amount) bool {
	return !b.Used.Add(amount).GreaterThan(b.Total)
}

// Summarize folds transactions into a Balance. Order does not matter.
func Summarize(entityID EntityID, policyID PolicyID, period Period, txs []Transaction, unit Unit) Balance {
	b := Balance{
		EntityID: entityID,
		PolicyID: policyID,
		Period:   period,
		Total:    NewAmount(0, unit),
		Used:     NewAmount(0, unit),
	}
	for _, tx := range txs {
		b.Transactions++
		switch tx.Type {
		case TxGrant, TxAdjustment:
			b.Total = b.Total.Add(tx.Delta)
			b.Provisioned = true
		case TxConsumption:
			b.Used = b.Used.Add(tx.Delta.Neg())
			if tx.Delta.HasHalfDay() {
				b.HalfDays++
			}
		case TxReversal:
			b.Used = b.Used.Sub(tx.Delta)
			if tx.Delta.HasHalfDay() {
				b.HalfDays--
			}
		}
	}
	return b
}

// =============================================================================
// BALANCE CALCULATOR
// =============================================================================

type BalanceCalculator struct {
	Ledger Ledger
}

// CalculateBalance replays the stream's transactions inside period.
func (bc *BalanceCalculator) CalculateBalance(
	ctx context.Context,
	entityID EntityID,
	policyID PolicyID,
	period Period,
	unit Unit,
) (Balance, error) {
	txs, err := bc.Ledger.TransactionsInRange(ctx, entityID, policyID, period.Start, period.End)
	if err != nil {
		return Balance{}, err
	}
	return Summarize(entityID, policyID, period, txs, unit), nil
}
