package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// TRANSACTION STORE (generic.Store interface)
// =============================================================================

const txColumns = `id, entity_id, policy_id, resource_type, effective_at, delta_value, delta_unit,
	tx_type, reference_id, reason, idempotency_key, metadata_json, created_by, created_at`

// Append adds a transaction to the ledger.
func (c *conn) Append(ctx context.Context, tx generic.Transaction) error {
	var metadataJSON sql.NullString
	if len(tx.Metadata) > 0 {
		b, err := json.Marshal(tx.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		metadataJSON = sql.NullString{String: string(b), Valid: true}
	}
	resourceType := ""
	if tx.ResourceType != nil {
		resourceType = tx.ResourceType.ResourceID()
	}

	_, err := c.q.ExecContext(ctx, `
		INSERT INTO transactions (`+txColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID,
		tx.EntityID,
		tx.PolicyID,
		resourceType,
		tx.EffectiveAt.String(),
		tx.Delta.Value.String(),
		tx.Delta.Unit,
		tx.Type,
		nullString(tx.ReferenceID),
		nullString(tx.Reason),
		nullString(tx.IdempotencyKey),
		metadataJSON,
		nullString(tx.CreatedBy),
		tx.CreatedAt.String(),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

// AppendBatch adds multiple transactions. Atomic only inside WithTx.
func (c *conn) AppendBatch(ctx context.Context, txs []generic.Transaction) error {
	seen := make(map[string]bool, len(txs))
	for _, tx := range txs {
		if tx.IdempotencyKey == "" {
			continue
		}
		if seen[tx.IdempotencyKey] {
			return generic.ErrDuplicateIdempotencyKey
		}
		seen[tx.IdempotencyKey] = true
	}
	for _, tx := range txs {
		if err := c.Append(ctx, tx); err != nil {
			return err
		}
	}
	return nil
}

// Load returns one stream in effective order.
func (c *conn) Load(ctx context.Context, entityID generic.EntityID, policyID generic.PolicyID) ([]generic.Transaction, error) {
	return c.queryTransactions(ctx, `
		SELECT `+txColumns+`
		FROM transactions
		WHERE entity_id = ? AND policy_id = ?
		ORDER BY effective_at ASC, seq ASC`,
		entityID, policyID)
}

// LoadRange returns the part of a stream dated within [from, to].
func (c *conn) LoadRange(ctx context.Context, entityID generic.EntityID, policyID generic.PolicyID, from, to generic.TimePoint) ([]generic.Transaction, error) {
	return c.queryTransactions(ctx, `
		SELECT `+txColumns+`
		FROM transactions
		WHERE entity_id = ? AND policy_id = ?
		  AND effective_at >= ? AND effective_at <= ?
		ORDER BY effective_at ASC, seq ASC`,
		entityID, policyID, from.String(), to.String())
}

func (c *conn) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	var count int
	err := c.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check idempotency key: %w", err)
	}
	return count > 0, nil
}

func (c *conn) FindByKey(ctx context.Context, idempotencyKey string) (generic.Transaction, bool, error) {
	txs, err := c.queryTransactions(ctx, `
		SELECT `+txColumns+`
		FROM transactions
		WHERE idempotency_key = ?`,
		idempotencyKey)
	if err != nil || len(txs) == 0 {
		return generic.Transaction{}, false, err
	}
	return txs[0], true, nil
}

// Keys lists every stream, ordered by entity then policy.
func (c *conn) Keys(ctx context.Context) ([]generic.Key, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT DISTINCT entity_id, policy_id
		FROM transactions
		ORDER BY entity_id, policy_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query keys: %w", err)
	}
	defer rows.Close()

	var keys []generic.Key
	for rows.Next() {
		var k generic.Key
		if err := rows.Scan(&k.EntityID, &k.PolicyID); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (c *conn) queryTransactions(ctx context.Context, query string, args ...any) ([]generic.Transaction, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []generic.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

func scanTransaction(rows *sql.Rows) (generic.Transaction, error) {
	var (
		tx             generic.Transaction
		resourceTypeID string
		effectiveAt    string
		deltaValue     string
		deltaUnit      string
		referenceID    sql.NullString
		reason         sql.NullString
		idempotencyKey sql.NullString
		metadataJSON   sql.NullString
		createdBy      sql.NullString
		createdAt      string
	)

	err := rows.Scan(
		&tx.ID, &tx.EntityID, &tx.PolicyID, &resourceTypeID,
		&effectiveAt, &deltaValue, &deltaUnit, &tx.Type,
		&referenceID, &reason, &idempotencyKey, &metadataJSON, &createdBy, &createdAt,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	tx.ResourceType = generic.GetOrCreateResource(resourceTypeID)
	if tx.EffectiveAt, err = generic.ParseDate(effectiveAt); err != nil {
		return tx, fmt.Errorf("transaction %s effective_at: %w", tx.ID, err)
	}
	if tx.CreatedAt, err = generic.ParseDate(createdAt); err != nil {
		return tx, fmt.Errorf("transaction %s created_at: %w", tx.ID, err)
	}
	if tx.Delta, err = parseAmount(deltaValue, deltaUnit); err != nil {
		return tx, err
	}
	tx.ReferenceID = referenceID.String
	tx.Reason = reason.String
	tx.IdempotencyKey = idempotencyKey.String
	tx.CreatedBy = createdBy.String

	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &tx.Metadata); err != nil {
			return tx, errors.Join(fmt.Errorf("transaction %s metadata", tx.ID), err)
		}
	}
	return tx, nil
}
