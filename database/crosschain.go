package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/tabwise-finance/tabwise/internal/apierror"
	"github.com/tabwise-finance/tabwise/model"
)

func marshalCrossChainBill(bill *model.CrossChainBill) (chains, amounts, flags []byte, err error) {
	chains, err = json.Marshal(bill.Chains)
	if err != nil {
		return nil, nil, nil, err
	}
	amounts, err = json.Marshal(bill.Amounts)
	if err != nil {
		return nil, nil, nil, err
	}
	if bill.SettledFlags == nil {
		bill.SettledFlags = map[string]bool{}
	}
	flags, err = json.Marshal(bill.SettledFlags)
	if err != nil {
		return nil, nil, nil, err
	}
	return chains, amounts, flags, nil
}

func (d Datasource) CreateCrossChainBill(bill model.CrossChainBill) (model.CrossChainBill, error) {
	chainsJSON, amountsJSON, flagsJSON, err := marshalCrossChainBill(&bill)
	if err != nil {
		return model.CrossChainBill{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal cross-chain bill", err)
	}

	bill.CreatedAt = time.Now()
	bill.UpdatedAt = bill.CreatedAt

	_, err = d.Conn.Exec(`
		INSERT INTO tabwise.crosschain_bills (bill_id, total, token, origin_chain, chains, amounts, settled_flags, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`, bill.BillID, bill.Total, bill.Token, bill.OriginChain, chainsJSON, amountsJSON, flagsJSON, bill.CreatedAt)
	if err != nil {
		return model.CrossChainBill{}, mapPqError(err, "Cross-chain bill with this ID already exists", "Failed to create cross-chain bill")
	}

	return bill, nil
}

// CreateCrossChainBillIfAbsent inserts the record only if no local record
// exists for the bill id yet: first-writer-wins, the rule that makes
// synchronization redelivery harmless.
func (d Datasource) CreateCrossChainBillIfAbsent(bill model.CrossChainBill) (bool, error) {
	chainsJSON, amountsJSON, flagsJSON, err := marshalCrossChainBill(&bill)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal cross-chain bill", err)
	}

	bill.CreatedAt = time.Now()

	result, err := d.Conn.Exec(`
		INSERT INTO tabwise.crosschain_bills (bill_id, total, token, origin_chain, chains, amounts, settled_flags, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (bill_id) DO NOTHING
	`, bill.BillID, bill.Total, bill.Token, bill.OriginChain, chainsJSON, amountsJSON, flagsJSON, bill.CreatedAt)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to sync cross-chain bill", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check sync result", err)
	}
	return affected > 0, nil
}

func (d Datasource) GetCrossChainBill(billID string) (*model.CrossChainBill, error) {
	bill := model.CrossChainBill{}

	row := d.Conn.QueryRow(`
		SELECT bill_id, total, token, origin_chain, chains, amounts, settled_flags, fully_settled, created_at, updated_at
		FROM tabwise.crosschain_bills
		WHERE bill_id = $1
	`, billID)

	var chainsJSON, amountsJSON, flagsJSON []byte
	err := row.Scan(&bill.BillID, &bill.Total, &bill.Token, &bill.OriginChain,
		&chainsJSON, &amountsJSON, &flagsJSON, &bill.FullySettled, &bill.CreatedAt, &bill.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Cross-chain bill not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve cross-chain bill", err)
	}

	if err := json.Unmarshal(chainsJSON, &bill.Chains); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal chains", err)
	}
	if err := json.Unmarshal(amountsJSON, &bill.Amounts); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal amounts", err)
	}
	if err := json.Unmarshal(flagsJSON, &bill.SettledFlags); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal settled flags", err)
	}

	return &bill, nil
}

func (d Datasource) UpdateCrossChainFlags(ctx context.Context, billID string, settledFlags map[string]bool, fullySettled bool) error {
	flagsJSON, err := json.Marshal(settledFlags)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal settled flags", err)
	}

	_, err = d.Conn.ExecContext(ctx, `
		UPDATE tabwise.crosschain_bills
		SET settled_flags = $2, fully_settled = fully_settled OR $3, updated_at = $4
		WHERE bill_id = $1
	`, billID, flagsJSON, fullySettled, time.Now())
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update settled flags", err)
	}
	return nil
}

// RecordPendingPayment appends a received payment notification. The
// pending_id is derived from the relay message id, so redelivered messages
// collapse into the existing row instead of duplicating the audit trail.
func (d Datasource) RecordPendingPayment(payment model.PendingPayment) (model.PendingPayment, error) {
	if payment.PendingID == "" {
		payment.PendingID = model.GenerateUUIDWithSuffix("pp")
	}
	payment.ReceivedAt = time.Now()

	_, err := d.Conn.Exec(`
		INSERT INTO tabwise.pending_payments (pending_id, bill_id, payer, amount, token, source_chain, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (pending_id) DO NOTHING
	`, payment.PendingID, payment.BillID, payment.Payer, payment.Amount, payment.Token, payment.SourceChain, payment.ReceivedAt)
	if err != nil {
		return model.PendingPayment{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record pending payment", err)
	}

	return payment, nil
}

func (d Datasource) GetPendingPayments(billID string, includeProcessed bool) ([]model.PendingPayment, error) {
	rows, err := d.Conn.Query(`
		SELECT pending_id, bill_id, payer, amount, token, source_chain, processed, received_at
		FROM tabwise.pending_payments
		WHERE bill_id = $1 AND (processed = FALSE OR $2)
		ORDER BY id ASC
	`, billID, includeProcessed)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve pending payments", err)
	}
	defer rows.Close()

	payments := []model.PendingPayment{}
	for rows.Next() {
		payment := model.PendingPayment{}
		err := rows.Scan(&payment.PendingID, &payment.BillID, &payment.Payer, &payment.Amount,
			&payment.Token, &payment.SourceChain, &payment.Processed, &payment.ReceivedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan pending payment", err)
		}
		payments = append(payments, payment)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over pending payments", err)
	}
	return payments, nil
}

func (d Datasource) MarkPendingPaymentProcessed(ctx context.Context, pendingID string) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE tabwise.pending_payments SET processed = TRUE WHERE pending_id = $1
	`, pendingID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark pending payment processed", err)
	}
	return nil
}
