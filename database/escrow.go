package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/tabwise-finance/tabwise/internal/apierror"
	"github.com/tabwise-finance/tabwise/model"
)

func (d Datasource) CreateEscrow(escrow model.Escrow) (model.Escrow, error) {
	escrow.EscrowID = model.GenerateUUIDWithSuffix("esc")
	escrow.CreatedAt = time.Now()

	_, err := d.Conn.Exec(`
		INSERT INTO tabwise.escrows (escrow_id, bill_id, required_total, token, payee, payment_deadline)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, escrow.EscrowID, escrow.BillID, escrow.RequiredTotal, escrow.Token, escrow.Payee, escrow.PaymentDeadline)
	if err != nil {
		return model.Escrow{}, mapPqError(err, "Escrow already initialized for this bill", "Failed to create escrow")
	}

	return escrow, nil
}

func (d Datasource) GetEscrowByBillID(billID string) (*model.Escrow, error) {
	escrow := model.Escrow{}

	row := d.Conn.QueryRow(`
		SELECT escrow_id, bill_id, required_total, token, payee, collected, fully_paid, settled, refunded, disputed, payment_deadline, dispute_deadline, settled_at, created_at
		FROM tabwise.escrows
		WHERE bill_id = $1
	`, billID)

	var disputeDeadline, settledAt sql.NullTime
	err := row.Scan(&escrow.EscrowID, &escrow.BillID, &escrow.RequiredTotal, &escrow.Token,
		&escrow.Payee, &escrow.Collected, &escrow.FullyPaid, &escrow.Settled, &escrow.Refunded,
		&escrow.Disputed, &escrow.PaymentDeadline, &disputeDeadline, &settledAt, &escrow.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Escrow not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve escrow", err)
	}

	if disputeDeadline.Valid {
		escrow.DisputeDeadline = &disputeDeadline.Time
	}
	if settledAt.Valid {
		escrow.SettledAt = &settledAt.Time
	}

	payments, err := d.getEscrowPayments(billID)
	if err != nil {
		return nil, err
	}
	escrow.Payments = payments

	return &escrow, nil
}

func (d Datasource) getEscrowPayments(billID string) ([]model.Payment, error) {
	rows, err := d.Conn.Query(`
		SELECT payment_id, bill_id, payer, amount, token, settled, refunded, paid_at
		FROM tabwise.escrow_payments
		WHERE bill_id = $1
		ORDER BY id ASC
	`, billID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve payments", err)
	}
	defer rows.Close()

	payments := []model.Payment{}
	for rows.Next() {
		payment := model.Payment{}
		err := rows.Scan(&payment.PaymentID, &payment.BillID, &payment.Payer, &payment.Amount,
			&payment.Token, &payment.Settled, &payment.Refunded, &payment.PaidAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan payment", err)
		}
		payments = append(payments, payment)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over payments", err)
	}
	return payments, nil
}

// RecordPayment appends a payment entry. The unique (bill_id, payer) index
// enforces the one-entry-per-payer rule at the storage layer too.
func (d Datasource) RecordPayment(ctx context.Context, payment model.Payment) (model.Payment, error) {
	payment.PaymentID = model.GenerateUUIDWithSuffix("pay")
	payment.PaidAt = time.Now()

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO tabwise.escrow_payments (payment_id, bill_id, payer, amount, token, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, payment.PaymentID, payment.BillID, payment.Payer, payment.Amount, payment.Token, payment.PaidAt)
	if err != nil {
		return model.Payment{}, mapPqError(err, "Payer already has a payment for this bill", "Failed to record payment")
	}

	return payment, nil
}

func (d Datasource) UpdateEscrowCollected(ctx context.Context, billID string, collected int64, fullyPaid bool) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE tabwise.escrows
		SET collected = $2, fully_paid = $3
		WHERE bill_id = $1
	`, billID, collected, fullyPaid)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update escrow totals", err)
	}
	return nil
}

func (d Datasource) MarkEscrowSettled(ctx context.Context, billID string, settledAt time.Time) error {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.Exec(`
		UPDATE tabwise.escrows
		SET settled = TRUE, settled_at = $2
		WHERE bill_id = $1 AND settled = FALSE AND refunded = FALSE
	`, billID, settledAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark escrow settled", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check settlement result", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, "Escrow already settled or refunded", nil)
	}

	_, err = tx.Exec(`
		UPDATE tabwise.escrow_payments SET settled = TRUE WHERE bill_id = $1
	`, billID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark payments settled", err)
	}

	if err := tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit settlement", err)
	}
	return nil
}

// MarkPaymentRefunded flags a single payment as refunded. The refund loop
// calls this right after each transfer so a retried refund skips the payment.
func (d Datasource) MarkPaymentRefunded(ctx context.Context, paymentID string) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE tabwise.escrow_payments SET refunded = TRUE WHERE payment_id = $1 AND refunded = FALSE
	`, paymentID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark payment refunded", err)
	}
	return nil
}

// MarkEscrowRefunded flips the escrow and every not-yet-refunded payment to
// refunded. The per-payment refunded flag makes repeated refund attempts
// no-ops.
func (d Datasource) MarkEscrowRefunded(ctx context.Context, billID string) error {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.Exec(`
		UPDATE tabwise.escrows
		SET refunded = TRUE, disputed = FALSE
		WHERE bill_id = $1
	`, billID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark escrow refunded", err)
	}

	_, err = tx.Exec(`
		UPDATE tabwise.escrow_payments SET refunded = TRUE WHERE bill_id = $1 AND refunded = FALSE
	`, billID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark payments refunded", err)
	}

	if err := tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit refund", err)
	}
	return nil
}

func (d Datasource) OpenDispute(dispute model.Dispute, disputeDeadline time.Time) (model.Dispute, error) {
	dispute.DisputeID = model.GenerateUUIDWithSuffix("dsp")
	dispute.RaisedAt = time.Now()

	tx, err := d.Conn.Begin()
	if err != nil {
		return model.Dispute{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.Exec(`
		INSERT INTO tabwise.disputes (dispute_id, bill_id, challenger, reason, raised_at)
		VALUES ($1, $2, $3, $4, $5)
	`, dispute.DisputeID, dispute.BillID, dispute.Challenger, dispute.Reason, dispute.RaisedAt)
	if err != nil {
		return model.Dispute{}, mapPqError(err, "Dispute already exists", "Failed to open dispute")
	}

	_, err = tx.Exec(`
		UPDATE tabwise.escrows
		SET disputed = TRUE, dispute_deadline = $2
		WHERE bill_id = $1
	`, dispute.BillID, disputeDeadline)
	if err != nil {
		return model.Dispute{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to flag escrow disputed", err)
	}

	if err := tx.Commit(); err != nil {
		return model.Dispute{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit dispute", err)
	}

	return dispute, nil
}

func (d Datasource) CloseDispute(ctx context.Context, billID string, approved bool, resolvedAt time.Time) error {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.Exec(`
		UPDATE tabwise.disputes
		SET resolved = TRUE, approved = $2, resolved_at = $3
		WHERE bill_id = $1 AND resolved = FALSE
	`, billID, approved, resolvedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to resolve dispute", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check resolution result", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, "No open dispute for this bill", nil)
	}

	// a rejected dispute stops blocking settlement immediately
	if !approved {
		_, err = tx.Exec(`
			UPDATE tabwise.escrows SET disputed = FALSE WHERE bill_id = $1
		`, billID)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to clear dispute flag", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit dispute resolution", err)
	}
	return nil
}

func (d Datasource) GetOpenDispute(billID string) (*model.Dispute, error) {
	dispute := model.Dispute{}

	row := d.Conn.QueryRow(`
		SELECT dispute_id, bill_id, challenger, reason, resolved, approved, raised_at, resolved_at
		FROM tabwise.disputes
		WHERE bill_id = $1 AND resolved = FALSE
		ORDER BY raised_at DESC
		LIMIT 1
	`, billID)

	var resolvedAt sql.NullTime
	err := row.Scan(&dispute.DisputeID, &dispute.BillID, &dispute.Challenger, &dispute.Reason,
		&dispute.Resolved, &dispute.Approved, &dispute.RaisedAt, &resolvedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "No open dispute", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve dispute", err)
	}
	if resolvedAt.Valid {
		dispute.ResolvedAt = &resolvedAt.Time
	}

	return &dispute, nil
}
