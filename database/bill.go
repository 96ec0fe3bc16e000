package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/tabwise-finance/tabwise/internal/apierror"
	"github.com/tabwise-finance/tabwise/model"
)

func (d Datasource) CreateBill(bill model.Bill) (model.Bill, error) {
	chainsJSON, err := json.Marshal(bill.Chains)
	if err != nil {
		return model.Bill{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal chains", err)
	}

	if bill.BillID == "" {
		bill.BillID = model.GenerateUUIDWithSuffix("bill")
	}
	bill.CreatedAt = time.Now()

	tx, err := d.Conn.Begin()
	if err != nil {
		return model.Bill{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.Exec(`
		INSERT INTO tabwise.bills (bill_id, group_id, creator, description, total, token, split_type, cross_chain, chains, due_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, bill.BillID, bill.GroupID, bill.Creator, bill.Description, bill.Total, bill.Token,
		bill.SplitType, bill.CrossChain, chainsJSON, bill.DueDate)
	if err != nil {
		return model.Bill{}, mapPqError(err, "Bill with this ID already exists", "Failed to create bill")
	}

	for _, split := range bill.Splits {
		_, err = tx.Exec(`
			INSERT INTO tabwise.bill_splits (bill_id, member, amount)
			VALUES ($1, $2, $3)
		`, bill.BillID, split.Member, split.Amount)
		if err != nil {
			return model.Bill{}, mapPqError(err, "Duplicate bill split", "Failed to record bill split")
		}
	}

	if err := tx.Commit(); err != nil {
		return model.Bill{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit bill", err)
	}

	return bill, nil
}

func (d Datasource) GetBillByID(id string) (*model.Bill, error) {
	bill := model.Bill{}

	row := d.Conn.QueryRow(`
		SELECT bill_id, group_id, creator, description, total, token, split_type, cross_chain, chains, settled, settled_at, created_at, due_date
		FROM tabwise.bills
		WHERE bill_id = $1
	`, id)

	var chainsJSON []byte
	var settledAt sql.NullTime
	err := row.Scan(&bill.BillID, &bill.GroupID, &bill.Creator, &bill.Description, &bill.Total,
		&bill.Token, &bill.SplitType, &bill.CrossChain, &chainsJSON, &bill.Settled, &settledAt,
		&bill.CreatedAt, &bill.DueDate)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Bill not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve bill", err)
	}

	if len(chainsJSON) > 0 {
		if err := json.Unmarshal(chainsJSON, &bill.Chains); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal chains", err)
		}
	}
	if settledAt.Valid {
		bill.SettledAt = &settledAt.Time
	}

	splits, err := d.getBillSplits(id)
	if err != nil {
		return nil, err
	}
	bill.Splits = splits

	return &bill, nil
}

func (d Datasource) getBillSplits(billID string) ([]model.BillSplit, error) {
	rows, err := d.Conn.Query(`
		SELECT member, amount
		FROM tabwise.bill_splits
		WHERE bill_id = $1
		ORDER BY id ASC
	`, billID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve bill splits", err)
	}
	defer rows.Close()

	splits := []model.BillSplit{}
	for rows.Next() {
		split := model.BillSplit{}
		if err := rows.Scan(&split.Member, &split.Amount); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan bill split", err)
		}
		splits = append(splits, split)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over splits", err)
	}
	return splits, nil
}

func (d Datasource) GetBillsByGroup(groupID string, limit, offset int) ([]model.Bill, error) {
	rows, err := d.Conn.Query(`
		SELECT bill_id, group_id, creator, description, total, token, split_type, cross_chain, settled, created_at, due_date
		FROM tabwise.bills
		WHERE group_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, groupID, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve bills", err)
	}
	defer rows.Close()

	return scanBillRows(rows)
}

func (d Datasource) GetBillsByMember(member string, limit, offset int) ([]model.Bill, error) {
	rows, err := d.Conn.Query(`
		SELECT b.bill_id, b.group_id, b.creator, b.description, b.total, b.token, b.split_type, b.cross_chain, b.settled, b.created_at, b.due_date
		FROM tabwise.bills b
		JOIN tabwise.bill_splits s ON s.bill_id = b.bill_id
		WHERE s.member = $1
		ORDER BY b.created_at DESC
		LIMIT $2 OFFSET $3
	`, member, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve bills", err)
	}
	defer rows.Close()

	return scanBillRows(rows)
}

func scanBillRows(rows *sql.Rows) ([]model.Bill, error) {
	bills := []model.Bill{}
	for rows.Next() {
		bill := model.Bill{}
		err := rows.Scan(&bill.BillID, &bill.GroupID, &bill.Creator, &bill.Description, &bill.Total,
			&bill.Token, &bill.SplitType, &bill.CrossChain, &bill.Settled, &bill.CreatedAt, &bill.DueDate)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan bill data", err)
		}
		bills = append(bills, bill)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over bills", err)
	}
	return bills, nil
}

func (d Datasource) MarkBillSettled(ctx context.Context, billID string, settledAt time.Time) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE tabwise.bills
		SET settled = TRUE, settled_at = $2
		WHERE bill_id = $1 AND settled = FALSE
	`, billID, settledAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark bill settled", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check settlement result", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, "Bill already settled or not found", nil)
	}
	return nil
}
