/*
Copyright 2024 Tabwise Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package tabwise

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/tabwise-finance/tabwise/internal/apierror"
	"github.com/tabwise-finance/tabwise/model"
)

func expectTokenSupported(mock sqlmock.Sqlmock, token string, supported bool) {
	rows := sqlmock.NewRows([]string{"1"})
	if supported {
		rows.AddRow(1)
	}
	mock.ExpectQuery("SELECT 1 FROM tabwise.supported_tokens").
		WithArgs(token).
		WillReturnRows(rows)
}

func billGroup() *model.Group {
	return &model.Group{
		GroupID: "grp_1",
		Name:    "flat share",
		Creator: "0xalice",
		Active:  true,
		Members: []model.GroupMember{
			{Address: "0xalice", CanCreateBills: true},
			{Address: "0xbob"},
			{Address: "0xcarol"},
		},
	}
}

func TestCreateBillEqualSplit(t *testing.T) {
	engine, mock, _ := newTestEngine(t)

	expectTokenSupported(mock, "USDC", true)
	expectGroupLookup(mock, billGroup())

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO tabwise.bills").
		WillReturnResult(sqlmock.NewResult(1, 1))
	for range []int{0, 1, 2} {
		mock.ExpectExec("INSERT INTO tabwise.bill_splits").
			WillReturnResult(sqlmock.NewResult(1, 1))
	}
	mock.ExpectCommit()
	mock.ExpectExec("UPDATE tabwise.groups").
		WithArgs("grp_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// the computed structure is recorded trusted before the escrow opens
	mock.ExpectExec("INSERT INTO tabwise.verified_structures").
		WillReturnResult(sqlmock.NewResult(1, 1))
	expectTokenSupported(mock, "USDC", true)
	mock.ExpectExec("INSERT INTO tabwise.escrows").
		WillReturnResult(sqlmock.NewResult(1, 1))

	bill, err := engine.CreateBill(context.Background(), model.Bill{
		GroupID:     "grp_1",
		Creator:     "0xalice",
		Description: "groceries",
		Total:       1000,
		Token:       "USDC",
		SplitType:   model.SplitEqual,
	}, nil)
	assert.NoError(t, err)
	assert.Contains(t, bill.BillID, "bill_")
	assert.Len(t, bill.Splits, 3)
	// remainder lands on the first member
	assert.Equal(t, int64(334), bill.Splits[0].Amount)
	assert.Equal(t, int64(333), bill.Splits[1].Amount)
	assert.Equal(t, int64(333), bill.Splits[2].Amount)
	assert.Equal(t, bill.Total, bill.SplitTotal())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBillPercentageSplit(t *testing.T) {
	engine, mock, _ := newTestEngine(t)

	expectTokenSupported(mock, "USDC", true)
	expectGroupLookup(mock, billGroup())

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO tabwise.bills").
		WillReturnResult(sqlmock.NewResult(1, 1))
	for range []int{0, 1, 2} {
		mock.ExpectExec("INSERT INTO tabwise.bill_splits").
			WillReturnResult(sqlmock.NewResult(1, 1))
	}
	mock.ExpectCommit()
	mock.ExpectExec("UPDATE tabwise.groups").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO tabwise.verified_structures").
		WillReturnResult(sqlmock.NewResult(1, 1))
	expectTokenSupported(mock, "USDC", true)
	mock.ExpectExec("INSERT INTO tabwise.escrows").
		WillReturnResult(sqlmock.NewResult(1, 1))

	bill, err := engine.CreateBill(context.Background(), model.Bill{
		GroupID:   "grp_1",
		Creator:   "0xalice",
		Total:     1000,
		Token:     "USDC",
		SplitType: model.SplitPercentage,
	}, []int64{5000, 3000, 2000})
	assert.NoError(t, err)
	assert.Equal(t, int64(500), bill.Splits[0].Amount)
	assert.Equal(t, int64(300), bill.Splits[1].Amount)
	assert.Equal(t, int64(200), bill.Splits[2].Amount)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBillInvalidPercentages(t *testing.T) {
	engine, mock, _ := newTestEngine(t)

	expectTokenSupported(mock, "USDC", true)
	expectGroupLookup(mock, billGroup())

	_, err := engine.CreateBill(context.Background(), model.Bill{
		GroupID:   "grp_1",
		Creator:   "0xalice",
		Total:     1000,
		Token:     "USDC",
		SplitType: model.SplitPercentage,
	}, []int64{5000, 3000, 1000}) // 90%
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBillRequiresPermission(t *testing.T) {
	engine, mock, _ := newTestEngine(t)

	expectTokenSupported(mock, "USDC", true)
	expectGroupLookup(mock, billGroup())

	_, err := engine.CreateBill(context.Background(), model.Bill{
		GroupID:   "grp_1",
		Creator:   "0xbob", // member without bill-creation rights
		Total:     1000,
		Token:     "USDC",
		SplitType: model.SplitEqual,
	}, nil)
	assert.True(t, apierror.Is(err, apierror.ErrUnauthorized))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBillUnsupportedToken(t *testing.T) {
	engine, mock, _ := newTestEngine(t)

	expectTokenSupported(mock, "SHADYCOIN", false)

	_, err := engine.CreateBill(context.Background(), model.Bill{
		GroupID:   "grp_1",
		Creator:   "0xalice",
		Total:     1000,
		Token:     "SHADYCOIN",
		SplitType: model.SplitEqual,
	}, nil)
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBillDueDateTooFar(t *testing.T) {
	engine, mock, _ := newTestEngine(t)

	expectTokenSupported(mock, "USDC", true)
	expectGroupLookup(mock, billGroup())

	_, err := engine.CreateBill(context.Background(), model.Bill{
		GroupID:   "grp_1",
		Creator:   "0xalice",
		Total:     1000,
		Token:     "USDC",
		SplitType: model.SplitEqual,
		DueDate:   time.Now().Add(366 * 24 * time.Hour),
	}, nil)
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func billRow(bill *model.Bill) *sqlmock.Rows {
	chains := []byte(`[]`)
	return sqlmock.NewRows([]string{"bill_id", "group_id", "creator", "description", "total", "token", "split_type", "cross_chain", "chains", "settled", "settled_at", "created_at", "due_date"}).
		AddRow(bill.BillID, bill.GroupID, bill.Creator, bill.Description, bill.Total, bill.Token,
			bill.SplitType, bill.CrossChain, chains, bill.Settled, bill.SettledAt, time.Now(), bill.DueDate)
}

func splitRows(splits ...model.BillSplit) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"member", "amount"})
	for _, s := range splits {
		rows.AddRow(s.Member, s.Amount)
	}
	return rows
}

func expectBillLookup(mock sqlmock.Sqlmock, bill *model.Bill) {
	mock.ExpectQuery("SELECT bill_id, group_id, creator").
		WithArgs(bill.BillID).
		WillReturnRows(billRow(bill))
	mock.ExpectQuery("SELECT member, amount").
		WithArgs(bill.BillID).
		WillReturnRows(splitRows(bill.Splits...))
}

func TestSettleBill(t *testing.T) {
	engine, mock, _ := newTestEngine(t)

	bill := &model.Bill{
		BillID:    "bill_1",
		GroupID:   "grp_1",
		Creator:   "0xalice",
		Total:     1000,
		Token:     "USDC",
		SplitType: model.SplitEqual,
		DueDate:   time.Now().Add(time.Hour),
		Splits:    []model.BillSplit{{Member: "0xalice", Amount: 500}, {Member: "0xbob", Amount: 500}},
	}
	expectBillLookup(mock, bill)

	escrow := openEscrow("bill_1")
	escrow.Collected = 1000
	escrow.FullyPaid = true
	expectEscrowLookup(mock, escrow)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE tabwise.escrows").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE tabwise.escrow_payments").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectExec("UPDATE tabwise.bills").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE tabwise.groups").
		WithArgs("grp_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	settled, err := engine.SettleBill(context.Background(), "bill_1")
	assert.NoError(t, err)
	assert.True(t, settled.Settled)
	assert.NotNil(t, settled.SettledAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettleBillAlreadySettled(t *testing.T) {
	engine, mock, _ := newTestEngine(t)

	settledAt := time.Now()
	bill := &model.Bill{
		BillID:    "bill_1",
		GroupID:   "grp_1",
		Total:     1000,
		Token:     "USDC",
		SplitType: model.SplitEqual,
		Settled:   true,
		SettledAt: &settledAt,
	}
	expectBillLookup(mock, bill)

	_, err := engine.SettleBill(context.Background(), "bill_1")
	assert.True(t, apierror.Is(err, apierror.ErrConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}
