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
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/tabwise-finance/tabwise/config"
	"github.com/tabwise-finance/tabwise/internal/apierror"
	"github.com/tabwise-finance/tabwise/model"
)

func newBridgeEngine(t *testing.T) (*Tabwise, sqlmock.Sqlmock, *relayRecorder) {
	return newTestEngineWithConfig(t, &config.Configuration{
		Chain: config.ChainConfig{LocalChain: "base", LocalAddress: "0xtabwise", RelayFee: 10},
	})
}

func expectChainSupported(mock sqlmock.Sqlmock, chain string, supported bool) {
	rows := sqlmock.NewRows([]string{"1"})
	if supported {
		rows.AddRow(1)
	}
	mock.ExpectQuery("SELECT 1 FROM tabwise.supported_chains").
		WithArgs(chain).
		WillReturnRows(rows)
}

func expectCounterpart(mock sqlmock.Sqlmock, chain, counterpart string) {
	mock.ExpectQuery("SELECT counterpart FROM tabwise.supported_chains").
		WithArgs(chain).
		WillReturnRows(sqlmock.NewRows([]string{"counterpart"}).AddRow(counterpart))
}

func TestRegisterCrossChainBill(t *testing.T) {
	engine, mock, recorder := newBridgeEngine(t)

	expectChainSupported(mock, "polygon", true)
	mock.ExpectExec("INSERT INTO tabwise.crosschain_bills").
		WillReturnResult(sqlmock.NewResult(1, 1))

	bill, err := engine.RegisterCrossChainBill(context.Background(), "", "USDC", 1000,
		[]string{"base", "polygon"}, map[string]int64{"base": 600, "polygon": 400})
	assert.NoError(t, err)
	assert.Contains(t, bill.BillID, "xcb_")
	assert.Equal(t, "base", bill.OriginChain)

	msgs := recorder.recorded()
	assert.Len(t, msgs, 1)
	assert.Equal(t, "polygon", msgs[0].Destination)
	assert.Equal(t, model.MessageKindSync, msgs[0].Kind)

	var sync model.SyncMessage
	assert.NoError(t, json.Unmarshal(msgs[0].Payload, &sync))
	assert.Equal(t, bill.BillID, sync.BillID)
	assert.Equal(t, int64(1000), sync.Total)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterCrossChainBillRelayFailureSurfaces(t *testing.T) {
	engine, mock, _ := newBridgeEngine(t)
	engine.relay = failingRelay{}

	expectChainSupported(mock, "polygon", true)
	mock.ExpectExec("INSERT INTO tabwise.crosschain_bills").
		WillReturnResult(sqlmock.NewResult(1, 1))

	_, err := engine.RegisterCrossChainBill(context.Background(), "", "USDC", 1000,
		[]string{"base", "polygon"}, map[string]int64{"base": 600, "polygon": 400})
	assert.True(t, apierror.Is(err, apierror.ErrExternalCall))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterCrossChainBillValidation(t *testing.T) {
	engine, mock, _ := newBridgeEngine(t)
	ctx := context.Background()

	_, err := engine.RegisterCrossChainBill(ctx, "", "USDC", 0, []string{"base", "polygon"}, nil)
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))

	_, err = engine.RegisterCrossChainBill(ctx, "", "USDC", 1000, []string{"base"}, map[string]int64{"base": 1000})
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))

	// amounts that do not add up
	expectChainSupported(mock, "polygon", true)
	_, err = engine.RegisterCrossChainBill(ctx, "", "USDC", 1000,
		[]string{"base", "polygon"}, map[string]int64{"base": 600, "polygon": 300})
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))

	// local chain missing
	expectChainSupported(mock, "polygon", true)
	expectChainSupported(mock, "arbitrum", true)
	_, err = engine.RegisterCrossChainBill(ctx, "", "USDC", 1000,
		[]string{"polygon", "arbitrum"}, map[string]int64{"polygon": 600, "arbitrum": 400})
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))

	// unsupported chain
	expectChainSupported(mock, "dogechain", false)
	_, err = engine.RegisterCrossChainBill(ctx, "", "USDC", 1000,
		[]string{"base", "dogechain"}, map[string]int64{"base": 600, "dogechain": 400})
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReceiveSynchronization(t *testing.T) {
	engine, mock, _ := newBridgeEngine(t)

	msg := model.SyncMessage{
		MessageID:   "msg_1",
		BillID:      "xcb_1",
		Total:       1000,
		Token:       "USDC",
		OriginChain: "polygon",
		Chains:      []string{"base", "polygon"},
		Amounts:     map[string]int64{"base": 600, "polygon": 400},
	}

	expectCounterpart(mock, "polygon", "0xcounterpart")
	mock.ExpectExec("INSERT INTO tabwise.crosschain_bills").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := engine.ReceiveSynchronization(context.Background(), "polygon", "0xcounterpart", msg)
	assert.NoError(t, err)

	// redelivery lands on the existing record and stays silent
	expectCounterpart(mock, "polygon", "0xcounterpart")
	mock.ExpectExec("INSERT INTO tabwise.crosschain_bills").
		WillReturnResult(sqlmock.NewResult(0, 0))
	err = engine.ReceiveSynchronization(context.Background(), "polygon", "0xcounterpart", msg)
	assert.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReceiveSynchronizationUntrustedSender(t *testing.T) {
	engine, mock, _ := newBridgeEngine(t)

	expectCounterpart(mock, "polygon", "0xcounterpart")

	err := engine.ReceiveSynchronization(context.Background(), "polygon", "0xattacker", model.SyncMessage{
		MessageID: "msg_1", BillID: "xcb_1", Total: 1000, Chains: []string{"base", "polygon"},
	})
	assert.True(t, apierror.Is(err, apierror.ErrUnauthorized))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func crossChainBillRow(bill *model.CrossChainBill) *sqlmock.Rows {
	chains, _ := json.Marshal(bill.Chains)
	amounts, _ := json.Marshal(bill.Amounts)
	flags, _ := json.Marshal(bill.SettledFlags)
	if bill.SettledFlags == nil {
		flags = []byte(`{}`)
	}
	return sqlmock.NewRows([]string{"bill_id", "total", "token", "origin_chain", "chains", "amounts", "settled_flags", "fully_settled", "created_at", "updated_at"}).
		AddRow(bill.BillID, bill.Total, bill.Token, bill.OriginChain, chains, amounts, flags, bill.FullySettled, time.Now(), time.Now())
}

func TestSendCrossChainPayment(t *testing.T) {
	engine, mock, recorder := newBridgeEngine(t)

	bill := &model.CrossChainBill{
		BillID:      "xcb_1",
		Total:       1000,
		Token:       "USDC",
		OriginChain: "base",
		Chains:      []string{"base", "polygon"},
		Amounts:     map[string]int64{"base": 600, "polygon": 400},
	}
	expectChainSupported(mock, "polygon", true)
	expectCounterpart(mock, "polygon", "0xcounterpart")
	mock.ExpectQuery("SELECT bill_id, total, token, origin_chain").
		WithArgs("xcb_1").
		WillReturnRows(crossChainBillRow(bill))

	msg, err := engine.SendCrossChainPayment(context.Background(), "xcb_1", "0xbob", "polygon", "0xdest", 400, 10)
	assert.NoError(t, err)
	assert.Equal(t, "base", msg.SourceChain)
	assert.Equal(t, int64(400), msg.Amount)

	msgs := recorder.recorded()
	assert.Len(t, msgs, 1)
	assert.Equal(t, model.MessageKindPayment, msgs[0].Kind)
	assert.Equal(t, "polygon", msgs[0].Destination)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSendCrossChainPaymentDestinationChecks(t *testing.T) {
	engine, mock, _ := newBridgeEngine(t)
	ctx := context.Background()

	// destination chain never registered
	expectChainSupported(mock, "dogechain", false)
	_, err := engine.SendCrossChainPayment(ctx, "xcb_1", "0xbob", "dogechain", "0xdest", 400, 10)
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))

	// supported but without a trusted counterpart
	expectChainSupported(mock, "polygon", true)
	expectCounterpart(mock, "polygon", "")
	_, err = engine.SendCrossChainPayment(ctx, "xcb_1", "0xbob", "polygon", "0xdest", 400, 10)
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))

	// the local chain is never a relay destination
	_, err = engine.SendCrossChainPayment(ctx, "xcb_1", "0xbob", "base", "0xdest", 400, 10)
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))

	assert.NoError(t, mock.ExpectationsWereMet())
}

type failingRelay struct{}

func (failingRelay) Dispatch(_ context.Context, _, _, _ string, _ []byte) error {
	return errors.New("relay unavailable")
}

func TestSendCrossChainPaymentRelayFailureReturnsFunds(t *testing.T) {
	engine, mock, _ := newBridgeEngine(t)
	engine.relay = failingRelay{}
	tokens := &tokenRecorder{}
	engine.tokens = tokens

	bill := &model.CrossChainBill{
		BillID:      "xcb_1",
		Total:       1000,
		Token:       "USDC",
		OriginChain: "base",
		Chains:      []string{"base", "polygon"},
		Amounts:     map[string]int64{"base": 600, "polygon": 400},
	}
	expectChainSupported(mock, "polygon", true)
	expectCounterpart(mock, "polygon", "0xcounterpart")
	mock.ExpectQuery("SELECT bill_id, total, token, origin_chain").
		WithArgs("xcb_1").
		WillReturnRows(crossChainBillRow(bill))

	_, err := engine.SendCrossChainPayment(context.Background(), "xcb_1", "0xbob", "polygon", "0xdest", 400, 10)
	assert.True(t, apierror.Is(err, apierror.ErrExternalCall))

	// share and fee left the payer and came back
	calls := tokens.transfers()
	assert.Len(t, calls, 4)
	assert.Equal(t, transferCall{Token: "USDC", From: "0xbob", To: "@escrow", Amount: 400}, calls[0])
	assert.Equal(t, transferCall{Token: "NATIVE", From: "0xbob", To: "@fees", Amount: 10}, calls[1])
	assert.Equal(t, transferCall{Token: "USDC", From: "@escrow", To: "0xbob", Amount: 400}, calls[2])
	assert.Equal(t, transferCall{Token: "NATIVE", From: "@fees", To: "0xbob", Amount: 10}, calls[3])

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSendCrossChainPaymentInsufficientFee(t *testing.T) {
	engine, _, _ := newBridgeEngine(t)

	_, err := engine.SendCrossChainPayment(context.Background(), "xcb_1", "0xbob", "polygon", "0xdest", 400, 5)
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))
}

func TestReceivePaymentDedupedByMessageID(t *testing.T) {
	engine, mock, _ := newBridgeEngine(t)

	msg := model.PaymentMessage{
		MessageID:   "msg_7",
		BillID:      "xcb_1",
		Payer:       "0xbob",
		Amount:      400,
		Token:       "USDC",
		SourceChain: "polygon",
	}

	expectCounterpart(mock, "polygon", "0xcounterpart")
	mock.ExpectExec("INSERT INTO tabwise.pending_payments").
		WillReturnResult(sqlmock.NewResult(1, 1))

	pending, err := engine.ReceivePayment(context.Background(), "polygon", "0xcounterpart", msg)
	assert.NoError(t, err)
	assert.Equal(t, "pp_msg_7", pending.PendingID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReceiveSettlementConfirmation(t *testing.T) {
	engine, mock, _ := newBridgeEngine(t)

	bill := &model.CrossChainBill{
		BillID:       "xcb_1",
		Total:        1000,
		Token:        "USDC",
		OriginChain:  "base",
		Chains:       []string{"base", "polygon"},
		Amounts:      map[string]int64{"base": 600, "polygon": 400},
		SettledFlags: map[string]bool{"base": true},
	}

	expectCounterpart(mock, "polygon", "0xcounterpart")
	mock.ExpectQuery("SELECT bill_id, total, token, origin_chain").
		WithArgs("xcb_1").
		WillReturnRows(crossChainBillRow(bill))
	// both chains settled now, the aggregate flips
	mock.ExpectExec("UPDATE tabwise.crosschain_bills").
		WithArgs("xcb_1", sqlmock.AnyArg(), true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := engine.ReceiveSettlementConfirmation(context.Background(), "polygon", "0xcounterpart",
		model.SettlementMessage{MessageID: "msg_9", BillID: "xcb_1", SourceChain: "polygon", Settled: true})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReceiveSettlementCreditsTransportChain(t *testing.T) {
	engine, mock, _ := newBridgeEngine(t)

	bill := &model.CrossChainBill{
		BillID:      "xcb_1",
		Total:       1000,
		Token:       "USDC",
		OriginChain: "base",
		Chains:      []string{"base", "polygon"},
		Amounts:     map[string]int64{"base": 600, "polygon": 400},
	}

	expectCounterpart(mock, "polygon", "0xcounterpart")
	mock.ExpectQuery("SELECT bill_id, total, token, origin_chain").
		WithArgs("xcb_1").
		WillReturnRows(crossChainBillRow(bill))
	// the flag lands on polygon even though the body claims base
	mock.ExpectExec("UPDATE tabwise.crosschain_bills").
		WithArgs("xcb_1", []byte(`{"polygon":true}`), false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := engine.ReceiveSettlementConfirmation(context.Background(), "polygon", "0xcounterpart",
		model.SettlementMessage{MessageID: "msg_9", BillID: "xcb_1", SourceChain: "base", Settled: true})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReceiveSettlementForUnknownBillIsIgnored(t *testing.T) {
	engine, mock, _ := newBridgeEngine(t)

	expectCounterpart(mock, "polygon", "0xcounterpart")
	mock.ExpectQuery("SELECT bill_id, total, token, origin_chain").
		WithArgs("xcb_missing").
		WillReturnRows(sqlmock.NewRows([]string{"bill_id"}))

	err := engine.ReceiveSettlementConfirmation(context.Background(), "polygon", "0xcounterpart",
		model.SettlementMessage{MessageID: "msg_9", BillID: "xcb_missing", SourceChain: "polygon", Settled: true})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetTrustedCounterpartRequiresSupportedChain(t *testing.T) {
	engine, mock, _ := newBridgeEngine(t)

	expectChainSupported(mock, "polygon", false)

	err := engine.SetTrustedCounterpart("polygon", "0xcounterpart")
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcilePendingPayments(t *testing.T) {
	engine, mock, _ := newBridgeEngine(t)

	mock.ExpectQuery("SELECT pending_id, bill_id, payer").
		WithArgs("bill_1", false).
		WillReturnRows(sqlmock.NewRows([]string{"pending_id", "bill_id", "payer", "amount", "token", "source_chain", "processed", "received_at"}).
			AddRow("pp_msg_7", "bill_1", "0xbob", int64(400), "USDC", "polygon", false, time.Now()))

	escrow := openEscrow("bill_1")
	expectEscrowLookup(mock, escrow)
	mock.ExpectExec("INSERT INTO tabwise.escrow_payments").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE tabwise.escrows").
		WithArgs("bill_1", int64(400), false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE tabwise.pending_payments").
		WithArgs("pp_msg_7").
		WillReturnResult(sqlmock.NewResult(0, 1))

	applied, err := engine.ReconcilePendingPayments(context.Background(), "bill_1")
	assert.NoError(t, err)
	assert.Equal(t, 1, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}
