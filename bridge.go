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
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tabwise-finance/tabwise/config"
	"github.com/tabwise-finance/tabwise/internal/apierror"
	"github.com/tabwise-finance/tabwise/internal/notification"
	"github.com/tabwise-finance/tabwise/model"
)

var bridgeTracer = otel.Tracer("tabwise.bridge")

// verifyCounterpart checks that a relay message claims to come from the
// registered counterpart contract for its source chain.
func (t *Tabwise) verifyCounterpart(sourceChain, sender string) error {
	trusted, err := t.datasource.GetTrustedCounterpart(sourceChain)
	if err != nil {
		return err
	}
	if trusted == "" || trusted != sender {
		return apierror.AuthorizationError(fmt.Sprintf("sender is not the trusted counterpart for chain %s", sourceChain))
	}
	return nil
}

// RegisterCrossChainBill records a bill split across several chains and
// synchronizes it to every other participating chain. The local chain must be
// among the participants and the per-chain amounts must add up to the total.
func (t *Tabwise) RegisterCrossChainBill(ctx context.Context, billID, token string, total int64, chains []string, amounts map[string]int64) (model.CrossChainBill, error) {
	ctx, span := bridgeTracer.Start(ctx, "RegisterCrossChainBill")
	defer span.End()

	if err := t.checkActive(); err != nil {
		return model.CrossChainBill{}, err
	}
	conf, err := config.Fetch()
	if err != nil {
		return model.CrossChainBill{}, err
	}

	if total <= 0 {
		return model.CrossChainBill{}, apierror.ValidationError("bill total must be positive")
	}
	if len(chains) < 2 {
		return model.CrossChainBill{}, apierror.ValidationError("a cross-chain bill needs at least two chains")
	}

	localChain := conf.Chain.LocalChain
	seen := map[string]bool{}
	hasLocal := false
	var sum int64
	for _, chain := range chains {
		if seen[chain] {
			return model.CrossChainBill{}, apierror.ValidationError(fmt.Sprintf("chain %s is listed twice", chain))
		}
		seen[chain] = true
		if chain == localChain {
			hasLocal = true
		} else {
			supported, err := t.datasource.IsChainSupported(chain)
			if err != nil {
				return model.CrossChainBill{}, err
			}
			if !supported {
				return model.CrossChainBill{}, apierror.ValidationError(fmt.Sprintf("chain %s is not supported", chain))
			}
		}
		amount, ok := amounts[chain]
		if !ok || amount <= 0 {
			return model.CrossChainBill{}, apierror.ValidationError(fmt.Sprintf("chain %s needs a positive amount", chain))
		}
		sum += amount
	}
	if !hasLocal {
		return model.CrossChainBill{}, apierror.ValidationError("the local chain must participate in the bill")
	}
	if sum != total {
		return model.CrossChainBill{}, apierror.ValidationError("per-chain amounts must add up to the bill total")
	}

	if billID == "" {
		billID = model.GenerateUUIDWithSuffix("xcb")
	}
	bill := model.CrossChainBill{
		BillID:      billID,
		Total:       total,
		Token:       token,
		OriginChain: localChain,
		Chains:      chains,
		Amounts:     amounts,
	}
	bill, err = t.datasource.CreateCrossChainBill(bill)
	if err != nil {
		span.RecordError(err)
		return model.CrossChainBill{}, err
	}

	msg := model.SyncMessage{
		MessageID:   model.GenerateUUIDWithSuffix("msg"),
		BillID:      bill.BillID,
		Total:       bill.Total,
		Token:       bill.Token,
		OriginChain: localChain,
		Chains:      bill.Chains,
		Amounts:     bill.Amounts,
	}
	payload, err := msg.ToJSON()
	if err != nil {
		return model.CrossChainBill{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to encode sync message", err)
	}
	for _, chain := range bill.Chains {
		if chain == localChain {
			continue
		}
		if err := t.relay.Dispatch(ctx, chain, msg.MessageID, model.MessageKindSync, payload); err != nil {
			span.RecordError(err)
			return model.CrossChainBill{}, apierror.ExternalCallError("failed to hand bill synchronization to the relay", err)
		}
	}

	span.AddEvent("Cross-chain bill registered", trace.WithAttributes(
		attribute.String("bill.id", bill.BillID),
		attribute.Int("bill.chain_count", len(bill.Chains)),
	))
	return bill, nil
}

// GetCrossChainBill returns the local record for a cross-chain bill.
func (t *Tabwise) GetCrossChainBill(billID string) (*model.CrossChainBill, error) {
	return t.datasource.GetCrossChainBill(billID)
}

// ReceiveSynchronization handles an inbound bill synchronization. The first
// delivery creates the local record; later deliveries, including conflicting
// ones, are ignored so every chain keeps whatever it accepted first.
func (t *Tabwise) ReceiveSynchronization(ctx context.Context, sourceChain, sender string, msg model.SyncMessage) error {
	if err := t.checkActive(); err != nil {
		return err
	}
	if err := t.verifyCounterpart(sourceChain, sender); err != nil {
		return err
	}
	if msg.BillID == "" || msg.Total <= 0 || len(msg.Chains) == 0 {
		return apierror.ValidationError("sync message is malformed")
	}

	bill := model.CrossChainBill{
		BillID:      msg.BillID,
		Total:       msg.Total,
		Token:       msg.Token,
		OriginChain: msg.OriginChain,
		Chains:      msg.Chains,
		Amounts:     msg.Amounts,
	}
	created, err := t.datasource.CreateCrossChainBillIfAbsent(bill)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}

	t.postEscrowActions(ctx, EventBridgeSynced, &bill)
	return nil
}

// SendCrossChainPayment locks a payer's share in the local escrow account and
// notifies the destination chain. The attached fee pays for relaying and must
// meet the configured minimum.
func (t *Tabwise) SendCrossChainPayment(ctx context.Context, billID, payer, destinationChain, destinationAddress string, amount, fee int64) (model.PaymentMessage, error) {
	ctx, span := bridgeTracer.Start(ctx, "SendCrossChainPayment")
	defer span.End()

	if err := t.checkActive(); err != nil {
		return model.PaymentMessage{}, err
	}
	conf, err := config.Fetch()
	if err != nil {
		return model.PaymentMessage{}, err
	}

	if amount <= 0 {
		return model.PaymentMessage{}, apierror.ValidationError("payment amount must be positive")
	}
	if fee < conf.Chain.RelayFee {
		return model.PaymentMessage{}, apierror.ValidationError(fmt.Sprintf("relay fee must be at least %d", conf.Chain.RelayFee))
	}
	if destinationChain == conf.Chain.LocalChain {
		return model.PaymentMessage{}, apierror.ValidationError("destination chain is the local chain; pay the escrow directly")
	}
	supported, err := t.datasource.IsChainSupported(destinationChain)
	if err != nil {
		return model.PaymentMessage{}, err
	}
	if !supported {
		return model.PaymentMessage{}, apierror.ValidationError(fmt.Sprintf("chain %s is not supported", destinationChain))
	}
	counterpart, err := t.datasource.GetTrustedCounterpart(destinationChain)
	if err != nil {
		return model.PaymentMessage{}, err
	}
	if counterpart == "" {
		return model.PaymentMessage{}, apierror.ValidationError(fmt.Sprintf("chain %s has no trusted counterpart configured", destinationChain))
	}

	locker, err := t.acquireBillLock(ctx, billID)
	if err != nil {
		return model.PaymentMessage{}, err
	}
	defer releaseLock(ctx, locker)

	bill, err := t.datasource.GetCrossChainBill(billID)
	if err != nil {
		return model.PaymentMessage{}, err
	}

	participating := false
	for _, chain := range bill.Chains {
		if chain == destinationChain {
			participating = true
			break
		}
	}
	if !participating {
		return model.PaymentMessage{}, apierror.ValidationError(fmt.Sprintf("chain %s does not participate in this bill", destinationChain))
	}

	// The share and the relay fee both leave the payer now. The share sits
	// in the escrow account until the destination chain confirms.
	if err := t.tokens.Transfer(ctx, bill.Token, payer, conf.Settlement.EscrowAccount, amount); err != nil {
		span.RecordError(err)
		return model.PaymentMessage{}, err
	}
	if fee > 0 {
		if err := t.tokens.Transfer(ctx, conf.Settlement.NativeTokenSymbol, payer, conf.Settlement.FeeSink, fee); err != nil {
			return model.PaymentMessage{}, err
		}
	}

	msg := model.PaymentMessage{
		MessageID:          model.GenerateUUIDWithSuffix("msg"),
		BillID:             billID,
		Payer:              payer,
		DestinationAddress: destinationAddress,
		Amount:             amount,
		Token:              bill.Token,
		SourceChain:        conf.Chain.LocalChain,
	}
	payload, err := msg.ToJSON()
	if err != nil {
		return model.PaymentMessage{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to encode payment message", err)
	}
	if err := t.relay.Dispatch(ctx, destinationChain, msg.MessageID, model.MessageKindPayment, payload); err != nil {
		span.RecordError(err)
		// The relay refused the message, so the locked funds go back to
		// the payer before the error surfaces.
		if cErr := t.tokens.Transfer(ctx, bill.Token, conf.Settlement.EscrowAccount, payer, amount); cErr != nil {
			notification.NotifyError(cErr)
		}
		if fee > 0 {
			if cErr := t.tokens.Transfer(ctx, conf.Settlement.NativeTokenSymbol, conf.Settlement.FeeSink, payer, fee); cErr != nil {
				notification.NotifyError(cErr)
			}
		}
		return model.PaymentMessage{}, apierror.ExternalCallError("failed to hand payment message to the relay", err)
	}

	span.AddEvent("Cross-chain payment dispatched", trace.WithAttributes(
		attribute.String("bill.id", billID),
		attribute.String("payment.destination_chain", destinationChain),
		attribute.Int64("payment.amount", amount),
	))
	return msg, nil
}

// ReceivePayment handles an inbound payment notification by appending it to
// the bill's pending payment log. The pending id is derived from the message
// id, so a redelivered notification lands on the existing row.
func (t *Tabwise) ReceivePayment(ctx context.Context, sourceChain, sender string, msg model.PaymentMessage) (model.PendingPayment, error) {
	if err := t.checkActive(); err != nil {
		return model.PendingPayment{}, err
	}
	if err := t.verifyCounterpart(sourceChain, sender); err != nil {
		return model.PendingPayment{}, err
	}
	if msg.BillID == "" || msg.Amount <= 0 {
		return model.PendingPayment{}, apierror.ValidationError("payment message is malformed")
	}

	pending := model.PendingPayment{
		PendingID:   "pp_" + msg.MessageID,
		BillID:      msg.BillID,
		Payer:       msg.Payer,
		Amount:      msg.Amount,
		Token:       msg.Token,
		SourceChain: sourceChain,
	}
	pending, err := t.datasource.RecordPendingPayment(pending)
	if err != nil {
		return model.PendingPayment{}, err
	}

	t.postEscrowActions(ctx, EventBridgePayment, &pending)
	return pending, nil
}

// ConfirmLocalSettlement marks the local chain's share of a cross-chain bill
// as settled and broadcasts the confirmation to the other participants.
func (t *Tabwise) ConfirmLocalSettlement(ctx context.Context, billID string) error {
	ctx, span := bridgeTracer.Start(ctx, "ConfirmLocalSettlement")
	defer span.End()

	if err := t.checkActive(); err != nil {
		return err
	}
	conf, err := config.Fetch()
	if err != nil {
		return err
	}

	// The flag update is a read-modify-write shared with inbound
	// confirmations, so it runs under the bill lock.
	locker, err := t.acquireBillLock(ctx, billID)
	if err != nil {
		return err
	}
	defer releaseLock(ctx, locker)

	bill, err := t.datasource.GetCrossChainBill(billID)
	if err != nil {
		return err
	}

	localChain := conf.Chain.LocalChain
	if bill.SettledFlags == nil {
		bill.SettledFlags = map[string]bool{}
	}
	bill.SettledFlags[localChain] = true
	fullySettled := bill.RecomputeFullySettled()
	if err := t.datasource.UpdateCrossChainFlags(ctx, billID, bill.SettledFlags, fullySettled); err != nil {
		return err
	}

	msg := model.SettlementMessage{
		MessageID:   model.GenerateUUIDWithSuffix("msg"),
		BillID:      billID,
		SourceChain: localChain,
		Settled:     true,
	}
	payload, err := msg.ToJSON()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to encode settlement message", err)
	}
	for _, chain := range bill.Chains {
		if chain == localChain {
			continue
		}
		if err := t.relay.Dispatch(ctx, chain, msg.MessageID, model.MessageKindSettlement, payload); err != nil {
			span.RecordError(err)
			// The local flag is already recorded; a retried confirmation
			// re-sends and the receivers dedupe by message id.
			return apierror.ExternalCallError("failed to hand settlement confirmation to the relay", err)
		}
	}
	span.AddEvent("Local settlement confirmed", trace.WithAttributes(
		attribute.String("bill.id", billID),
		attribute.Bool("bill.fully_settled", fullySettled),
	))
	return nil
}

// ReceiveSettlementConfirmation applies another chain's settlement flag to
// the local record. A confirmation for a bill this chain never accepted is
// silently dropped; the fully settled aggregate only ever moves forward.
func (t *Tabwise) ReceiveSettlementConfirmation(ctx context.Context, sourceChain, sender string, msg model.SettlementMessage) error {
	if err := t.checkActive(); err != nil {
		return err
	}
	if err := t.verifyCounterpart(sourceChain, sender); err != nil {
		return err
	}
	if !msg.Settled {
		return nil
	}

	locker, err := t.acquireBillLock(ctx, msg.BillID)
	if err != nil {
		return err
	}
	defer releaseLock(ctx, locker)

	bill, err := t.datasource.GetCrossChainBill(msg.BillID)
	if err != nil {
		if apierror.Is(err, apierror.ErrNotFound) {
			return nil
		}
		return err
	}

	if bill.SettledFlags == nil {
		bill.SettledFlags = map[string]bool{}
	}
	// The flag is credited to the authenticated transport chain, not to
	// whatever chain the message body claims.
	bill.SettledFlags[sourceChain] = true
	fullySettled := bill.RecomputeFullySettled()
	return t.datasource.UpdateCrossChainFlags(ctx, msg.BillID, bill.SettledFlags, fullySettled)
}

// AddSupportedChain registers a chain the bridge will accept bills for.
func (t *Tabwise) AddSupportedChain(chain string) error {
	chain = strings.TrimSpace(chain)
	if chain == "" {
		return apierror.ValidationError("chain name is required")
	}
	return t.datasource.AddSupportedChain(chain)
}

// SetTrustedCounterpart registers the counterpart address for a chain.
// Inbound relay messages from that chain are only accepted from this sender.
func (t *Tabwise) SetTrustedCounterpart(chain, counterpart string) error {
	chain = strings.TrimSpace(chain)
	counterpart = strings.TrimSpace(counterpart)
	if chain == "" || counterpart == "" {
		return apierror.ValidationError("chain and counterpart are required")
	}
	supported, err := t.datasource.IsChainSupported(chain)
	if err != nil {
		return err
	}
	if !supported {
		return apierror.ValidationError(fmt.Sprintf("chain %s is not supported", chain))
	}
	return t.datasource.SetTrustedCounterpart(chain, counterpart)
}

// ReconcilePendingPayments applies every unprocessed inbound payment for a
// bill to its local escrow. Each pending payment becomes a regular escrow
// payment; ones the escrow rejects (duplicate payer, closed window) are marked
// processed and left to manual resolution.
func (t *Tabwise) ReconcilePendingPayments(ctx context.Context, billID string) (applied int, err error) {
	ctx, span := bridgeTracer.Start(ctx, "ReconcilePendingPayments")
	defer span.End()

	if err := t.checkActive(); err != nil {
		return 0, err
	}

	pendings, err := t.datasource.GetPendingPayments(billID, false)
	if err != nil {
		return 0, err
	}

	for _, pending := range pendings {
		_, err := t.PayEscrow(ctx, billID, pending.Payer, pending.Amount)
		if err != nil {
			if apierror.Is(err, apierror.ErrConflict) {
				// Duplicate payer or a closed escrow. Mark processed so the
				// log does not retry forever; the funds stay in transit for
				// manual resolution.
				if markErr := t.datasource.MarkPendingPaymentProcessed(ctx, pending.PendingID); markErr != nil {
					return applied, markErr
				}
				continue
			}
			return applied, err
		}
		if err := t.datasource.MarkPendingPaymentProcessed(ctx, pending.PendingID); err != nil {
			return applied, err
		}
		applied++
	}
	span.AddEvent("Pending payments reconciled", trace.WithAttributes(
		attribute.String("bill.id", billID),
		attribute.Int("reconcile.applied", applied),
	))
	return applied, nil
}

// PendingPayments lists a bill's inbound payment log.
func (t *Tabwise) PendingPayments(billID string, includeProcessed bool) ([]model.PendingPayment, error) {
	return t.datasource.GetPendingPayments(billID, includeProcessed)
}
