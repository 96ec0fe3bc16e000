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
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tabwise-finance/tabwise/config"
	"github.com/tabwise-finance/tabwise/internal/apierror"
	redlock "github.com/tabwise-finance/tabwise/internal/lock"
	"github.com/tabwise-finance/tabwise/internal/notification"
	"github.com/tabwise-finance/tabwise/model"
)

var escrowTracer = otel.Tracer("tabwise.escrow")

const escrowLockDuration = time.Minute * 5

// acquireBillLock takes the per-bill lock that serializes escrow mutations.
// Token transfers happen inside the critical section, so a reentrant call for
// the same bill waits instead of observing a record mid-update.
func (t *Tabwise) acquireBillLock(ctx context.Context, billID string) (*redlock.Locker, error) {
	locker := redlock.NewLocker(t.redis, "bill-lock:"+billID, model.GenerateUUIDWithSuffix("loc"))
	err := locker.Lock(ctx, escrowLockDuration)
	if err != nil {
		return nil, err
	}
	return locker, nil
}

func releaseLock(ctx context.Context, locker *redlock.Locker) {
	if err := locker.Unlock(ctx); err != nil {
		logrus.Errorf("failed to release lock: %s", err)
	}
}

func (t *Tabwise) postEscrowActions(_ context.Context, event string, payload interface{}) {
	go func() {
		err := SendWebhook(NewWebhook{
			Event:   event,
			Payload: payload,
		})
		if err != nil {
			notification.NotifyError(err)
		}
	}()
}

// InitializeEscrow opens an escrow for a verified bill structure. The
// commitment must be trusted, the structure's token must be on the allowlist
// and the bill must not already have an escrow.
func (t *Tabwise) InitializeEscrow(ctx context.Context, commitment, payee string) (model.Escrow, error) {
	ctx, span := escrowTracer.Start(ctx, "InitializeEscrow")
	defer span.End()

	if err := t.checkActive(); err != nil {
		return model.Escrow{}, err
	}
	conf, err := config.Fetch()
	if err != nil {
		return model.Escrow{}, err
	}

	verified, err := t.datasource.GetVerifiedStructure(commitment)
	if err != nil {
		if apierror.Is(err, apierror.ErrNotFound) {
			return model.Escrow{}, apierror.ValidationError("bill structure has not been verified")
		}
		return model.Escrow{}, err
	}

	escrow, err := t.openEscrow(verified, payee, time.Now().Add(conf.Settlement.PaymentWindow()))
	if err != nil {
		span.RecordError(err)
		return model.Escrow{}, err
	}

	span.AddEvent("Escrow initialized", trace.WithAttributes(attribute.String("bill.id", escrow.BillID)))
	t.postEscrowActions(ctx, EventEscrowInitialized, &escrow)
	return escrow, nil
}

// openEscrow enforces the gates every escrow entry point shares: the
// structure must be trusted, its token on the allowlist and the payee set.
func (t *Tabwise) openEscrow(verified *model.VerifiedStructure, payee string, deadline time.Time) (model.Escrow, error) {
	if verified == nil || !verified.Trusted || verified.Structure == nil {
		return model.Escrow{}, apierror.ValidationError("bill structure has not been verified")
	}

	structure := verified.Structure
	supported, err := t.datasource.IsTokenSupported(structure.Token)
	if err != nil {
		return model.Escrow{}, err
	}
	if !supported {
		return model.Escrow{}, apierror.ValidationError("token is not supported")
	}
	if payee == "" {
		return model.Escrow{}, apierror.ValidationError("payee is required")
	}

	escrow := model.Escrow{
		BillID:          structure.BillID,
		RequiredTotal:   structure.Total,
		Token:           structure.Token,
		Payee:           payee,
		PaymentDeadline: deadline,
	}
	escrow, err = t.datasource.CreateEscrow(escrow)
	if err != nil {
		if apierror.Is(err, apierror.ErrConflict) {
			return model.Escrow{}, apierror.ConflictError("escrow is already initialized for this bill")
		}
		return model.Escrow{}, err
	}
	return escrow, nil
}

// GetEscrow returns an escrow together with its payments.
func (t *Tabwise) GetEscrow(billID string) (*model.Escrow, error) {
	return t.datasource.GetEscrowByBillID(billID)
}

// PayEscrow records a member's contribution to a bill's escrow and moves the
// tokens into the escrow account. A payer can pay at most once per bill;
// paying more than the outstanding share is allowed and the excess goes to
// the payee at settlement.
func (t *Tabwise) PayEscrow(ctx context.Context, billID, payer string, amount int64) (model.Payment, error) {
	ctx, span := escrowTracer.Start(ctx, "PayEscrow")
	defer span.End()

	if err := t.checkActive(); err != nil {
		return model.Payment{}, err
	}
	conf, err := config.Fetch()
	if err != nil {
		return model.Payment{}, err
	}
	if amount <= 0 {
		return model.Payment{}, apierror.ValidationError("payment amount must be positive")
	}
	if payer == "" {
		return model.Payment{}, apierror.ValidationError("payer is required")
	}

	locker, err := t.acquireBillLock(ctx, billID)
	if err != nil {
		return model.Payment{}, err
	}
	defer releaseLock(ctx, locker)

	escrow, err := t.datasource.GetEscrowByBillID(billID)
	if err != nil {
		return model.Payment{}, err
	}

	now := time.Now()
	switch {
	case escrow.Settled:
		return model.Payment{}, apierror.ConflictError("escrow is already settled")
	case escrow.Refunded:
		return model.Payment{}, apierror.ConflictError("escrow has been refunded")
	case escrow.Disputed:
		return model.Payment{}, apierror.ConflictError("escrow has an open dispute")
	case !escrow.WindowOpen(now):
		return model.Payment{}, apierror.ConflictError("payment window has closed")
	case escrow.HasPayment(payer):
		return model.Payment{}, apierror.ConflictError("payer has already paid this bill")
	}

	if err := t.tokens.Transfer(ctx, escrow.Token, payer, conf.Settlement.EscrowAccount, amount); err != nil {
		span.RecordError(err)
		return model.Payment{}, err
	}

	payment := model.Payment{
		BillID: billID,
		Payer:  payer,
		Amount: amount,
		Token:  escrow.Token,
	}
	payment, err = t.datasource.RecordPayment(ctx, payment)
	if err != nil {
		return model.Payment{}, err
	}

	collected := escrow.Collected + amount
	fullyPaid := collected >= escrow.RequiredTotal
	if err := t.datasource.UpdateEscrowCollected(ctx, billID, collected, fullyPaid); err != nil {
		span.RecordError(err)
		return model.Payment{}, err
	}

	span.AddEvent("Payment recorded", trace.WithAttributes(
		attribute.String("bill.id", billID),
		attribute.Int64("payment.amount", amount),
		attribute.Bool("escrow.fully_paid", fullyPaid),
	))
	t.postEscrowActions(ctx, EventEscrowPayment, &payment)
	return payment, nil
}

// feeOn computes the protocol fee on an amount in basis points.
func feeOn(amount, feeBps int64) int64 {
	return amount * feeBps / model.TotalBasisPoints
}

// SettleEscrow pays out a fully funded escrow: the protocol fee goes to the
// fee sink and the remainder, including any overpayment, goes to the payee.
func (t *Tabwise) SettleEscrow(ctx context.Context, billID string) (*model.Escrow, error) {
	ctx, span := escrowTracer.Start(ctx, "SettleEscrow")
	defer span.End()

	if err := t.checkActive(); err != nil {
		return nil, err
	}
	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	locker, err := t.acquireBillLock(ctx, billID)
	if err != nil {
		return nil, err
	}
	defer releaseLock(ctx, locker)

	escrow, err := t.datasource.GetEscrowByBillID(billID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	switch {
	case escrow.Settled:
		return nil, apierror.ConflictError("escrow is already settled")
	case escrow.Refunded:
		return nil, apierror.ConflictError("escrow has been refunded")
	case escrow.Disputed && !escrow.DisputeWindowElapsed(now):
		// A dispute left unresolved past its deadline stops blocking.
		return nil, apierror.ConflictError("escrow has an open dispute")
	case !escrow.FullyPaid:
		return nil, apierror.ConflictError("escrow is not fully paid")
	}

	fee := feeOn(escrow.Collected, conf.Settlement.ProtocolFeeBps)
	payout := escrow.Collected - fee

	if err := t.tokens.Transfer(ctx, escrow.Token, conf.Settlement.EscrowAccount, escrow.Payee, payout); err != nil {
		return nil, err
	}
	if fee > 0 {
		if err := t.tokens.Transfer(ctx, escrow.Token, conf.Settlement.EscrowAccount, conf.Settlement.FeeSink, fee); err != nil {
			return nil, err
		}
	}

	settledAt := time.Now()
	if err := t.datasource.MarkEscrowSettled(ctx, billID, settledAt); err != nil {
		span.RecordError(err)
		return nil, err
	}
	escrow.Settled = true
	escrow.SettledAt = &settledAt

	span.AddEvent("Escrow settled", trace.WithAttributes(
		attribute.String("bill.id", billID),
		attribute.Int64("escrow.payout", payout),
		attribute.Int64("escrow.fee", fee),
	))
	t.postEscrowActions(ctx, EventEscrowSettled, escrow)
	return escrow, nil
}

// refundPayments returns every unrefunded payment to its payer. Each payment
// is flagged right after its transfer, so a retry after a partial failure
// skips the payers already made whole.
func (t *Tabwise) refundPayments(ctx context.Context, escrow *model.Escrow) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	for _, payment := range escrow.Payments {
		if payment.Refunded || payment.Settled {
			continue
		}
		if err := t.tokens.Transfer(ctx, payment.Token, conf.Settlement.EscrowAccount, payment.Payer, payment.Amount); err != nil {
			return err
		}
		if err := t.datasource.MarkPaymentRefunded(ctx, payment.PaymentID); err != nil {
			return err
		}
	}
	return nil
}

// RefundEscrow returns all collected payments to their payers. A refund is
// only available once the payment window has closed without the bill being
// fully paid. Disputed escrows are refunded through dispute resolution
// instead.
func (t *Tabwise) RefundEscrow(ctx context.Context, billID string) (*model.Escrow, error) {
	ctx, span := escrowTracer.Start(ctx, "RefundEscrow")
	defer span.End()

	if err := t.checkActive(); err != nil {
		return nil, err
	}

	locker, err := t.acquireBillLock(ctx, billID)
	if err != nil {
		return nil, err
	}
	defer releaseLock(ctx, locker)

	escrow, err := t.datasource.GetEscrowByBillID(billID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	switch {
	case escrow.Settled:
		return nil, apierror.ConflictError("escrow is already settled")
	case escrow.Refunded:
		return nil, apierror.ConflictError("escrow has already been refunded")
	case escrow.Disputed:
		return nil, apierror.ConflictError("escrow has an open dispute")
	case escrow.WindowOpen(now):
		return nil, apierror.ConflictError("payment window is still open")
	case escrow.FullyPaid:
		return nil, apierror.ConflictError("escrow is fully paid and can be settled")
	}

	if err := t.refundPayments(ctx, escrow); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := t.datasource.MarkEscrowRefunded(ctx, billID); err != nil {
		span.RecordError(err)
		return nil, err
	}
	escrow.Refunded = true

	span.AddEvent("Escrow refunded", trace.WithAttributes(attribute.String("bill.id", billID)))
	t.postEscrowActions(ctx, EventEscrowRefunded, escrow)
	return escrow, nil
}

// RaiseDispute opens a dispute against a bill's escrow. Only an address that
// has paid into the escrow can challenge it, and only one dispute can be open
// at a time. An open dispute blocks payments and settlement until resolved.
func (t *Tabwise) RaiseDispute(ctx context.Context, billID, challenger, reason string) (model.Dispute, error) {
	ctx, span := escrowTracer.Start(ctx, "RaiseDispute")
	defer span.End()

	if err := t.checkActive(); err != nil {
		return model.Dispute{}, err
	}
	conf, err := config.Fetch()
	if err != nil {
		return model.Dispute{}, err
	}
	if strings.TrimSpace(reason) == "" {
		return model.Dispute{}, apierror.ValidationError("dispute reason is required")
	}

	locker, err := t.acquireBillLock(ctx, billID)
	if err != nil {
		return model.Dispute{}, err
	}
	defer releaseLock(ctx, locker)

	escrow, err := t.datasource.GetEscrowByBillID(billID)
	if err != nil {
		return model.Dispute{}, err
	}

	switch {
	case escrow.Settled:
		return model.Dispute{}, apierror.ConflictError("escrow is already settled")
	case escrow.Refunded:
		return model.Dispute{}, apierror.ConflictError("escrow has been refunded")
	case escrow.Disputed:
		return model.Dispute{}, apierror.ConflictError("escrow already has an open dispute")
	case !escrow.HasPayment(challenger):
		return model.Dispute{}, apierror.AuthorizationError("only a payer of this bill can raise a dispute")
	}

	dispute := model.Dispute{
		BillID:     billID,
		Challenger: challenger,
		Reason:     reason,
	}
	deadline := time.Now().Add(conf.Settlement.DisputeWindow())
	dispute, err = t.datasource.OpenDispute(dispute, deadline)
	if err != nil {
		span.RecordError(err)
		return model.Dispute{}, err
	}

	span.AddEvent("Dispute opened", trace.WithAttributes(attribute.String("dispute.id", dispute.DisputeID)))
	t.postEscrowActions(ctx, EventDisputeOpened, &dispute)
	return dispute, nil
}

// ResolveDispute closes a bill's open dispute. Approving the dispute refunds
// every payment and closes the escrow; rejecting it clears the dispute flag
// so settlement can proceed.
func (t *Tabwise) ResolveDispute(ctx context.Context, billID string, approved bool) error {
	ctx, span := escrowTracer.Start(ctx, "ResolveDispute")
	defer span.End()

	if err := t.checkActive(); err != nil {
		return err
	}

	locker, err := t.acquireBillLock(ctx, billID)
	if err != nil {
		return err
	}
	defer releaseLock(ctx, locker)

	dispute, err := t.datasource.GetOpenDispute(billID)
	if err != nil {
		return err
	}

	if err := t.datasource.CloseDispute(ctx, billID, approved, time.Now()); err != nil {
		return err
	}

	if approved {
		escrow, err := t.datasource.GetEscrowByBillID(billID)
		if err != nil {
			return err
		}
		if err := t.refundPayments(ctx, escrow); err != nil {
			return err
		}
		if err := t.datasource.MarkEscrowRefunded(ctx, billID); err != nil {
			return err
		}
	}

	dispute.Resolved = true
	dispute.Approved = approved
	span.AddEvent("Dispute resolved", trace.WithAttributes(
		attribute.String("dispute.id", dispute.DisputeID),
		attribute.Bool("dispute.approved", approved),
	))
	t.postEscrowActions(ctx, EventDisputeResolved, dispute)
	return nil
}

// GetOpenDispute returns the open dispute for a bill, if any.
func (t *Tabwise) GetOpenDispute(billID string) (*model.Dispute, error) {
	return t.datasource.GetOpenDispute(billID)
}

// AddSupportedToken adds a token symbol to the payment allowlist.
func (t *Tabwise) AddSupportedToken(symbol string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return apierror.ValidationError("token symbol is required")
	}
	return t.datasource.AddSupportedToken(symbol)
}

// RemoveSupportedToken removes a token symbol from the payment allowlist.
// Escrows already holding the token are unaffected.
func (t *Tabwise) RemoveSupportedToken(symbol string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return apierror.ValidationError("token symbol is required")
	}
	return t.datasource.RemoveSupportedToken(symbol)
}

// IsTokenSupported reports whether a token is on the allowlist.
func (t *Tabwise) IsTokenSupported(symbol string) (bool, error) {
	return t.datasource.IsTokenSupported(strings.ToUpper(strings.TrimSpace(symbol)))
}
