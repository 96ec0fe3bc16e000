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
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tabwise-finance/tabwise/config"
	"github.com/tabwise-finance/tabwise/internal/apierror"
	"github.com/tabwise-finance/tabwise/internal/notification"
	"github.com/tabwise-finance/tabwise/model"
)

var billTracer = otel.Tracer("tabwise.bills")

func (t *Tabwise) postBillActions(_ context.Context, event string, bill *model.Bill) {
	go func() {
		err := SendWebhook(NewWebhook{
			Event:   event,
			Payload: bill,
		})
		if err != nil {
			notification.NotifyError(err)
		}
	}()
}

// validateBillInput checks a bill request against its group and the engine
// limits, and resolves the due date. It returns the group member snapshot the
// splits are computed from.
func (t *Tabwise) validateBillInput(bill *model.Bill, conf *config.Configuration) ([]string, error) {
	if bill.Total <= 0 {
		return nil, apierror.ValidationError("bill total must be positive")
	}
	if strings.TrimSpace(bill.Creator) == "" {
		return nil, apierror.ValidationError("bill creator is required")
	}

	supported, err := t.datasource.IsTokenSupported(bill.Token)
	if err != nil {
		return nil, err
	}
	if !supported {
		return nil, apierror.ValidationError("token is not supported")
	}

	group, err := t.datasource.GetGroupByID(bill.GroupID)
	if err != nil {
		return nil, err
	}
	if !group.Active {
		return nil, apierror.ConflictError("group is deactivated")
	}
	if !group.CanCreateBills(bill.Creator) {
		return nil, apierror.AuthorizationError("creator is not allowed to create bills in this group")
	}

	now := time.Now()
	if bill.DueDate.IsZero() {
		bill.DueDate = now.Add(conf.Settlement.PaymentWindow())
	}
	if bill.DueDate.Before(now) {
		return nil, apierror.ValidationError("due date must be in the future")
	}
	if bill.DueDate.After(now.Add(conf.Settlement.MaxDueHorizon())) {
		return nil, apierror.ValidationError("due date is too far in the future")
	}

	return group.MemberAddresses(), nil
}

// createBillRecord persists a bill with its frozen splits, records its
// structure as verified and opens its escrow with the creator as payee. The
// coordinator vouches for structures it computed itself, so the commitment is
// recorded trusted without an inclusion proof.
func (t *Tabwise) createBillRecord(ctx context.Context, bill model.Bill, values []int64, members []string) (model.Bill, error) {
	splits, err := model.ComputeSplits(bill.Total, bill.SplitType, members, values)
	if err != nil {
		if errors.Is(err, model.ErrMismatchedSplitValues) ||
			errors.Is(err, model.ErrInvalidPercentages) ||
			errors.Is(err, model.ErrCustomSplitMismatch) ||
			errors.Is(err, model.ErrUnknownSplitType) {
			return model.Bill{}, apierror.ValidationError(err.Error())
		}
		return model.Bill{}, err
	}
	bill.Splits = splits

	bill, err = t.datasource.CreateBill(bill)
	if err != nil {
		return model.Bill{}, err
	}
	if err := t.datasource.IncrementGroupBillsCreated(ctx, bill.GroupID); err != nil {
		return model.Bill{}, err
	}

	structure := &model.BillStructure{
		BillID:    bill.BillID,
		Total:     bill.Total,
		Token:     bill.Token,
		SplitType: bill.SplitType,
		Members:   members,
		Values:    values,
	}
	commitment, err := StructureCommitment(structure)
	if err != nil {
		return model.Bill{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to encode structure", err)
	}
	verified, err := t.datasource.RecordVerifiedStructure(model.VerifiedStructure{
		Commitment: commitment,
		Structure:  structure,
		Trusted:    true,
		VerifiedAt: time.Now(),
	})
	if err != nil {
		return model.Bill{}, err
	}

	if _, err := t.openEscrow(&verified, bill.Creator, bill.DueDate); err != nil {
		return model.Bill{}, err
	}

	return bill, nil
}

// CreateBill creates a bill inside a group, freezes the per-member splits
// from the current member snapshot and opens an escrow that collects until
// the due date. The creator must be a member with bill-creation rights.
func (t *Tabwise) CreateBill(ctx context.Context, bill model.Bill, values []int64) (model.Bill, error) {
	ctx, span := billTracer.Start(ctx, "CreateBill")
	defer span.End()

	if err := t.checkActive(); err != nil {
		return model.Bill{}, err
	}
	conf, err := config.Fetch()
	if err != nil {
		return model.Bill{}, err
	}

	members, err := t.validateBillInput(&bill, conf)
	if err != nil {
		return model.Bill{}, err
	}
	bill.CrossChain = false
	bill.Chains = nil

	bill, err = t.createBillRecord(ctx, bill, values, members)
	if err != nil {
		span.RecordError(err)
		return model.Bill{}, err
	}

	span.AddEvent("Bill created", trace.WithAttributes(attribute.String("bill.id", bill.BillID)))
	t.postBillActions(ctx, EventBillCreated, &bill)
	return bill, nil
}

// CreateCrossChainBill creates a group bill whose total is split across
// several chains. The local record and escrow are created first, then the
// bill is registered with the bridge, which synchronizes it to the other
// participating chains.
func (t *Tabwise) CreateCrossChainBill(ctx context.Context, bill model.Bill, values []int64, chainAmounts map[string]int64) (model.Bill, error) {
	ctx, span := billTracer.Start(ctx, "CreateCrossChainBill")
	defer span.End()

	if err := t.checkActive(); err != nil {
		return model.Bill{}, err
	}
	conf, err := config.Fetch()
	if err != nil {
		return model.Bill{}, err
	}

	members, err := t.validateBillInput(&bill, conf)
	if err != nil {
		return model.Bill{}, err
	}

	chains := make([]string, 0, len(chainAmounts))
	for chain := range chainAmounts {
		chains = append(chains, chain)
	}
	bill.CrossChain = true
	bill.Chains = chains
	bill.BillID = model.GenerateUUIDWithSuffix("bill")

	// Validate and register the bridge record before persisting the group
	// bill, so a rejected chain layout leaves nothing behind.
	if _, err := t.RegisterCrossChainBill(ctx, bill.BillID, bill.Token, bill.Total, chains, chainAmounts); err != nil {
		return model.Bill{}, err
	}

	bill, err = t.createBillRecord(ctx, bill, values, members)
	if err != nil {
		span.RecordError(err)
		return model.Bill{}, err
	}

	span.AddEvent("Cross-chain bill created", trace.WithAttributes(
		attribute.String("bill.id", bill.BillID),
		attribute.Int("bill.chain_count", len(chains)),
	))
	t.postBillActions(ctx, EventBillCreated, &bill)
	return bill, nil
}

// GetBill returns a bill with its frozen splits.
func (t *Tabwise) GetBill(id string) (*model.Bill, error) {
	return t.datasource.GetBillByID(id)
}

// GetBillsByGroup lists a group's bills with clamped pagination.
func (t *Tabwise) GetBillsByGroup(groupID string, limit, offset int) ([]model.Bill, error) {
	limit, offset = clampPagination(limit, offset)
	return t.datasource.GetBillsByGroup(groupID, limit, offset)
}

// GetBillsByMember lists the bills an address owes a share of.
func (t *Tabwise) GetBillsByMember(member string, limit, offset int) ([]model.Bill, error) {
	limit, offset = clampPagination(limit, offset)
	return t.datasource.GetBillsByMember(member, limit, offset)
}

// SettleBill settles a fully funded bill: the escrow pays out, the bill and
// group counters are updated, and for a cross-chain bill the local settlement
// is broadcast to the other participating chains.
func (t *Tabwise) SettleBill(ctx context.Context, billID string) (*model.Bill, error) {
	ctx, span := billTracer.Start(ctx, "SettleBill")
	defer span.End()

	if err := t.checkActive(); err != nil {
		return nil, err
	}

	bill, err := t.datasource.GetBillByID(billID)
	if err != nil {
		return nil, err
	}
	if bill.Settled {
		return nil, apierror.ConflictError("bill is already settled")
	}

	if bill.CrossChain {
		// Pull in any remote payments that arrived since the last
		// reconciliation before judging whether the escrow is funded.
		if _, err := t.ReconcilePendingPayments(ctx, billID); err != nil {
			return nil, err
		}
	}

	escrow, err := t.SettleEscrow(ctx, billID)
	if err != nil {
		return nil, err
	}

	settledAt := time.Now()
	if escrow.SettledAt != nil {
		settledAt = *escrow.SettledAt
	}
	if err := t.datasource.MarkBillSettled(ctx, billID, settledAt); err != nil {
		return nil, err
	}
	if err := t.datasource.IncrementGroupBillsSettled(ctx, bill.GroupID); err != nil {
		return nil, err
	}
	bill.Settled = true
	bill.SettledAt = &settledAt

	if bill.CrossChain {
		if err := t.ConfirmLocalSettlement(ctx, billID); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	span.AddEvent("Bill settled", trace.WithAttributes(attribute.String("bill.id", billID)))
	t.postBillActions(ctx, EventBillSettled, bill)
	return bill, nil
}
