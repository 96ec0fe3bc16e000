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

package database

import (
	"context"
	"time"

	"github.com/tabwise-finance/tabwise/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	group      // Group membership and permissions
	bill       // Bill records and frozen splits
	structure  // Verified structure commitments
	escrow     // Escrow records, payments and disputes
	crosschain // Cross-chain bill mirrors and pending payments
	registry   // Token allowlist and chain registry
}

// group defines methods for handling groups.
type group interface {
	CreateGroup(group model.Group) (model.Group, error)
	GetGroupByID(id string) (*model.Group, error)
	GetAllGroups(limit, offset int) ([]model.Group, error)
	GetGroupsByMember(member string, limit, offset int) ([]model.Group, error)
	AddGroupMember(groupID string, member model.GroupMember) error
	RemoveGroupMember(groupID, address string) error
	UpdateMemberPermissions(groupID, address string, canCreateBills bool) error
	DeactivateGroup(groupID string) error
	IncrementGroupBillsCreated(ctx context.Context, groupID string) error
	IncrementGroupBillsSettled(ctx context.Context, groupID string) error
}

// bill defines methods for handling bills.
type bill interface {
	CreateBill(bill model.Bill) (model.Bill, error)
	GetBillByID(id string) (*model.Bill, error)
	GetBillsByGroup(groupID string, limit, offset int) ([]model.Bill, error)
	GetBillsByMember(member string, limit, offset int) ([]model.Bill, error)
	MarkBillSettled(ctx context.Context, billID string, settledAt time.Time) error
}

// structure defines methods for the verified structure store.
type structure interface {
	RecordVerifiedStructure(vs model.VerifiedStructure) (model.VerifiedStructure, error)
	GetVerifiedStructure(commitment string) (*model.VerifiedStructure, error)
	IsCommitmentTrusted(commitment string) (bool, error)
	RevokeStructure(commitment string, revokedAt time.Time) error
}

// escrow defines methods for escrow records, payments and disputes.
type escrow interface {
	CreateEscrow(escrow model.Escrow) (model.Escrow, error)
	GetEscrowByBillID(billID string) (*model.Escrow, error)
	RecordPayment(ctx context.Context, payment model.Payment) (model.Payment, error)
	UpdateEscrowCollected(ctx context.Context, billID string, collected int64, fullyPaid bool) error
	MarkEscrowSettled(ctx context.Context, billID string, settledAt time.Time) error
	MarkPaymentRefunded(ctx context.Context, paymentID string) error
	MarkEscrowRefunded(ctx context.Context, billID string) error
	OpenDispute(dispute model.Dispute, disputeDeadline time.Time) (model.Dispute, error)
	CloseDispute(ctx context.Context, billID string, approved bool, resolvedAt time.Time) error
	GetOpenDispute(billID string) (*model.Dispute, error)
}

// crosschain defines methods for cross-chain bill mirrors and the pending
// payment audit log.
type crosschain interface {
	CreateCrossChainBill(bill model.CrossChainBill) (model.CrossChainBill, error)
	CreateCrossChainBillIfAbsent(bill model.CrossChainBill) (created bool, err error)
	GetCrossChainBill(billID string) (*model.CrossChainBill, error)
	UpdateCrossChainFlags(ctx context.Context, billID string, settledFlags map[string]bool, fullySettled bool) error
	RecordPendingPayment(payment model.PendingPayment) (model.PendingPayment, error)
	GetPendingPayments(billID string, includeProcessed bool) ([]model.PendingPayment, error)
	MarkPendingPaymentProcessed(ctx context.Context, pendingID string) error
}

// registry defines methods for the token allowlist and the chain registry.
type registry interface {
	AddSupportedToken(symbol string) error
	RemoveSupportedToken(symbol string) error
	IsTokenSupported(symbol string) (bool, error)
	AddSupportedChain(chain string) error
	IsChainSupported(chain string) (bool, error)
	SetTrustedCounterpart(chain, counterpart string) error
	GetTrustedCounterpart(chain string) (string, error)
}
