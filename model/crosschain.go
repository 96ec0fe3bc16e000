package model

import (
	"encoding/json"
	"time"
)

// CrossChainBill mirrors a bill's cross-chain intent on every participating
// chain. The record is created on the origin chain at bill creation and
// replicated to the other chains via sync messages; per-chain settled flags
// are updated independently as confirmations arrive.
type CrossChainBill struct {
	ID           int64            `json:"-"`
	BillID       string           `json:"bill_id"`
	Total        int64            `json:"total"`
	Token        string           `json:"token"`
	OriginChain  string           `json:"origin_chain"`
	Chains       []string         `json:"chains"`
	Amounts      map[string]int64 `json:"amounts"`
	SettledFlags map[string]bool  `json:"settled_flags"`
	FullySettled bool             `json:"fully_settled"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// RecomputeFullySettled recomputes the aggregate flag as the AND of every
// participating chain's flag. The aggregate is monotonic: once true it never
// reverts, even if a flag map entry is missing on a later redelivery.
func (c *CrossChainBill) RecomputeFullySettled() bool {
	if c.FullySettled {
		return true
	}
	for _, chain := range c.Chains {
		if !c.SettledFlags[chain] {
			return false
		}
	}
	c.FullySettled = true
	return true
}

// PendingPayment is a received-but-not-yet-reconciled cross-chain payment
// notification. Appended on receipt, never removed; reconciliation only
// flips Processed.
type PendingPayment struct {
	ID          int64     `json:"-"`
	PendingID   string    `json:"pending_id"`
	BillID      string    `json:"bill_id"`
	Payer       string    `json:"payer"`
	Amount      int64     `json:"amount"`
	Token       string    `json:"token"`
	SourceChain string    `json:"source_chain"`
	Processed   bool      `json:"processed"`
	ReceivedAt  time.Time `json:"received_at"`
}

// Relay message kinds understood by the bridge.
const (
	MessageKindSync       = "bill.sync"
	MessageKindPayment    = "bill.payment"
	MessageKindSettlement = "bill.settlement"
)

// SyncMessage carries the full bill definition to the other participating
// chains.
type SyncMessage struct {
	MessageID   string           `json:"message_id"`
	BillID      string           `json:"bill_id"`
	Total       int64            `json:"total"`
	Token       string           `json:"token"`
	OriginChain string           `json:"origin_chain"`
	Chains      []string         `json:"chains"`
	Amounts     map[string]int64 `json:"amounts"`
}

// PaymentMessage notifies a destination chain of a payment made elsewhere.
type PaymentMessage struct {
	MessageID          string `json:"message_id"`
	BillID             string `json:"bill_id"`
	Payer              string `json:"payer"`
	DestinationAddress string `json:"destination_address"`
	Amount             int64  `json:"amount"`
	Token              string `json:"token"`
	SourceChain        string `json:"source_chain"`
}

// SettlementMessage propagates a chain's settlement flag for a bill.
type SettlementMessage struct {
	MessageID   string `json:"message_id"`
	BillID      string `json:"bill_id"`
	SourceChain string `json:"source_chain"`
	Settled     bool   `json:"settled"`
}

func (m *SyncMessage) ToJSON() ([]byte, error)       { return json.Marshal(m) }
func (m *PaymentMessage) ToJSON() ([]byte, error)    { return json.Marshal(m) }
func (m *SettlementMessage) ToJSON() ([]byte, error) { return json.Marshal(m) }
