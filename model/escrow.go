package model

import "time"

// Escrow holds collected member payments for one bill until settlement or
// refund. One escrow per bill.
type Escrow struct {
	ID              int64      `json:"-"`
	EscrowID        string     `json:"escrow_id"`
	BillID          string     `json:"bill_id"`
	RequiredTotal   int64      `json:"required_total"`
	Token           string     `json:"token"`
	Payee           string     `json:"payee"`
	Collected       int64      `json:"collected"`
	FullyPaid       bool       `json:"fully_paid"`
	Settled         bool       `json:"settled"`
	Refunded        bool       `json:"refunded"`
	Disputed        bool       `json:"disputed"`
	PaymentDeadline time.Time  `json:"payment_deadline"`
	DisputeDeadline *time.Time `json:"dispute_deadline,omitempty"`
	SettledAt       *time.Time `json:"settled_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	Payments        []Payment  `json:"payments,omitempty"`
}

// Payment is one payer's contribution to an escrow. At most one per payer
// per bill; the first write wins.
type Payment struct {
	ID        int64     `json:"-"`
	PaymentID string    `json:"payment_id"`
	BillID    string    `json:"bill_id"`
	Payer     string    `json:"payer"`
	Amount    int64     `json:"amount"`
	Token     string    `json:"token"`
	Settled   bool      `json:"settled"`
	Refunded  bool      `json:"refunded"`
	PaidAt    time.Time `json:"paid_at"`
}

// Dispute is a challenge against an escrow raised by one of its payers. One
// open dispute per bill at a time.
type Dispute struct {
	ID         int64      `json:"-"`
	DisputeID  string     `json:"dispute_id"`
	BillID     string     `json:"bill_id"`
	Challenger string     `json:"challenger"`
	Reason     string     `json:"reason"`
	Resolved   bool       `json:"resolved"`
	Approved   bool       `json:"approved"`
	RaisedAt   time.Time  `json:"raised_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// WindowOpen reports whether the escrow still accepts payments at the given
// time.
func (e *Escrow) WindowOpen(now time.Time) bool {
	return now.Before(e.PaymentDeadline)
}

// DisputeWindowElapsed reports whether the dispute window, if any, has
// passed. An escrow with no dispute deadline has nothing blocking it.
func (e *Escrow) DisputeWindowElapsed(now time.Time) bool {
	if e.DisputeDeadline == nil {
		return true
	}
	return now.After(*e.DisputeDeadline)
}

// HasPayment reports whether the payer already has a recorded entry.
func (e *Escrow) HasPayment(payer string) bool {
	for _, p := range e.Payments {
		if p.Payer == payer {
			return true
		}
	}
	return false
}
