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
package model

import (
	"errors"
	"time"

	"github.com/tabwise-finance/tabwise/model"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// CreateGroup is the request body for creating a bill-sharing group.
type CreateGroup struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Creator     string                 `json:"creator"`
	Members     []GroupMemberInput     `json:"members"`
	MetaData    map[string]interface{} `json:"meta_data"`
}

type GroupMemberInput struct {
	Address        string `json:"address"`
	CanCreateBills bool   `json:"can_create_bills"`
}

func (g *CreateGroup) ValidateCreateGroup() error {
	return validation.ValidateStruct(g,
		validation.Field(&g.Name, validation.Required),
		validation.Field(&g.Creator, validation.Required),
	)
}

func (g *CreateGroup) ToGroup() model.Group {
	members := make([]model.GroupMember, 0, len(g.Members))
	for _, m := range g.Members {
		members = append(members, model.GroupMember{Address: m.Address, CanCreateBills: m.CanCreateBills})
	}
	return model.Group{
		Name:        g.Name,
		Description: g.Description,
		Creator:     g.Creator,
		Members:     members,
		MetaData:    g.MetaData,
	}
}

// ModifyMember covers adding a member, removing one and changing permissions.
// Actor is the caller's address; only the group creator is accepted.
type ModifyMember struct {
	Actor          string `json:"actor"`
	Address        string `json:"address"`
	CanCreateBills bool   `json:"can_create_bills"`
}

func (m *ModifyMember) ValidateModifyMember() error {
	return validation.ValidateStruct(m,
		validation.Field(&m.Actor, validation.Required),
		validation.Field(&m.Address, validation.Required),
	)
}

// CreateBill is the request body for creating a bill inside a group.
type CreateBill struct {
	GroupID      string           `json:"group_id"`
	Creator      string           `json:"creator"`
	Description  string           `json:"description"`
	Total        int64            `json:"total"`
	Token        string           `json:"token"`
	SplitType    string           `json:"split_type"`
	Values       []int64          `json:"values"`
	DueDate      *time.Time       `json:"due_date"`
	ChainAmounts map[string]int64 `json:"chain_amounts"`
}

func (b *CreateBill) ValidateCreateBill() error {
	return validation.ValidateStruct(b,
		validation.Field(&b.GroupID, validation.Required),
		validation.Field(&b.Creator, validation.Required),
		validation.Field(&b.Total, validation.Required, validation.Min(1)),
		validation.Field(&b.Token, validation.Required),
		validation.Field(&b.SplitType, validation.Required, validation.In(model.SplitEqual, model.SplitPercentage, model.SplitCustom)),
	)
}

func (b *CreateBill) ToBill() model.Bill {
	bill := model.Bill{
		GroupID:     b.GroupID,
		Creator:     b.Creator,
		Description: b.Description,
		Total:       b.Total,
		Token:       b.Token,
		SplitType:   b.SplitType,
	}
	if b.DueDate != nil {
		bill.DueDate = *b.DueDate
	}
	return bill
}

// VerifyStructure is the request body for a single merkle proof verification.
type VerifyStructure struct {
	Structure StructureInput `json:"structure"`
	Root      string         `json:"root"`
	Path      []string       `json:"path"`
	Index     uint64         `json:"index"`
}

type StructureInput struct {
	BillID      string   `json:"bill_id"`
	Description string   `json:"description"`
	Total       int64    `json:"total"`
	Token       string   `json:"token"`
	SplitType   string   `json:"split_type"`
	Members     []string `json:"members"`
	Values      []int64  `json:"values"`
}

func (s StructureInput) toStructure() *model.BillStructure {
	return &model.BillStructure{
		BillID:      s.BillID,
		Description: s.Description,
		Total:       s.Total,
		Token:       s.Token,
		SplitType:   s.SplitType,
		Members:     s.Members,
		Values:      s.Values,
	}
}

func (v *VerifyStructure) ValidateVerifyStructure() error {
	return validation.ValidateStruct(v,
		validation.Field(&v.Root, validation.Required),
		validation.Field(&v.Structure, validation.By(func(interface{}) error {
			if v.Structure.BillID == "" {
				return errors.New("structure.bill_id is required")
			}
			if v.Structure.Total <= 0 {
				return errors.New("structure.total must be positive")
			}
			if len(v.Structure.Members) == 0 {
				return errors.New("structure.members must not be empty")
			}
			return nil
		})),
	)
}

func (v *VerifyStructure) ToStructure() *model.BillStructure {
	return v.Structure.toStructure()
}

func (v *VerifyStructure) ToProof() model.StructureProof {
	return model.StructureProof{Path: v.Path, Index: v.Index}
}

// BatchVerify is the request body for verifying several structures against
// one root.
type BatchVerify struct {
	Root  string           `json:"root"`
	Items []BatchVerifyRow `json:"items"`
}

type BatchVerifyRow struct {
	Structure StructureInput `json:"structure"`
	Path      []string       `json:"path"`
	Index     uint64         `json:"index"`
}

func (b *BatchVerify) ValidateBatchVerify() error {
	return validation.ValidateStruct(b,
		validation.Field(&b.Root, validation.Required),
		validation.Field(&b.Items, validation.Required, validation.Length(1, 0)),
	)
}

func (b *BatchVerify) ToStructuresAndProofs() ([]*model.BillStructure, []model.StructureProof) {
	structures := make([]*model.BillStructure, len(b.Items))
	proofs := make([]model.StructureProof, len(b.Items))
	for i, item := range b.Items {
		structures[i] = item.Structure.toStructure()
		proofs[i] = model.StructureProof{Path: item.Path, Index: item.Index}
	}
	return structures, proofs
}

// InitializeEscrow opens an escrow for a verified commitment.
type InitializeEscrow struct {
	Commitment string `json:"commitment"`
	Payee      string `json:"payee"`
}

func (e *InitializeEscrow) ValidateInitializeEscrow() error {
	return validation.ValidateStruct(e,
		validation.Field(&e.Commitment, validation.Required),
		validation.Field(&e.Payee, validation.Required),
	)
}

// PayEscrow records a payer's contribution to a bill.
type PayEscrow struct {
	Payer  string `json:"payer"`
	Amount int64  `json:"amount"`
}

func (p *PayEscrow) ValidatePayEscrow() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.Payer, validation.Required),
		validation.Field(&p.Amount, validation.Required, validation.Min(1)),
	)
}

// RaiseDispute challenges a bill's escrow.
type RaiseDispute struct {
	Challenger string `json:"challenger"`
	Reason     string `json:"reason"`
}

func (d *RaiseDispute) ValidateRaiseDispute() error {
	return validation.ValidateStruct(d,
		validation.Field(&d.Challenger, validation.Required),
		validation.Field(&d.Reason, validation.Required),
	)
}

// ResolveDispute closes a bill's open dispute.
type ResolveDispute struct {
	Approved bool `json:"approved"`
}

// RegisterCrossChainBill registers a bill split across chains directly with
// the bridge.
type RegisterCrossChainBill struct {
	BillID  string           `json:"bill_id"`
	Token   string           `json:"token"`
	Total   int64            `json:"total"`
	Chains  []string         `json:"chains"`
	Amounts map[string]int64 `json:"amounts"`
}

func (b *RegisterCrossChainBill) ValidateRegisterCrossChainBill() error {
	return validation.ValidateStruct(b,
		validation.Field(&b.Token, validation.Required),
		validation.Field(&b.Total, validation.Required, validation.Min(1)),
		validation.Field(&b.Chains, validation.Required, validation.Length(2, 0)),
		validation.Field(&b.Amounts, validation.Required),
	)
}

// SendPayment sends a cross-chain share to another chain's escrow.
type SendPayment struct {
	Payer              string `json:"payer"`
	DestinationChain   string `json:"destination_chain"`
	DestinationAddress string `json:"destination_address"`
	Amount             int64  `json:"amount"`
	Fee                int64  `json:"fee"`
}

func (p *SendPayment) ValidateSendPayment() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.Payer, validation.Required),
		validation.Field(&p.DestinationChain, validation.Required),
		validation.Field(&p.Amount, validation.Required, validation.Min(1)),
	)
}

// RegisterToken adds a token symbol to the allowlist.
type RegisterToken struct {
	Symbol string `json:"symbol"`
}

func (r *RegisterToken) ValidateRegisterToken() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Symbol, validation.Required),
	)
}

// RegisterChain adds a chain, optionally with its trusted counterpart.
type RegisterChain struct {
	Chain       string `json:"chain"`
	Counterpart string `json:"counterpart"`
}

func (r *RegisterChain) ValidateRegisterChain() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Chain, validation.Required),
	)
}
