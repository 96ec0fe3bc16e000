package model

import (
	"encoding/json"
	"time"
)

// BillStructure is the line-item structure a group agrees on off-chain. Its
// canonical encoding is what merkle proofs attest to.
type BillStructure struct {
	BillID      string   `json:"bill_id"`
	Description string   `json:"description,omitempty"`
	Total       int64    `json:"total"`
	Token       string   `json:"token"`
	SplitType   string   `json:"split_type"`
	Members     []string `json:"members"`
	Values      []int64  `json:"values,omitempty"`
}

// Encode produces the canonical byte encoding hashed into commitments.
// encoding/json marshals struct fields in declaration order, so the output
// is deterministic for a given structure.
func (s *BillStructure) Encode() ([]byte, error) {
	return json.Marshal(s)
}

func DecodeBillStructure(data []byte) (*BillStructure, error) {
	var s BillStructure
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// VerifiedStructure records a commitment together with the structure it
// attests to. Revocation clears Structure and Trusted but keeps the row so
// history stays auditable.
type VerifiedStructure struct {
	ID         int64          `json:"-"`
	Commitment string         `json:"commitment"`
	Structure  *BillStructure `json:"structure,omitempty"`
	Trusted    bool           `json:"trusted"`
	VerifiedAt time.Time      `json:"verified_at"`
	RevokedAt  *time.Time     `json:"revoked_at,omitempty"`
}

// StructureProof is a merkle inclusion proof: the sibling hash path from the
// structure leaf up to the committed root, hex encoded, plus the leaf index.
type StructureProof struct {
	Path  []string `json:"path"`
	Index uint64   `json:"index"`
}
