package model

import "time"

// Group is a set of parties that can share bills. Groups are never deleted,
// only deactivated.
type Group struct {
	ID           int64                  `json:"-"`
	GroupID      string                 `json:"group_id"`
	Name         string                 `json:"name"`
	Description  string                 `json:"description"`
	Creator      string                 `json:"creator"`
	Members      []GroupMember          `json:"members"`
	BillsCreated int64                  `json:"bills_created"`
	BillsSettled int64                  `json:"bills_settled"`
	Active       bool                   `json:"active"`
	MetaData     map[string]interface{} `json:"meta_data,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

type GroupMember struct {
	Address        string    `json:"address"`
	CanCreateBills bool      `json:"can_create_bills"`
	AddedAt        time.Time `json:"added_at"`
}

// IsMember reports whether the given address belongs to the group.
func (g *Group) IsMember(address string) bool {
	for _, m := range g.Members {
		if m.Address == address {
			return true
		}
	}
	return false
}

// CanCreateBills reports whether the given member may create bills in this
// group. Non-members can never create bills.
func (g *Group) CanCreateBills(address string) bool {
	for _, m := range g.Members {
		if m.Address == address {
			return m.CanCreateBills
		}
	}
	return false
}

// MemberAddresses returns member addresses in insertion order.
func (g *Group) MemberAddresses() []string {
	addresses := make([]string, 0, len(g.Members))
	for _, m := range g.Members {
		addresses = append(addresses, m.Address)
	}
	return addresses
}
