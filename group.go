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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tabwise-finance/tabwise/config"
	"github.com/tabwise-finance/tabwise/internal/apierror"
	"github.com/tabwise-finance/tabwise/internal/notification"
	"github.com/tabwise-finance/tabwise/model"
)

var groupTracer = otel.Tracer("tabwise.groups")

// clampPagination bounds a list request. Zero or negative limits fall back to
// a page of 20; anything above 100 is cut to 100.
func clampPagination(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (t *Tabwise) postGroupActions(_ context.Context, group *model.Group) {
	go func() {
		err := SendWebhook(NewWebhook{
			Event:   EventGroupCreated,
			Payload: group,
		})
		if err != nil {
			notification.NotifyError(err)
		}
	}()
}

// CreateGroup creates a bill-sharing group. The creator always becomes a
// member with bill-creation rights; duplicate member addresses collapse into
// one entry.
func (t *Tabwise) CreateGroup(ctx context.Context, group model.Group) (model.Group, error) {
	ctx, span := groupTracer.Start(ctx, "CreateGroup")
	defer span.End()

	if err := t.checkActive(); err != nil {
		return model.Group{}, err
	}
	conf, err := config.Fetch()
	if err != nil {
		return model.Group{}, err
	}

	if strings.TrimSpace(group.Name) == "" {
		return model.Group{}, apierror.ValidationError("group name is required")
	}
	if strings.TrimSpace(group.Creator) == "" {
		return model.Group{}, apierror.ValidationError("group creator is required")
	}

	now := time.Now()
	seen := map[string]bool{group.Creator: true}
	members := []model.GroupMember{{Address: group.Creator, CanCreateBills: true, AddedAt: now}}
	for _, member := range group.Members {
		address := strings.TrimSpace(member.Address)
		if address == "" || seen[address] {
			continue
		}
		seen[address] = true
		member.Address = address
		member.AddedAt = now
		members = append(members, member)
	}
	if len(members) > conf.Settlement.MaxGroupSize {
		return model.Group{}, apierror.ValidationError(fmt.Sprintf("group exceeds the maximum size of %d members", conf.Settlement.MaxGroupSize))
	}
	group.Members = members
	group.Active = true

	group, err = t.datasource.CreateGroup(group)
	if err != nil {
		span.RecordError(err)
		return model.Group{}, err
	}

	span.AddEvent("Group created", trace.WithAttributes(
		attribute.String("group.id", group.GroupID),
		attribute.Int("group.member_count", len(group.Members)),
	))
	t.postGroupActions(ctx, &group)
	return group, nil
}

// GetGroup returns a group with its member list.
func (t *Tabwise) GetGroup(id string) (*model.Group, error) {
	return t.datasource.GetGroupByID(id)
}

// GetAllGroups lists groups with clamped pagination.
func (t *Tabwise) GetAllGroups(limit, offset int) ([]model.Group, error) {
	limit, offset = clampPagination(limit, offset)
	return t.datasource.GetAllGroups(limit, offset)
}

// GetGroupsByMember lists the groups an address belongs to.
func (t *Tabwise) GetGroupsByMember(member string, limit, offset int) ([]model.Group, error) {
	limit, offset = clampPagination(limit, offset)
	return t.datasource.GetGroupsByMember(member, limit, offset)
}

// requireGroupCreator loads an active group and checks the actor is its creator.
func (t *Tabwise) requireGroupCreator(groupID, actor string) (*model.Group, error) {
	group, err := t.datasource.GetGroupByID(groupID)
	if err != nil {
		return nil, err
	}
	if !group.Active {
		return nil, apierror.ConflictError("group is deactivated")
	}
	if group.Creator != actor {
		return nil, apierror.AuthorizationError("only the group creator can manage members")
	}
	return group, nil
}

// AddMember adds an address to a group. Creator only.
func (t *Tabwise) AddMember(ctx context.Context, groupID, actor, address string, canCreateBills bool) error {
	if err := t.checkActive(); err != nil {
		return err
	}
	conf, err := config.Fetch()
	if err != nil {
		return err
	}

	address = strings.TrimSpace(address)
	if address == "" {
		return apierror.ValidationError("member address is required")
	}

	group, err := t.requireGroupCreator(groupID, actor)
	if err != nil {
		return err
	}
	if group.IsMember(address) {
		return apierror.ConflictError("address is already a member of this group")
	}
	if len(group.Members)+1 > conf.Settlement.MaxGroupSize {
		return apierror.ValidationError(fmt.Sprintf("group exceeds the maximum size of %d members", conf.Settlement.MaxGroupSize))
	}

	return t.datasource.AddGroupMember(groupID, model.GroupMember{
		Address:        address,
		CanCreateBills: canCreateBills,
		AddedAt:        time.Now(),
	})
}

// RemoveMember removes an address from a group. Creator only; the creator
// itself cannot be removed.
func (t *Tabwise) RemoveMember(ctx context.Context, groupID, actor, address string) error {
	if err := t.checkActive(); err != nil {
		return err
	}

	group, err := t.requireGroupCreator(groupID, actor)
	if err != nil {
		return err
	}
	if address == group.Creator {
		return apierror.ValidationError("the group creator cannot be removed")
	}
	if !group.IsMember(address) {
		return apierror.NotFoundError("address is not a member of this group")
	}

	return t.datasource.RemoveGroupMember(groupID, address)
}

// UpdateMemberPermissions grants or revokes a member's right to create bills.
// Creator only; the creator's own rights are fixed.
func (t *Tabwise) UpdateMemberPermissions(ctx context.Context, groupID, actor, address string, canCreateBills bool) error {
	if err := t.checkActive(); err != nil {
		return err
	}

	group, err := t.requireGroupCreator(groupID, actor)
	if err != nil {
		return err
	}
	if address == group.Creator {
		return apierror.ValidationError("the creator's permissions cannot be changed")
	}
	if !group.IsMember(address) {
		return apierror.NotFoundError("address is not a member of this group")
	}

	return t.datasource.UpdateMemberPermissions(groupID, address, canCreateBills)
}

// DeactivateGroup retires a group. Existing bills keep working; new bills
// cannot be created against a deactivated group.
func (t *Tabwise) DeactivateGroup(ctx context.Context, groupID, actor string) error {
	if err := t.checkActive(); err != nil {
		return err
	}

	if _, err := t.requireGroupCreator(groupID, actor); err != nil {
		return err
	}
	return t.datasource.DeactivateGroup(groupID)
}
