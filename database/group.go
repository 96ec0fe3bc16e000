package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"

	"github.com/tabwise-finance/tabwise/internal/apierror"
	"github.com/tabwise-finance/tabwise/model"
)

func (d Datasource) CreateGroup(group model.Group) (model.Group, error) {
	metaDataJSON, err := json.Marshal(group.MetaData)
	if err != nil {
		return model.Group{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	group.GroupID = model.GenerateUUIDWithSuffix("grp")
	group.CreatedAt = time.Now()
	group.Active = true

	tx, err := d.Conn.Begin()
	if err != nil {
		return model.Group{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.Exec(`
		INSERT INTO tabwise.groups (group_id, name, description, creator, meta_data)
		VALUES ($1, $2, $3, $4, $5)
	`, group.GroupID, group.Name, group.Description, group.Creator, metaDataJSON)
	if err != nil {
		return model.Group{}, mapPqError(err, "Group with this ID already exists", "Failed to create group")
	}

	for i := range group.Members {
		group.Members[i].AddedAt = group.CreatedAt
		_, err = tx.Exec(`
			INSERT INTO tabwise.group_members (group_id, address, can_create_bills, added_at)
			VALUES ($1, $2, $3, $4)
		`, group.GroupID, group.Members[i].Address, group.Members[i].CanCreateBills, group.Members[i].AddedAt)
		if err != nil {
			return model.Group{}, mapPqError(err, "Duplicate group member", "Failed to add group member")
		}
	}

	if err := tx.Commit(); err != nil {
		return model.Group{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit group", err)
	}

	return group, nil
}

func (d Datasource) GetGroupByID(id string) (*model.Group, error) {
	group := model.Group{}

	row := d.Conn.QueryRow(`
		SELECT group_id, name, description, creator, bills_created, bills_settled, active, meta_data, created_at
		FROM tabwise.groups
		WHERE group_id = $1
	`, id)

	var metaDataJSON []byte
	err := row.Scan(&group.GroupID, &group.Name, &group.Description, &group.Creator,
		&group.BillsCreated, &group.BillsSettled, &group.Active, &metaDataJSON, &group.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Group not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve group", err)
	}

	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &group.MetaData); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal metadata", err)
		}
	}

	members, err := d.getGroupMembers(id)
	if err != nil {
		return nil, err
	}
	group.Members = members

	return &group, nil
}

func (d Datasource) getGroupMembers(groupID string) ([]model.GroupMember, error) {
	rows, err := d.Conn.Query(`
		SELECT address, can_create_bills, added_at
		FROM tabwise.group_members
		WHERE group_id = $1
		ORDER BY id ASC
	`, groupID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve group members", err)
	}
	defer rows.Close()

	members := []model.GroupMember{}
	for rows.Next() {
		member := model.GroupMember{}
		if err := rows.Scan(&member.Address, &member.CanCreateBills, &member.AddedAt); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan group member", err)
		}
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over members", err)
	}
	return members, nil
}

func (d Datasource) GetAllGroups(limit, offset int) ([]model.Group, error) {
	rows, err := d.Conn.Query(`
		SELECT group_id, name, description, creator, bills_created, bills_settled, active, created_at
		FROM tabwise.groups
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve groups", err)
	}
	defer rows.Close()

	return scanGroupRows(rows)
}

func (d Datasource) GetGroupsByMember(member string, limit, offset int) ([]model.Group, error) {
	rows, err := d.Conn.Query(`
		SELECT g.group_id, g.name, g.description, g.creator, g.bills_created, g.bills_settled, g.active, g.created_at
		FROM tabwise.groups g
		JOIN tabwise.group_members m ON m.group_id = g.group_id
		WHERE m.address = $1
		ORDER BY g.created_at DESC
		LIMIT $2 OFFSET $3
	`, member, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve groups", err)
	}
	defer rows.Close()

	return scanGroupRows(rows)
}

func scanGroupRows(rows *sql.Rows) ([]model.Group, error) {
	groups := []model.Group{}
	for rows.Next() {
		group := model.Group{}
		err := rows.Scan(&group.GroupID, &group.Name, &group.Description, &group.Creator,
			&group.BillsCreated, &group.BillsSettled, &group.Active, &group.CreatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan group data", err)
		}
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over groups", err)
	}
	return groups, nil
}

func (d Datasource) AddGroupMember(groupID string, member model.GroupMember) error {
	_, err := d.Conn.Exec(`
		INSERT INTO tabwise.group_members (group_id, address, can_create_bills, added_at)
		VALUES ($1, $2, $3, $4)
	`, groupID, member.Address, member.CanCreateBills, member.AddedAt)
	if err != nil {
		return mapPqError(err, "Member already in group", "Failed to add group member")
	}
	return nil
}

func (d Datasource) RemoveGroupMember(groupID, address string) error {
	result, err := d.Conn.Exec(`
		DELETE FROM tabwise.group_members
		WHERE group_id = $1 AND address = $2
	`, groupID, address)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to remove group member", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check removal result", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Member not in group", nil)
	}
	return nil
}

func (d Datasource) UpdateMemberPermissions(groupID, address string, canCreateBills bool) error {
	result, err := d.Conn.Exec(`
		UPDATE tabwise.group_members
		SET can_create_bills = $3
		WHERE group_id = $1 AND address = $2
	`, groupID, address, canCreateBills)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update member permissions", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check update result", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Member not in group", nil)
	}
	return nil
}

func (d Datasource) DeactivateGroup(groupID string) error {
	_, err := d.Conn.Exec(`
		UPDATE tabwise.groups SET active = FALSE WHERE group_id = $1
	`, groupID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to deactivate group", err)
	}
	return nil
}

func (d Datasource) IncrementGroupBillsCreated(ctx context.Context, groupID string) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE tabwise.groups SET bills_created = bills_created + 1 WHERE group_id = $1
	`, groupID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to increment bills created", err)
	}
	return nil
}

func (d Datasource) IncrementGroupBillsSettled(ctx context.Context, groupID string) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE tabwise.groups SET bills_settled = bills_settled + 1 WHERE group_id = $1
	`, groupID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to increment bills settled", err)
	}
	return nil
}

// mapPqError turns a postgres unique violation into a conflict error and
// everything else into an internal error.
func mapPqError(err error, conflictMsg, fallbackMsg string) error {
	if pqErr, ok := err.(*pq.Error); ok {
		switch pqErr.Code.Name() {
		case "unique_violation":
			return apierror.NewAPIError(apierror.ErrConflict, conflictMsg, err)
		default:
			return apierror.NewAPIError(apierror.ErrInternalServer, "Database error occurred", err)
		}
	}
	return apierror.NewAPIError(apierror.ErrInternalServer, fallbackMsg, err)
}
