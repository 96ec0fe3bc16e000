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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/tabwise-finance/tabwise/internal/apierror"
	"github.com/tabwise-finance/tabwise/model"
)

func TestCreateGroup_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	group := model.Group{
		Name:    "trip to lisbon",
		Creator: "0xcreator",
		Members: []model.GroupMember{
			{Address: "0xcreator", CanCreateBills: true},
			{Address: "0xmember"},
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO tabwise.groups").
		WithArgs(sqlmock.AnyArg(), group.Name, "", group.Creator, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO tabwise.group_members").
		WithArgs(sqlmock.AnyArg(), "0xcreator", true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO tabwise.group_members").
		WithArgs(sqlmock.AnyArg(), "0xmember", false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	created, err := ds.CreateGroup(group)
	assert.NoError(t, err)
	assert.Contains(t, created.GroupID, "grp_")
	assert.True(t, created.Active)
	assert.WithinDuration(t, time.Now(), created.CreatedAt, time.Second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateGroup_UniqueViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO tabwise.groups").
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	_, err = ds.CreateGroup(model.Group{Name: "dup", Creator: "0xcreator"})
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrConflict, apiErr.Code)
}

func TestGetGroupByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	groupRows := sqlmock.NewRows([]string{"group_id", "name", "description", "creator", "bills_created", "bills_settled", "active", "meta_data", "created_at"}).
		AddRow("grp_123", "flatmates", "", "0xcreator", 2, 1, true, []byte(`{}`), time.Now())
	mock.ExpectQuery("SELECT group_id, name, description, creator, bills_created, bills_settled, active, meta_data, created_at FROM tabwise.groups").
		WithArgs("grp_123").
		WillReturnRows(groupRows)

	memberRows := sqlmock.NewRows([]string{"address", "can_create_bills", "added_at"}).
		AddRow("0xcreator", true, time.Now()).
		AddRow("0xmember", false, time.Now())
	mock.ExpectQuery("SELECT address, can_create_bills, added_at FROM tabwise.group_members").
		WithArgs("grp_123").
		WillReturnRows(memberRows)

	group, err := ds.GetGroupByID("grp_123")
	assert.NoError(t, err)
	assert.Equal(t, "grp_123", group.GroupID)
	assert.Len(t, group.Members, 2)
	assert.Equal(t, int64(2), group.BillsCreated)
	assert.True(t, group.CanCreateBills("0xcreator"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetGroupByID_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT group_id, name, description, creator").
		WithArgs("grp_missing").
		WillReturnRows(sqlmock.NewRows([]string{"group_id"}))

	_, err = ds.GetGroupByID("grp_missing")
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrNotFound, apiErr.Code)
}

func TestRemoveGroupMember_NotInGroup(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("DELETE FROM tabwise.group_members").
		WithArgs("grp_123", "0xstranger").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = ds.RemoveGroupMember("grp_123", "0xstranger")
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrNotFound, apiErr.Code)
}

func TestIncrementGroupCounters(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE tabwise.groups SET bills_created").
		WithArgs("grp_123").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE tabwise.groups SET bills_settled").
		WithArgs("grp_123").
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, ds.IncrementGroupBillsCreated(context.Background(), "grp_123"))
	assert.NoError(t, ds.IncrementGroupBillsSettled(context.Background(), "grp_123"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
