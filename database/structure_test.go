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
	"github.com/stretchr/testify/assert"

	"github.com/tabwise-finance/tabwise/model"
)

// mapCache is an in-process stand-in for the redis cache.
type mapCache struct {
	entries map[string]model.VerifiedStructure
}

func newMapCache() *mapCache {
	return &mapCache{entries: map[string]model.VerifiedStructure{}}
}

func (c *mapCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	if vs, ok := value.(model.VerifiedStructure); ok {
		c.entries[key] = vs
	}
	return nil
}

func (c *mapCache) Get(_ context.Context, key string, data interface{}) error {
	vs, ok := c.entries[key]
	if !ok {
		return nil
	}
	if out, castable := data.(*model.VerifiedStructure); castable {
		*out = vs
	}
	return nil
}

func (c *mapCache) Delete(_ context.Context, key string) error {
	delete(c.entries, key)
	return nil
}

func structureRow() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"commitment", "structure", "trusted", "verified_at", "revoked_at"}).
		AddRow("abc123", []byte(`{"bill_id":"bill_1","total":100,"token":"USDC","split_type":"EQUAL","members":["0xa"]}`), true, time.Now(), nil)
}

func TestGetVerifiedStructureServedFromCache(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db, Cache: newMapCache()}

	// first read goes to the database and populates the cache
	mock.ExpectQuery("SELECT commitment, structure, trusted").
		WithArgs("abc123").
		WillReturnRows(structureRow())

	first, err := ds.GetVerifiedStructure("abc123")
	assert.NoError(t, err)
	assert.True(t, first.Trusted)

	// second read has no query expectation left; it must come from cache
	second, err := ds.GetVerifiedStructure("abc123")
	assert.NoError(t, err)
	assert.Equal(t, first.Commitment, second.Commitment)

	trusted, err := ds.IsCommitmentTrusted("abc123")
	assert.NoError(t, err)
	assert.True(t, trusted)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokeStructureDropsCachedEntry(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db, Cache: newMapCache()}

	mock.ExpectQuery("SELECT commitment, structure, trusted").
		WithArgs("abc123").
		WillReturnRows(structureRow())
	mock.ExpectExec("UPDATE tabwise.verified_structures").
		WithArgs("abc123", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// the read after revocation must hit the database again
	mock.ExpectQuery("SELECT commitment, structure, trusted").
		WithArgs("abc123").
		WillReturnRows(sqlmock.NewRows([]string{"commitment", "structure", "trusted", "verified_at", "revoked_at"}).
			AddRow("abc123", nil, false, time.Now(), time.Now()))

	_, err = ds.GetVerifiedStructure("abc123")
	assert.NoError(t, err)

	err = ds.RevokeStructure("abc123", time.Now())
	assert.NoError(t, err)

	after, err := ds.GetVerifiedStructure("abc123")
	assert.NoError(t, err)
	assert.False(t, after.Trusted)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordVerifiedStructurePrimesCache(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db, Cache: newMapCache()}

	mock.ExpectExec("INSERT INTO tabwise.verified_structures").
		WillReturnResult(sqlmock.NewResult(1, 1))

	vs, err := ds.RecordVerifiedStructure(model.VerifiedStructure{
		Commitment: "abc123",
		Structure: &model.BillStructure{
			BillID:    "bill_1",
			Total:     100,
			Token:     "USDC",
			SplitType: model.SplitEqual,
			Members:   []string{"0xa"},
		},
	})
	assert.NoError(t, err)
	assert.True(t, vs.Trusted)

	// no query expectation: the record is served from the primed cache
	got, err := ds.GetVerifiedStructure("abc123")
	assert.NoError(t, err)
	assert.Equal(t, "abc123", got.Commitment)

	assert.NoError(t, mock.ExpectationsWereMet())
}
