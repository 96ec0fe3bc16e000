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

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabwise-finance/tabwise"
	model2 "github.com/tabwise-finance/tabwise/api/model"
	"github.com/tabwise-finance/tabwise/config"
	"github.com/tabwise-finance/tabwise/database"
	"github.com/tabwise-finance/tabwise/internal/merkle"
	"github.com/tabwise-finance/tabwise/model"
)

type TestRequest struct {
	Payload  io.Reader
	Router   *gin.Engine
	Response interface{}
	Method   string
	Route    string
	Header   map[string]string
}

func SetUpTestRequest(s TestRequest) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(s.Method, s.Route, s.Payload)
	for key, value := range s.Header {
		req.Header.Set(key, value)
	}
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	s.Router.ServeHTTP(resp, req)

	if s.Response != nil {
		err := json.NewDecoder(resp.Body).Decode(&s.Response)
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func setupRouter(t *testing.T) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()
	mr := miniredis.RunT(t)
	config.MockConfig(&config.Configuration{
		Redis:  config.RedisConfig{Dns: mr.Addr()},
		Server: config.ServerConfig{AdminKey: "test-admin-key"},
	})

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	engine, err := tabwise.NewTabwise(&database.Datasource{Conn: db})
	require.NoError(t, err)

	return NewAPI(engine).Router(), mock
}

func toJSON(t *testing.T, v interface{}) io.Reader {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(body)
}

func TestCreateGroupAPI(t *testing.T) {
	router, mock := setupRouter(t)

	creator := gofakeit.BitcoinAddress()
	member := gofakeit.BitcoinAddress()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO tabwise.groups").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO tabwise.group_members").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO tabwise.group_members").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	payload := model2.CreateGroup{
		Name:    gofakeit.AppName(),
		Creator: creator,
		Members: []model2.GroupMemberInput{{Address: member}},
	}

	var response model.Group
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  toJSON(t, payload),
		Router:   router,
		Response: &response,
		Method:   http.MethodPost,
		Route:    "/groups",
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, creator, response.Creator)
	assert.Len(t, response.Members, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateGroupAPIValidation(t *testing.T) {
	router, mock := setupRouter(t)

	payload := model2.CreateGroup{Name: "", Creator: ""}
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  toJSON(t, payload),
		Router:   router,
		Response: &map[string]interface{}{},
		Method:   http.MethodPost,
		Route:    "/groups",
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetGroupAPINotFound(t *testing.T) {
	router, mock := setupRouter(t)

	mock.ExpectQuery("SELECT group_id").
		WithArgs("grp_missing").
		WillReturnRows(sqlmock.NewRows([]string{"group_id", "name", "description", "creator", "bills_created", "bills_settled", "active", "meta_data", "created_at"}))

	resp, err := SetUpTestRequest(TestRequest{
		Router:   router,
		Response: &map[string]interface{}{},
		Method:   http.MethodGet,
		Route:    "/groups/grp_missing",
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyStructureAPI(t *testing.T) {
	router, mock := setupRouter(t)

	structure := &model.BillStructure{
		BillID:    "bill_api",
		Total:     900,
		Token:     "USDC",
		SplitType: model.SplitCustom,
		Members:   []string{"0xalice", "0xbob"},
		Values:    []int64{600, 300},
	}
	encoded, err := structure.Encode()
	require.NoError(t, err)

	tree, err := merkle.NewTree([][]byte{encoded, []byte("other")})
	require.NoError(t, err)
	path, err := tree.ProofHex(0)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO tabwise.verified_structures").WillReturnResult(sqlmock.NewResult(1, 1))

	payload := model2.VerifyStructure{
		Structure: model2.StructureInput{
			BillID:    structure.BillID,
			Total:     structure.Total,
			Token:     structure.Token,
			SplitType: structure.SplitType,
			Members:   structure.Members,
			Values:    structure.Values,
		},
		Root:  tree.RootHex(),
		Path:  path,
		Index: 0,
	}

	var response model.VerifiedStructure
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  toJSON(t, payload),
		Router:   router,
		Response: &response,
		Method:   http.MethodPost,
		Route:    "/verify",
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, resp.Code)
	assert.True(t, response.Trusted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyStructureAPIBadProof(t *testing.T) {
	router, mock := setupRouter(t)

	payload := model2.VerifyStructure{
		Structure: model2.StructureInput{
			BillID:    "bill_api",
			Total:     900,
			Token:     "USDC",
			SplitType: model.SplitCustom,
			Members:   []string{"0xalice"},
			Values:    []int64{900},
		},
		Root:  "deadbeef",
		Path:  []string{"00"},
		Index: 0,
	}

	resp, err := SetUpTestRequest(TestRequest{
		Payload:  toJSON(t, payload),
		Router:   router,
		Response: &map[string]interface{}{},
		Method:   http.MethodPost,
		Route:    "/verify",
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPayEscrowAPI(t *testing.T) {
	router, mock := setupRouter(t)

	deadline := time.Now().Add(time.Hour)
	escrowRows := sqlmock.NewRows([]string{
		"escrow_id", "bill_id", "required_total", "token", "payee", "collected",
		"fully_paid", "settled", "refunded", "disputed", "payment_deadline",
		"dispute_deadline", "settled_at", "created_at",
	}).AddRow("esc_1", "bill_1", int64(1000), "USDC", "0xalice", int64(0),
		false, false, false, false, deadline, nil, nil, time.Now())

	mock.ExpectQuery("SELECT escrow_id").WithArgs("bill_1").WillReturnRows(escrowRows)
	mock.ExpectQuery("SELECT payment_id").WithArgs("bill_1").
		WillReturnRows(sqlmock.NewRows([]string{"payment_id", "bill_id", "payer", "amount", "token", "settled", "refunded", "paid_at"}))
	mock.ExpectExec("INSERT INTO tabwise.escrow_payments").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE tabwise.escrows").
		WithArgs("bill_1", int64(400), false).
		WillReturnResult(sqlmock.NewResult(1, 1))

	payload := model2.PayEscrow{Payer: "0xbob", Amount: 400}

	var response model.Payment
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  toJSON(t, payload),
		Router:   router,
		Response: &response,
		Method:   http.MethodPost,
		Route:    "/escrows/bill_1/pay",
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, int64(400), response.Amount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPayEscrowAPIRejectsZeroAmount(t *testing.T) {
	router, mock := setupRouter(t)

	payload := model2.PayEscrow{Payer: "0xbob", Amount: 0}
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  toJSON(t, payload),
		Router:   router,
		Response: &map[string]interface{}{},
		Method:   http.MethodPost,
		Route:    "/escrows/bill_1/pay",
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdminRoutesRequireKey(t *testing.T) {
	router, _ := setupRouter(t)

	tests := []struct {
		name         string
		header       map[string]string
		expectedCode int
	}{
		{
			name:         "missing key",
			header:       nil,
			expectedCode: http.StatusUnauthorized,
		},
		{
			name:         "wrong key",
			header:       map[string]string{"X-Tabwise-Admin-Key": "nope"},
			expectedCode: http.StatusUnauthorized,
		},
		{
			name:         "valid key",
			header:       map[string]string{"X-Tabwise-Admin-Key": "test-admin-key"},
			expectedCode: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := SetUpTestRequest(TestRequest{
				Payload:  bytes.NewReader([]byte(`{}`)),
				Router:   router,
				Response: &map[string]interface{}{},
				Method:   http.MethodPost,
				Route:    "/admin/pause",
				Header:   tt.header,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.expectedCode, resp.Code, fmt.Sprintf("case %s", tt.name))
		})
	}
}

func TestRegisterTokenAPI(t *testing.T) {
	router, mock := setupRouter(t)

	mock.ExpectExec("INSERT INTO tabwise.supported_tokens").
		WithArgs("USDC").
		WillReturnResult(sqlmock.NewResult(1, 1))

	payload := model2.RegisterToken{Symbol: "usdc"}
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  toJSON(t, payload),
		Router:   router,
		Response: &map[string]interface{}{},
		Method:   http.MethodPost,
		Route:    "/admin/tokens",
		Header:   map[string]string{"X-Tabwise-Admin-Key": "test-admin-key"},
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, resp.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
