package restapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/contentops/cmconnect/pkg/cmerrors"
	"github.com/contentops/cmconnect/pkg/config"
	"github.com/contentops/cmconnect/pkg/connector/core"
	"github.com/contentops/cmconnect/pkg/vault"
)

func testConn(t *testing.T, baseURL, secret string) *Connection {
	t.Helper()

	cfg := config.NewConnectionConfig("cm-cloud", config.TypeRestAPI)
	cfg.CredentialRef = "cm-cloud-api"
	cfg.RestAPI = &config.RestAPIConfig{BaseURL: baseURL}

	key := make([]byte, vault.KeySize)
	v, err := vault.New(key)
	require.NoError(t, err)

	record, err := v.Encrypt([]byte(secret))
	require.NoError(t, err)

	store := vault.NewStore()
	require.NoError(t, store.Put("cm-cloud-api", record))

	return New(cfg, v, store, zap.NewNop())
}

func TestOpenDerivesBearerAuth(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := testConn(t, server.URL, "api-token-xyz")
	require.NoError(t, c.Open(context.Background()))
	defer c.Close(context.Background())

	assert.Equal(t, "Bearer api-token-xyz", gotAuth)
}

func TestOpenDerivesBasicAuth(t *testing.T) {
	var user, pass string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ = r.BasicAuth()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := testConn(t, server.URL, "svc_cm:hunter2")
	require.NoError(t, c.Open(context.Background()))
	defer c.Close(context.Background())

	assert.Equal(t, "svc_cm", user)
	assert.Equal(t, "hunter2", pass)
}

func TestOpenRejectedCredential(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c := testConn(t, server.URL, "bad-token")
	err := c.Open(context.Background())
	require.Error(t, err)
	assert.True(t, cmerrors.IsType(err, cmerrors.ErrorTypeAuthentication))
	assert.Contains(t, err.Error(), "cm-cloud-api")
	assert.NotContains(t, err.Error(), "bad-token")
}

func TestOpenTwiceFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := testConn(t, server.URL, "tok")
	require.NoError(t, c.Open(context.Background()))
	defer c.Close(context.Background())

	assert.Error(t, c.Open(context.Background()))
}

func TestCallDecodesListEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ServiceAPI/User" {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"Results": []map[string]interface{}{
					{"uri": 1, "loginName": "admin"},
					{"uri": 2, "loginName": "jsmith"},
				},
			})
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := testConn(t, server.URL, "tok")
	require.NoError(t, c.Open(context.Background()))
	defer c.Close(context.Background())

	result, err := c.Call(context.Background(), &core.RestRequest{Method: "GET", Path: "/ServiceAPI/User"})
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, "admin", result.Rows[0]["loginName"])
	assert.Contains(t, result.Columns, "loginName")
}

func TestCallStatusMapping(t *testing.T) {
	status := http.StatusInternalServerError
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ServiceAPI" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(status)
	}))
	defer server.Close()

	c := testConn(t, server.URL, "tok")
	require.NoError(t, c.Open(context.Background()))
	defer c.Close(context.Background())

	_, err := c.Call(context.Background(), &core.RestRequest{Method: "GET", Path: "/ServiceAPI/Record"})
	require.Error(t, err)
	assert.True(t, cmerrors.IsType(err, cmerrors.ErrorTypeConnection))

	status = http.StatusForbidden
	_, err = c.Call(context.Background(), &core.RestRequest{Method: "GET", Path: "/ServiceAPI/Record"})
	require.Error(t, err)
	assert.True(t, cmerrors.IsType(err, cmerrors.ErrorTypeAuthentication))
}

func TestQueryUnsupported(t *testing.T) {
	c := testConn(t, "https://cm.example.org", "tok")
	_, err := c.Query(context.Background(), &core.Statement{SQL: "SELECT 1"})
	require.Error(t, err)
	assert.True(t, cmerrors.IsType(err, cmerrors.ErrorTypeValidation))
}

func TestDecodeRowsShapes(t *testing.T) {
	rows, err := decodeRows([]byte(`[{"uri": 1}, {"uri": 2}]`))
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = decodeRows([]byte(`{"Results": [{"uri": 1}]}`))
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	rows, err = decodeRows([]byte(`{"Version": "23.4"}`))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "23.4", rows[0]["Version"])

	rows, err = decodeRows([]byte("  "))
	require.NoError(t, err)
	assert.Nil(t, rows)

	_, err = decodeRows([]byte("not json"))
	require.Error(t, err)
}
