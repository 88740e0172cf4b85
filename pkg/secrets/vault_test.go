package secrets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierr "github.com/shelfwise/books-api/pkg/errors"
)

func vaultTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch_ReadsKVv2Envelope(t *testing.T) {
	srv := vaultTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/secret/data/books-api/db", r.URL.Path)
		assert.Equal(t, "test-token", r.Header.Get("X-Vault-Token"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"data": map[string]string{
					"username": "books",
					"password": "s3cret",
				},
			},
		})
	})

	client, err := NewClient(Config{Addr: srv.URL, Token: "test-token"}, nil)
	require.NoError(t, err)

	kv, err := client.Fetch(context.Background(), "books-api/db")
	require.NoError(t, err)
	assert.Equal(t, "books", kv["username"])
	assert.Equal(t, "s3cret", kv["password"])
}

func TestFetch_PathNormalization(t *testing.T) {
	srv := vaultTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/kv/data/app/creds", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{})
	})

	client, err := NewClient(Config{Addr: srv.URL + "/", Token: "t", Mount: "kv"}, nil)
	require.NoError(t, err)

	kv, err := client.Fetch(context.Background(), "/app/creds")
	require.NoError(t, err)
	assert.Empty(t, kv)
}

func TestFetch_MissingSecretIsNotFound(t *testing.T) {
	srv := vaultTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	client, err := NewClient(Config{Addr: srv.URL, Token: "t"}, nil)
	require.NoError(t, err)

	_, err = client.Fetch(context.Background(), "nope")
	require.Error(t, err)
	assert.Equal(t, apierr.CodeNotFound, apierr.GetCode(err))
}

func TestFetch_ServerErrorIsUnavailable(t *testing.T) {
	srv := vaultTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	client, err := NewClient(Config{Addr: srv.URL, Token: "t"}, nil)
	require.NoError(t, err)

	_, err = client.Fetch(context.Background(), "db")
	require.Error(t, err)
	assert.Equal(t, apierr.CodeUnavailable, apierr.GetCode(err))
}

func TestFetch_UnreachableVault(t *testing.T) {
	client, err := NewClient(Config{Addr: "http://127.0.0.1:1", Token: "t"}, nil)
	require.NoError(t, err)

	_, err = client.Fetch(context.Background(), "db")
	require.Error(t, err)
	assert.Equal(t, apierr.CodeUnavailable, apierr.GetCode(err))
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{Token: "t"}, nil)
	assert.Error(t, err)

	_, err = NewClient(Config{Addr: "http://vault"}, nil)
	assert.Error(t, err)
}
