package vault

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kebairia/portalbackup/internal/config"
)

// fakeVault serves a KV v1 secret, a KV v2 secret and the AppRole endpoints.
func fakeVault(t *testing.T) *httptest.Server {
	t.Helper()
	write := func(w http.ResponseWriter, body any) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(body))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/kv/portalbackup", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Vault-Token") != "root" {
			w.WriteHeader(http.StatusForbidden)
			write(w, map[string]any{"errors": []string{"permission denied"}})
			return
		}
		write(w, map[string]any{"data": map[string]any{"key": "v1-secret"}})
	})
	mux.HandleFunc("/v1/kv/absent", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"errors":[]}`))
	})
	mux.HandleFunc("/v1/secret/data/portalbackup", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Vault-Token") != "approle-token" {
			w.WriteHeader(http.StatusForbidden)
			write(w, map[string]any{"errors": []string{"permission denied"}})
			return
		}
		write(w, map[string]any{"data": map[string]any{
			"data":     map[string]any{"key": "v2-secret", "other": 7},
			"metadata": map[string]any{"version": 3},
		}})
	})
	mux.HandleFunc("/v1/auth/approle/role/backup/secret-id", func(w http.ResponseWriter, r *http.Request) {
		write(w, map[string]any{"data": map[string]any{"secret_id": "sid-1"}})
	})
	mux.HandleFunc("/v1/auth/approle/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["role_id"] != "role-1" || body["secret_id"] != "sid-1" {
			w.WriteHeader(http.StatusBadRequest)
			write(w, map[string]any{"errors": []string{"invalid credentials"}})
			return
		}
		write(w, map[string]any{"auth": map[string]any{"client_token": "approle-token"}})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestReadSecretField_KVv1(t *testing.T) {
	srv := fakeVault(t)
	c, err := NewClient(context.Background(), WithAddress(srv.URL), WithToken("root"))
	require.NoError(t, err)

	key, err := c.ReadSecretField(context.Background(), "kv/portalbackup", "key")
	require.NoError(t, err)
	assert.Equal(t, "v1-secret", key)

	_, err = c.ReadSecretField(context.Background(), "kv/portalbackup", "missing")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestReadSecretField_KVv2WithAppRole(t *testing.T) {
	srv := fakeVault(t)
	c, err := NewClient(context.Background(), WithAddress(srv.URL), WithAppRole("role-1", "backup"))
	require.NoError(t, err)

	key, err := c.ReadSecretField(context.Background(), "secret/data/portalbackup", "key")
	require.NoError(t, err)
	assert.Equal(t, "v2-secret", key)
}

func TestReadSecretField_MissingPath(t *testing.T) {
	srv := fakeVault(t)
	c, err := NewClient(context.Background(), WithAddress(srv.URL), WithToken("root"))
	require.NoError(t, err)

	_, err = c.ReadSecretField(context.Background(), "kv/absent", "key")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestResolveEncryptionKey(t *testing.T) {
	srv := fakeVault(t)

	cfg := &config.Config{}
	cfg.Backup.EncryptionKey = "static"
	key, err := ResolveEncryptionKey(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "static", key)

	cfg.Vault = config.VaultConfig{
		Address:           srv.URL,
		Token:             "root",
		EncryptionKeyPath: "kv/portalbackup",
	}
	key, err = ResolveEncryptionKey(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "v1-secret", key)
}

func TestOptionsApply(t *testing.T) {
	cfg := &clientConfig{}
	for _, opt := range []Option{
		WithAddress("http://vault:8200"),
		WithToken("root"),
		WithAppRole("role-id", "portalbackup"),
	} {
		opt(cfg)
	}

	assert.Equal(t, &clientConfig{
		address:  "http://vault:8200",
		token:    "root",
		roleID:   "role-id",
		roleName: "portalbackup",
	}, cfg)
}
