package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	vault "github.com/hashicorp/vault/api"
	"github.com/mitchellh/mapstructure"
)

const (
	approleSecretIDPath = "auth/approle/role/%s/secret-id"
	approleLoginPath    = "auth/approle/login"
)

// ErrClientInit indicates failure to initialize the Vault API client.
var ErrClientInit = errors.New("vault client initialization failed")

// ErrSecretNotFound is returned when the path or field holds no value.
var ErrSecretNotFound = errors.New("vault secret not found")

type Option func(*clientConfig)

type clientConfig struct {
	address  string
	token    string
	roleID   string
	roleName string
}

type Client struct {
	api    *vault.Client
	config *clientConfig
}

// kvSecret covers both KV layouts: v1 keeps fields at the top level of
// Data, v2 nests them under "data" next to "metadata".
type kvSecret struct {
	Data     map[string]any `mapstructure:"data"`
	Metadata map[string]any `mapstructure:"metadata"`
}

func WithAddress(address string) Option {
	return func(c *clientConfig) {
		c.address = address
	}
}

func WithToken(token string) Option {
	return func(c *clientConfig) {
		c.token = token
	}
}

func WithAppRole(roleID, roleName string) Option {
	return func(c *clientConfig) {
		c.roleID = roleID
		c.roleName = roleName
	}
}

// NewClient creates and initializes a Vault Client using provided options.
// It will perform AppRole login if roleID and roleName are both set, otherwise
// a static token (from env or WithToken) is used.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := &clientConfig{
		address: os.Getenv("VAULT_ADDR"),
		token:   os.Getenv("VAULT_TOKEN"),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	apiCfg := vault.DefaultConfig()
	if cfg.address != "" {
		apiCfg.Address = cfg.address
	}
	apiCfg.MaxRetries = 2

	api, err := vault.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClientInit, err)
	}

	client := &Client{api: api, config: cfg}

	if cfg.token != "" {
		client.api.SetToken(cfg.token)
	}

	if cfg.roleID != "" && cfg.roleName != "" {
		if err := client.loginAppRole(ctx); err != nil {
			return nil, fmt.Errorf("AppRole login failed: %w", err)
		}
	}

	return client, nil
}

// loginAppRole performs AppRole login using the configured roleID and roleName.
func (c *Client) loginAppRole(ctx context.Context) error {
	// Generate Secret ID
	path := fmt.Sprintf(approleSecretIDPath, c.config.roleName)
	resp, err := c.api.Logical().WriteWithContext(ctx, path, nil)
	if err != nil {
		return fmt.Errorf("generate secret_id: %w", err)
	}
	if resp == nil {
		return fmt.Errorf("empty response from %s", path)
	}
	sid, ok := resp.Data["secret_id"].(string)
	if !ok || sid == "" {
		return fmt.Errorf("no secret_id returned from %s", path)
	}

	loginData := map[string]any{
		"role_id":   c.config.roleID,
		"secret_id": sid,
	}
	loginResp, err := c.api.Logical().WriteWithContext(ctx, approleLoginPath, loginData)
	if err != nil {
		return fmt.Errorf("approle login request: %w", err)
	}
	if loginResp == nil || loginResp.Auth == nil || loginResp.Auth.ClientToken == "" {
		return fmt.Errorf("no token in login response")
	}
	c.api.SetToken(loginResp.Auth.ClientToken)
	return nil
}

// ReadSecretField returns one string field of the secret at path. Both KV
// v1 and KV v2 responses are accepted; for v2, path must include the
// "data/" segment (e.g. "secret/data/portalbackup").
func (c *Client) ReadSecretField(ctx context.Context, path, field string) (string, error) {
	secret, err := c.api.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("%w: no data found at path: %s", ErrSecretNotFound, path)
	}

	fields := secret.Data
	var kv kvSecret
	if err := mapstructure.Decode(secret.Data, &kv); err == nil && kv.Data != nil && kv.Metadata != nil {
		fields = kv.Data
	}

	raw, ok := fields[field]
	if !ok {
		return "", fmt.Errorf("%w: field %q missing at path: %s", ErrSecretNotFound, field, path)
	}
	var value string
	if err := mapstructure.Decode(raw, &value); err != nil {
		return "", fmt.Errorf("invalid data format for field %q at path %s: %w", field, path, err)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("%w: field %q is empty at path: %s", ErrSecretNotFound, field, path)
	}
	return value, nil
}
