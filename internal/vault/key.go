package vault

import (
	"context"
	"fmt"

	"github.com/kebairia/portalbackup/internal/config"
)

// ResolveEncryptionKey returns the archive encryption key. When Vault is
// configured the key is read from it; otherwise the configured static key
// is returned unchanged (possibly empty).
func ResolveEncryptionKey(ctx context.Context, cfg *config.Config) (string, error) {
	if !cfg.Vault.Enabled() {
		return cfg.Backup.EncryptionKey, nil
	}

	opts := []Option{WithAddress(cfg.Vault.Address)}
	if cfg.Vault.Token != "" {
		opts = append(opts, WithToken(cfg.Vault.Token))
	}
	if cfg.Vault.RoleID != "" && cfg.Vault.RoleName != "" {
		opts = append(opts, WithAppRole(cfg.Vault.RoleID, cfg.Vault.RoleName))
	}

	client, err := NewClient(ctx, opts...)
	if err != nil {
		return "", err
	}

	field := cfg.Vault.EncryptionKeyField
	if field == "" {
		field = "key"
	}
	key, err := client.ReadSecretField(ctx, cfg.Vault.EncryptionKeyPath, field)
	if err != nil {
		return "", fmt.Errorf("resolve encryption key from vault: %w", err)
	}
	return key, nil
}
