package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// ErrLoadConfig indicates a failure to read or parse the YAML configuration.
var ErrLoadConfig = errors.New("config load failed")

// ErrValidateConfig indicates that the loaded configuration is invalid.
var ErrValidateConfig = errors.New("configuration validation failed")

// EnvPrefix is prepended to every configuration key looked up in the environment.
const EnvPrefix = "PORTALBACKUP"

// Config represents the top-level YAML configuration file.
type Config struct {
	Include  []string       `mapstructure:"include"  yaml:"include,omitempty"`
	Backup   BackupConfig   `mapstructure:"backup"   yaml:"backup"`
	Files    FilesConfig    `mapstructure:"files"    yaml:"files"`
	Logs     LogsConfig     `mapstructure:"logs"     yaml:"logs"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Cloud    CloudConfig    `mapstructure:"cloud"    yaml:"cloud"`
	Vault    VaultConfig    `mapstructure:"vault"    yaml:"vault"`
	Metrics  MetricsConfig  `mapstructure:"metrics"  yaml:"metrics"`
	Log      LogConfig      `mapstructure:"log"      yaml:"log"`
}

// BackupConfig contains global backup options.
type BackupConfig struct {
	Path          string        `mapstructure:"path"           yaml:"path"           validate:"required"`
	EncryptionKey string        `mapstructure:"encryption_key" yaml:"encryption_key,omitempty"`
	Encrypt       bool          `mapstructure:"encrypt"        yaml:"encrypt"`
	Schedule      string        `mapstructure:"schedule"       yaml:"schedule,omitempty" validate:"omitempty,schedule"`
	RetentionDays int           `mapstructure:"retention_days" yaml:"retention_days" validate:"gte=0"`
	IncludeFiles  bool          `mapstructure:"include_files"  yaml:"include_files"`
	IncludeLogs   bool          `mapstructure:"include_logs"   yaml:"include_logs"`
	Timeout       time.Duration `mapstructure:"timeout"        yaml:"timeout"        validate:"gte=0"`
}

// FilesConfig lists the directory trees captured under files/ when include_files is set.
type FilesConfig struct {
	Paths []string `mapstructure:"paths" yaml:"paths,omitempty" validate:"dive,required"`
}

// LogsConfig points at the log files captured under logs/ when include_logs is set.
type LogsConfig struct {
	Directory string        `mapstructure:"directory" yaml:"directory,omitempty"`
	MaxAge    time.Duration `mapstructure:"max_age"   yaml:"max_age"   validate:"gte=0"`
}

// DatabaseConfig selects the gorm dialect and connection string.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver" validate:"oneof=sqlite postgres mysql"`
	DSN    string `mapstructure:"dsn"    yaml:"dsn"    validate:"required"`
	Debug  bool   `mapstructure:"debug"  yaml:"debug"`
}

// CloudConfig holds object storage credentials. All four of access key,
// secret, region and bucket must be present for remote storage to be used.
type CloudConfig struct {
	AccessKeyID     string `mapstructure:"access_key_id"     yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`
	Region          string `mapstructure:"region"            yaml:"region,omitempty"`
	Bucket          string `mapstructure:"bucket"            yaml:"bucket,omitempty"`
	Prefix          string `mapstructure:"prefix"            yaml:"prefix,omitempty"`
	Endpoint        string `mapstructure:"endpoint"          yaml:"endpoint,omitempty" validate:"omitempty,url"`
}

// Enabled reports whether remote storage is configured.
func (c CloudConfig) Enabled() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != "" && c.Region != "" && c.Bucket != ""
}

// VaultConfig holds connection settings for HashiCorp Vault.
type VaultConfig struct {
	Address            string `mapstructure:"address"              yaml:"address,omitempty" validate:"omitempty,url"`
	Token              string `mapstructure:"token"                yaml:"token,omitempty"`
	RoleID             string `mapstructure:"role_id"              yaml:"role_id,omitempty"`
	RoleName           string `mapstructure:"role_name"            yaml:"role_name,omitempty"`
	EncryptionKeyPath  string `mapstructure:"encryption_key_path"  yaml:"encryption_key_path,omitempty"`
	EncryptionKeyField string `mapstructure:"encryption_key_field" yaml:"encryption_key_field,omitempty"`
}

// Enabled reports whether the encryption key should be read from Vault.
func (c VaultConfig) Enabled() bool {
	return c.Address != "" && c.EncryptionKeyPath != ""
}

// MetricsConfig controls the Prometheus endpoint served by the scheduler.
type MetricsConfig struct {
	Address string `mapstructure:"address" yaml:"address,omitempty"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level       string `mapstructure:"level"       yaml:"level"       validate:"omitempty,oneof=debug info warn error"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// legacyEnv maps config keys to the environment variables the portal
// deployment already exports.
var legacyEnv = map[string]string{
	"backup.path":             "BACKUP_PATH",
	"backup.encryption_key":   "BACKUP_ENCRYPTION_KEY",
	"backup.schedule":         "BACKUP_SCHEDULE",
	"backup.retention_days":   "BACKUP_RETENTION_DAYS",
	"cloud.access_key_id":     "AWS_ACCESS_KEY_ID",
	"cloud.secret_access_key": "AWS_SECRET_ACCESS_KEY",
	"cloud.region":            "AWS_REGION",
	"cloud.bucket":            "AWS_S3_BUCKET",
	"database.dsn":            "DATABASE_URL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("include", []string{})
	v.SetDefault("backup.path", "./backups")
	v.SetDefault("backup.encryption_key", "")
	v.SetDefault("backup.encrypt", false)
	v.SetDefault("backup.schedule", "")
	v.SetDefault("backup.retention_days", 0)
	v.SetDefault("backup.include_files", false)
	v.SetDefault("backup.include_logs", false)
	v.SetDefault("backup.timeout", time.Hour)
	v.SetDefault("files.paths", []string{})
	v.SetDefault("logs.directory", "")
	v.SetDefault("logs.max_age", 7*24*time.Hour)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "portal.db")
	v.SetDefault("database.debug", false)
	v.SetDefault("cloud.access_key_id", "")
	v.SetDefault("cloud.secret_access_key", "")
	v.SetDefault("cloud.region", "")
	v.SetDefault("cloud.bucket", "")
	v.SetDefault("cloud.prefix", "backups")
	v.SetDefault("cloud.endpoint", "")
	v.SetDefault("vault.address", "")
	v.SetDefault("vault.token", "")
	v.SetDefault("vault.role_id", "")
	v.SetDefault("vault.role_name", "")
	v.SetDefault("vault.encryption_key_path", "")
	v.SetDefault("vault.encryption_key_field", "key")
	v.SetDefault("metrics.address", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load reads the configuration from the given YAML file using Viper,
// merges any included files, applies environment overrides and validates
// the result. A missing file is not an error: defaults and environment
// variables are enough to run locally.
func (c *Config) Load(path string) error {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return fmt.Errorf("%w: bind env %s: %v", ErrLoadConfig, key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("%w: read base config %s: %v", ErrLoadConfig, path, err)
			}
		}
	}

	// Merge include files (if any)
	for _, inc := range v.GetStringSlice("include") {
		data, err := os.ReadFile(inc)
		if err != nil {
			return fmt.Errorf("%w: read include %s: %v", ErrLoadConfig, inc, err)
		}
		if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
			return fmt.Errorf("%w: merge include %s: %v", ErrLoadConfig, inc, err)
		}
	}

	if err := v.UnmarshalExact(c); err != nil {
		return fmt.Errorf("%w: unmarshal config: %v", ErrLoadConfig, err)
	}

	return c.Validate()
}

// Validate checks field constraints on an already populated Config.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.RegisterValidation("schedule", validateSchedule); err != nil {
		return fmt.Errorf("%w: register schedule rule: %v", ErrValidateConfig, err)
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrValidateConfig, err)
	}
	return nil
}

// Named schedules and their cron expressions. Daily and weekly runs are
// pinned to 02:00 local time.
var namedSchedules = map[string]string{
	"hourly": "0 * * * *",
	"daily":  "0 2 * * *",
	"weekly": "0 2 * * 0",
}

// CronSpec resolves a schedule value to a five-field cron expression.
// Empty input yields an empty spec.
func CronSpec(schedule string) (string, error) {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		return "", nil
	}
	if spec, ok := namedSchedules[strings.ToLower(schedule)]; ok {
		return spec, nil
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return "", fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return schedule, nil
}

func validateSchedule(fl validator.FieldLevel) bool {
	_, err := CronSpec(fl.Field().String())
	return err == nil
}
