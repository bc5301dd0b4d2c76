// Package config loads p12sign settings from YAML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const envPrefix = "P12SIGN_"

var reEnvName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type Config struct {
	// Bundle is the path of the PKCS#12 file to sign with.
	Bundle string `yaml:"bundle"`
	// PasswordEnv names the variable holding the bundle password.
	PasswordEnv string        `yaml:"password_env" validate:"required,env_name"`
	Logging     LoggingConfig `yaml:"logging"`
	Audit       AuditConfig   `yaml:"audit"`
	Vault       VaultConfig   `yaml:"vault"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

type AuditConfig struct {
	// Dir enables the audit log when set.
	Dir string `yaml:"dir"`
}

type VaultConfig struct {
	Dir         string `yaml:"dir"`
	PasswordEnv string `yaml:"password_env" validate:"required_with=Dir,omitempty,env_name"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("env_name", func(fl validator.FieldLevel) bool {
		return reEnvName.MatchString(fl.Field().String())
	})
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		PasswordEnv: envPrefix + "PASSWORD",
		Logging:     LoggingConfig{Level: "info", Format: "text"},
		Vault: VaultConfig{
			Dir:         filepath.Join(defaultDataDir(), "vault"),
			PasswordEnv: envPrefix + "VAULT_PASSWORD",
		},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "p12sign")
	}
	return ".p12sign"
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides settings from P12SIGN_* variables.
func (c *Config) ApplyEnv() {
	set := func(name string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	set("BUNDLE", &c.Bundle)
	set("PASSWORD_ENV", &c.PasswordEnv)
	set("LOG_LEVEL", &c.Logging.Level)
	set("LOG_FORMAT", &c.Logging.Format)
	set("AUDIT_DIR", &c.Audit.Dir)
	set("VAULT_DIR", &c.Vault.Dir)
	set("VAULT_PASSWORD_ENV", &c.Vault.PasswordEnv)
}

// Validate lowercases the logging settings and checks every field.
func (c *Config) Validate() error {
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))

	err := validate.Struct(c)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fe := verrs[0]
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required", "required_with":
		return fmt.Errorf("%s must be set", field)
	case "oneof":
		return fmt.Errorf("invalid %s %q: must be one of %s", field, fe.Value(), fe.Param())
	case "env_name":
		return fmt.Errorf("invalid %s %q: not an environment variable name", field, fe.Value())
	default:
		return fmt.Errorf("invalid %s: %s", field, fe.Tag())
	}
}

// Password reads the bundle password from the configured variable.
func (c *Config) Password() (string, error) {
	return lookupSecret(c.PasswordEnv)
}

// VaultPassword reads the vault password from the configured variable.
func (c *Config) VaultPassword() (string, error) {
	return lookupSecret(c.Vault.PasswordEnv)
}

func lookupSecret(name string) (string, error) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return "", fmt.Errorf("environment variable %s is not set", name)
	}
	return v, nil
}
