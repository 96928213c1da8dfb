package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Addr:        "0.0.0.0:8080",
		DatabaseURL: "postgres://localhost/giftbox",
		TaxRate:     "0",
		Admin: AdminConfig{
			Username:    "admin",
			Password:    "s3cret",
			TokenSecret: "signing-key",
		},
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "hash instead of password", mutate: func(c *Config) {
			c.Admin.Password = ""
			c.Admin.PasswordHash = "$2a$10$abcdefghijklmnopqrstuv"
		}},
		{name: "no database", mutate: func(c *Config) { c.DatabaseURL = "" }, wantErr: "database URL is required"},
		{name: "no token secret", mutate: func(c *Config) { c.Admin.TokenSecret = "" }, wantErr: "token secret is required"},
		{name: "no password", mutate: func(c *Config) { c.Admin.Password = "" }, wantErr: "admin password is required"},
		{name: "tax rate not a number", mutate: func(c *Config) { c.TaxRate = "eight" }, wantErr: "parse tax rate"},
		{name: "tax rate in percent", mutate: func(c *Config) { c.TaxRate = "8" }, wantErr: "must be in [0, 1)"},
		{name: "negative tax rate", mutate: func(c *Config) { c.TaxRate = "-0.1" }, wantErr: "must be in [0, 1)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigTaxRate(t *testing.T) {
	cfg := validConfig()
	cfg.TaxRate = "0.0825"
	rate, err := cfg.taxRate()
	require.NoError(t, err)
	assert.Equal(t, "0.0825", rate.String())
}

func TestApplyPlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("PORT", "3000")

	cfg := validConfig()
	cfg.DatabaseURL = ""
	cfg.applyPlatformDefaults()
	assert.Equal(t, "postgres://platform/db", cfg.DatabaseURL)
	assert.Equal(t, "0.0.0.0:3000", cfg.Addr)

	// Explicit settings win.
	cfg = validConfig()
	cfg.Addr = "127.0.0.1:9000"
	cfg.applyPlatformDefaults()
	assert.Equal(t, "postgres://localhost/giftbox", cfg.DatabaseURL)
	assert.Equal(t, "127.0.0.1:9000", cfg.Addr)
}
