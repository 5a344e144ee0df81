package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaultsMissingFile(t *testing.T) {
	cfg, err := LoadWithDefaults(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("LoadWithDefaults: %v", err)
	}
	if cfg.Database.Driver != "memory" {
		t.Fatalf("driver = %q, want memory", cfg.Database.Driver)
	}
	if cfg.Proposal.RiskPercentage != 0.02 {
		t.Fatalf("risk = %v, want 0.02", cfg.Proposal.RiskPercentage)
	}
	if cfg.Proposal.PingAttempts != 5 || cfg.Proposal.PingDelay != time.Second {
		t.Fatalf("ping = %d/%v, want 5/1s", cfg.Proposal.PingAttempts, cfg.Proposal.PingDelay)
	}
	if cfg.Proposal.MaxLeverage != 125 {
		t.Fatalf("max leverage = %d", cfg.Proposal.MaxLeverage)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
service_name = "proposal-test"

[proposal]
price_policy = "BEST_LIMIT"
execution_timeout = "5s"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("APP_EXCHANGE_API_KEY", "key-from-env")
	t.Setenv("APP_PROPOSAL_DEFAULT_LEVERAGE", "3")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServiceName != "proposal-test" {
		t.Fatalf("service name = %q", cfg.ServiceName)
	}
	if cfg.Proposal.PricePolicy != "BEST_LIMIT" {
		t.Fatalf("price policy = %q", cfg.Proposal.PricePolicy)
	}
	if cfg.Proposal.ExecutionTimeout != 5*time.Second {
		t.Fatalf("execution timeout = %v", cfg.Proposal.ExecutionTimeout)
	}
	if cfg.Exchange.APIKey != "key-from-env" {
		t.Fatalf("api key = %q", cfg.Exchange.APIKey)
	}
	if cfg.Proposal.DefaultLeverage != 3 {
		t.Fatalf("default leverage = %d", cfg.Proposal.DefaultLeverage)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := LoadWithDefaults(filepath.Join(t.TempDir(), "absent.toml"))
		if err != nil {
			t.Fatalf("LoadWithDefaults: %v", err)
		}
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"mysql without dsn", func(c *Config) { c.Database.Driver = "mysql" }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "sqlite" }},
		{"kafka without brokers", func(c *Config) { c.Kafka.Enabled = true }},
		{"risk above one", func(c *Config) { c.Proposal.RiskPercentage = 1.5 }},
		{"default leverage above max", func(c *Config) { c.Proposal.DefaultLeverage = 200 }},
		{"unknown price policy", func(c *Config) { c.Proposal.PricePolicy = "BEST_MARKET" }},
		{"cascade of one", func(c *Config) { c.Proposal.TakeProfitCascade = 1 }},
		{"no ping attempts", func(c *Config) { c.Proposal.PingAttempts = 0 }},
		{"lease shorter than execution", func(c *Config) { c.Proposal.LockTTL = 30 * time.Second }},
		{"lease without cleanup margin", func(c *Config) { c.Proposal.LockTTL = c.Proposal.ExecutionTimeout }},
		{"write timeout below request budget", func(c *Config) { c.HTTP.WriteTimeout = 30 }},
		{"ping retries exceed write timeout", func(c *Config) { c.Proposal.PingAttempts = 20 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestDefaultTimeoutBudget(t *testing.T) {
	cfg, err := LoadWithDefaults(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("LoadWithDefaults: %v", err)
	}
	// 5 次 ping（每次最多 10s，间隔 1s）+ 快照 10s + 执行 30s + 回滚 15s
	if got := cfg.RequestBudget(); got != 109*time.Second {
		t.Fatalf("budget = %v, want 109s", got)
	}
	if write := time.Duration(cfg.HTTP.WriteTimeout) * time.Second; write < cfg.RequestBudget() {
		t.Fatalf("default write timeout %v below budget", write)
	}
	if cfg.Proposal.LockTTL < cfg.Proposal.ExecutionTimeout+cfg.Proposal.CleanupTimeout {
		t.Fatalf("default lease %v does not cover execution", cfg.Proposal.LockTTL)
	}
}
