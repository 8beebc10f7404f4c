package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "bloodbank.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"wallet":{"network_file":"network.yaml"}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected server address: %s", cfg.Server.Address)
	}
	if cfg.Storage.Records.Driver != "memory" {
		t.Fatalf("unexpected records driver: %s", cfg.Storage.Records.Driver)
	}
	if cfg.Events.Queue.Driver != "memory" || cfg.Events.Workers != 2 {
		t.Fatalf("unexpected events defaults: %+v", cfg.Events)
	}
	if cfg.Wallet.PollInterval() != time.Second {
		t.Fatalf("unexpected poll interval: %s", cfg.Wallet.PollInterval())
	}
	want := filepath.Join(filepath.Dir(path), "network.yaml")
	if cfg.Wallet.NetworkFile != want {
		t.Fatalf("expected network file %s, got %s", want, cfg.Wallet.NetworkFile)
	}
	if cfg.Runtime.DataDir != filepath.Join(filepath.Dir(path), "data") {
		t.Fatalf("unexpected data dir: %s", cfg.Runtime.DataDir)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults(t.TempDir())
	env := map[string]string{
		EnvContractAddress: " 0x5FbDB2315678afecb367f032d93F642f64180aa3 ",
		EnvMySQLDSN:        "user:pass@tcp(localhost:3306)/bloodbank",
		EnvRabbitMQURL:     "",
	}
	cfg.applyEnv(func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})

	if cfg.Wallet.ContractAddress != "0x5FbDB2315678afecb367f032d93F642f64180aa3" {
		t.Fatalf("contract address not overridden: %q", cfg.Wallet.ContractAddress)
	}
	if cfg.Storage.Records.DSN == "" {
		t.Fatalf("dsn not overridden")
	}
	if cfg.Events.Queue.RabbitMQURL != "" {
		t.Fatalf("empty env value must not override")
	}
	if cfg.Wallet.RPCURL != "http://localhost:8545" {
		t.Fatalf("rpc url changed without env: %s", cfg.Wallet.RPCURL)
	}
}

func TestLoadRejectsIncompleteDrivers(t *testing.T) {
	cases := map[string]string{
		"mysql without dsn":      `{"storage":{"records":{"driver":"mysql"}}}`,
		"unknown store":          `{"storage":{"records":{"driver":"sqlite"}}}`,
		"redis queue no address": `{"events":{"queue":{"driver":"redis"}}}`,
		"rabbitmq queue no url":  `{"events":{"queue":{"driver":"rabbitmq"}}}`,
		"unknown queue":          `{"events":{"queue":{"driver":"kafka"}}}`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			for _, key := range []string{EnvMySQLDSN, EnvRedisAddress, EnvRabbitMQURL} {
				t.Setenv(key, "")
			}
			if _, err := Load(writeConfig(t, content)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadEmptyPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
