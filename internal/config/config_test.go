package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func resetViper() {
	viper.Reset()
}

func writeConfigFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	resetViper()
	dir := t.TempDir()
	writeConfigFile(t, dir, "default.yaml", "peer_key: \"node-a\"\nis_gateway: true\n")

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer os.Chdir(cwd)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PeerKey != "node-a" {
		t.Fatalf("expected peer_key node-a, got %q", cfg.PeerKey)
	}
	if !cfg.IsGateway {
		t.Fatalf("expected is_gateway true")
	}
	if cfg.MaxConnections != 20 {
		t.Fatalf("expected default max_connections 20, got %d", cfg.MaxConnections)
	}
	if cfg.MaxHopsToLive != 10 {
		t.Fatalf("expected default max_hops_to_live 10, got %d", cfg.MaxHopsToLive)
	}
	if cfg.RndIfHTLAbove != 7 {
		t.Fatalf("expected default rnd_if_htl_above 7, got %d", cfg.RndIfHTLAbove)
	}
	if cfg.RouterCacheSize != 4096 {
		t.Fatalf("expected default router_cache_size 4096, got %d", cfg.RouterCacheSize)
	}
	if cfg.DiscoveryTag != "ringnet-mdns" {
		t.Fatalf("expected default discovery tag, got %q", cfg.DiscoveryTag)
	}
}

func TestLoadMergesEnvironmentOverlay(t *testing.T) {
	resetViper()
	dir := t.TempDir()
	writeConfigFile(t, dir, "default.yaml", "peer_key: \"node-a\"\nmax_connections: 20\n")
	writeConfigFile(t, dir, "staging.yaml", "max_connections: 5\n")

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer os.Chdir(cwd)

	cfg, err := Load("staging")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxConnections != 5 {
		t.Fatalf("expected overlay to override max_connections to 5, got %d", cfg.MaxConnections)
	}
}

func TestLoadEnvironmentVariableOverride(t *testing.T) {
	resetViper()
	dir := t.TempDir()
	writeConfigFile(t, dir, "default.yaml", "peer_key: \"node-a\"\n")

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer os.Chdir(cwd)

	os.Setenv("RINGNET_PEER_KEY", "node-from-env")
	defer os.Unsetenv("RINGNET_PEER_KEY")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PeerKey != "node-from-env" {
		t.Fatalf("expected env override, got %q", cfg.PeerKey)
	}
}
