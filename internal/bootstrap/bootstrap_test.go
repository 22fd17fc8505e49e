package bootstrap

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tokligence/streamguard/internal/config"
)

func TestInitCreatesConfigFiles(t *testing.T) {
	tmp := t.TempDir()
	opts := InitOptions{
		Root:        tmp,
		HTTPAddress: "127.0.0.1:9191",
		FilesRoot:   "/srv/files",
		LedgerPath:  filepath.Join(tmp, "ledger.db"),
	}
	if err := Init(opts); err != nil {
		t.Fatalf("Init: %v", err)
	}

	settingBytes, err := os.ReadFile(filepath.Join(tmp, "config", "setting.ini"))
	if err != nil {
		t.Fatalf("read setting: %v", err)
	}
	if !strings.Contains(string(settingBytes), "environment=dev") {
		t.Fatalf("missing environment: %s", settingBytes)
	}

	envBytes, err := os.ReadFile(filepath.Join(tmp, "config", "dev", "streamguard.ini"))
	if err != nil {
		t.Fatalf("read streamguard.ini: %v", err)
	}
	content := string(envBytes)
	if !strings.Contains(content, "http_address=127.0.0.1:9191") {
		t.Fatalf("missing http address: %s", content)
	}
	if strings.Contains(content, "routes_file") {
		t.Fatalf("routes_file written without routes: %s", content)
	}
}

func TestInitOutputLoads(t *testing.T) {
	tmp := t.TempDir()
	opts := InitOptions{
		Root:        tmp,
		Environment: "staging",
		FilesRoot:   "/srv/files",
		LedgerPath:  filepath.Join(tmp, "ledger.db"),
		ChunkSize:   4096,
		Routes:      true,
	}
	if err := Init(opts); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Setenv("STREAMGUARD_ENV", "")

	cfg, err := config.LoadDaemonConfig(tmp)
	if err != nil {
		t.Fatalf("LoadDaemonConfig: %v", err)
	}
	if cfg.Environment != "staging" {
		t.Fatalf("unexpected environment %s", cfg.Environment)
	}
	if cfg.FilesRoot != "/srv/files" || cfg.ChunkSize != 4096 {
		t.Fatalf("unexpected files config %s %d", cfg.FilesRoot, cfg.ChunkSize)
	}
	if cfg.LedgerDSN != opts.LedgerPath {
		t.Fatalf("unexpected ledger dsn %s", cfg.LedgerDSN)
	}
	if len(cfg.Routes) != 1 || cfg.Routes[0].Name != "example" {
		t.Fatalf("unexpected routes %#v", cfg.Routes)
	}
}

func TestInitRespectsForce(t *testing.T) {
	tmp := t.TempDir()
	opts := InitOptions{Root: tmp}
	if err := Init(opts); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := Init(opts); err == nil {
		t.Fatalf("expected error when files exist")
	}
	opts.Force = true
	if err := Init(opts); err != nil {
		t.Fatalf("Init with force: %v", err)
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(InitOptions{HTTPAddress: "8090"}); err == nil {
		t.Fatalf("expected invalid address error")
	}
	if err := Validate(InitOptions{Environment: "../prod"}); err == nil {
		t.Fatalf("expected invalid environment error")
	}
	if err := Validate(InitOptions{HTTPAddress: ":8090"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
