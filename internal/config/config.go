package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/streamguard.ini"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// DaemonConfig describes runtime options for streamguardd.
type DaemonConfig struct {
	Environment string
	HTTPAddress string
	LogLevel    string
	LogFile     string
	// Ledger backend: sqlite, pgx or postgres (lib/pq).
	LedgerDriver string
	LedgerDSN    string
	LedgerAsync  bool
	// Directory served by the files endpoint; empty disables it.
	FilesRoot  string
	ChunkSize  int
	RoutesFile string
	Routes     []Route
	// Endpoint keys to mount; empty means all.
	Endpoints       []string
	Flush           bool
	ShutdownTimeout time.Duration
	// Upstreams pinged by the health checker.
	HealthUpstreams []string
	// Per-client stream admission rate; 0 disables limiting.
	StreamRateLimit float64
	StreamBurst     float64
}

// Route maps /proxy/{name}/ to an upstream target.
type Route struct {
	Name        string            `yaml:"name"`
	Target      string            `yaml:"target"`
	StripPrefix string            `yaml:"strip_prefix"`
	Timeout     time.Duration     `yaml:"timeout"`
	Headers     map[string]string `yaml:"headers"`
}

type routeFile struct {
	Routes []Route `yaml:"routes"`
}

// LoadDaemonConfig reads the current environment and loads the matching streamguard.ini.
func LoadDaemonConfig(root string) (DaemonConfig, error) {
	if root == "" {
		root = "."
	}
	s, err := loadSettings(root)
	if err != nil {
		return DaemonConfig{}, err
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return DaemonConfig{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}

	cfg := DaemonConfig{
		Environment:     s.Environment,
		HTTPAddress:     firstNonEmpty(os.Getenv("STREAMGUARD_HTTP_ADDRESS"), merged["http_address"], ":8090"),
		LogLevel:        strings.ToLower(firstNonEmpty(os.Getenv("STREAMGUARD_LOG_LEVEL"), merged["log_level"], "info")),
		LogFile:         firstNonEmpty(os.Getenv("STREAMGUARD_LOG_FILE"), merged["log_file"]),
		LedgerDriver:    strings.ToLower(firstNonEmpty(os.Getenv("STREAMGUARD_LEDGER_DRIVER"), merged["ledger_driver"], "sqlite")),
		LedgerAsync:     parseOptionalBool(firstNonEmpty(os.Getenv("STREAMGUARD_LEDGER_ASYNC"), merged["ledger_async"]), true),
		FilesRoot:       firstNonEmpty(os.Getenv("STREAMGUARD_FILES_ROOT"), merged["files_root"]),
		ChunkSize:       parseOptionalInt(firstNonEmpty(os.Getenv("STREAMGUARD_CHUNK_SIZE"), merged["chunk_size"]), 8192),
		RoutesFile:      firstNonEmpty(os.Getenv("STREAMGUARD_ROUTES_FILE"), merged["routes_file"]),
		Endpoints:       parseCSV(firstNonEmpty(os.Getenv("STREAMGUARD_ENDPOINTS"), merged["endpoints"])),
		Flush:           parseOptionalBool(firstNonEmpty(os.Getenv("STREAMGUARD_FLUSH"), merged["flush"]), true),
		HealthUpstreams: parseCSV(firstNonEmpty(os.Getenv("STREAMGUARD_HEALTH_UPSTREAMS"), merged["health_upstreams"])),
	}
	cfg.LedgerDSN = firstNonEmpty(os.Getenv("STREAMGUARD_LEDGER_DSN"), merged["ledger_dsn"])
	if cfg.LedgerDSN == "" && cfg.LedgerDriver == "sqlite" {
		cfg.LedgerDSN = DefaultLedgerPath()
	}
	switch cfg.LedgerDriver {
	case "sqlite", "pgx", "postgres":
	default:
		return DaemonConfig{}, fmt.Errorf("unsupported ledger_driver %q", cfg.LedgerDriver)
	}
	if cfg.LedgerDSN == "" {
		return DaemonConfig{}, fmt.Errorf("ledger_dsn is required for driver %s", cfg.LedgerDriver)
	}
	if cfg.ChunkSize <= 0 {
		return DaemonConfig{}, fmt.Errorf("invalid chunk_size %d", cfg.ChunkSize)
	}

	if cfg.StreamRateLimit, err = parseOptionalFloat(firstNonEmpty(os.Getenv("STREAMGUARD_STREAM_RATE_LIMIT"), merged["stream_rate_limit"])); err != nil {
		return DaemonConfig{}, fmt.Errorf("invalid stream_rate_limit: %w", err)
	}
	if cfg.StreamBurst, err = parseOptionalFloat(firstNonEmpty(os.Getenv("STREAMGUARD_STREAM_BURST"), merged["stream_burst"])); err != nil {
		return DaemonConfig{}, fmt.Errorf("invalid stream_burst: %w", err)
	}

	cfg.ShutdownTimeout = 10 * time.Second
	if v := firstNonEmpty(os.Getenv("STREAMGUARD_SHUTDOWN_TIMEOUT"), merged["shutdown_timeout"]); v != "" {
		dur, err := time.ParseDuration(v)
		if err != nil {
			return DaemonConfig{}, fmt.Errorf("invalid shutdown_timeout %q: %w", v, err)
		}
		cfg.ShutdownTimeout = dur
	}

	if cfg.RoutesFile != "" {
		path := cfg.RoutesFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, path)
		}
		routes, err := LoadRoutes(path)
		if err != nil {
			return DaemonConfig{}, err
		}
		cfg.Routes = routes
	}
	return cfg, nil
}

// LoadRoutes parses a YAML route table:
//
//	routes:
//	  - name: events
//	    target: http://127.0.0.1:9000/stream
//	    timeout: 30s
func LoadRoutes(path string) ([]Route, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routes file: %w", err)
	}
	var rf routeFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse routes file %s: %w", path, err)
	}
	seen := make(map[string]bool, len(rf.Routes))
	for i, r := range rf.Routes {
		r.Name = strings.TrimSpace(r.Name)
		r.Target = strings.TrimSpace(r.Target)
		if r.Name == "" || r.Target == "" {
			return nil, fmt.Errorf("route %d: name and target are required", i)
		}
		if strings.Contains(r.Name, "/") {
			return nil, fmt.Errorf("route %q: name must not contain '/'", r.Name)
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("duplicate route %q", r.Name)
		}
		seen[r.Name] = true
		rf.Routes[i] = r
	}
	return rf.Routes, nil
}

// EndpointEnabled reports whether key is selected by the endpoints list.
func (c DaemonConfig) EndpointEnabled(key string) bool {
	if len(c.Endpoints) == 0 {
		return true
	}
	for _, e := range c.Endpoints {
		if strings.EqualFold(e, key) {
			return true
		}
	}
	return false
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: firstNonEmpty(os.Getenv("STREAMGUARD_ENV"), defaultEnv), Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := firstNonEmpty(os.Getenv("STREAMGUARD_ENV"), values["environment"], defaultEnv)
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		values[strings.ToLower(key)] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseOptionalBool(v string, fallback bool) bool {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return parseBool(v)
}

func parseOptionalInt(v string, fallback int) int {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return parsed
	}
	return fallback
}

func parseOptionalFloat(v string) (float64, error) {
	if strings.TrimSpace(v) == "" {
		return 0, nil
	}
	return strconv.ParseFloat(strings.TrimSpace(v), 64)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseCSV(input string) []string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	var out []string
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// DefaultLedgerPath returns the sqlite ledger location under the user's home.
func DefaultLedgerPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".streamguard", "ledger.db")
	}
	return filepath.Join(home, ".streamguard", "ledger.db")
}
