package bootstrap

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/tokligence/streamguard/internal/config"
)

// InitOptions configures the bootstrap process for generating config files.
type InitOptions struct {
	Root        string
	Environment string
	HTTPAddress string
	FilesRoot   string
	LedgerPath  string
	ChunkSize   int
	// Routes writes a sample routes.yaml and points routes_file at it.
	Routes bool
	Force  bool
}

// Init scaffolds configuration files for streamguardd.
func Init(opts InitOptions) error {
	applyDefaults(&opts)
	if err := Validate(opts); err != nil {
		return err
	}
	if err := ensureDir(filepath.Join(opts.Root, "config", opts.Environment)); err != nil {
		return err
	}

	settingPath := filepath.Join(opts.Root, "config", "setting.ini")
	if err := writeFile(settingPath, settingTemplate(opts), opts.Force); err != nil {
		return err
	}

	envPath := filepath.Join(opts.Root, "config", opts.Environment, "streamguard.ini")
	if err := writeFile(envPath, daemonTemplate(opts), opts.Force); err != nil {
		return err
	}

	if opts.Routes {
		routesPath := filepath.Join(opts.Root, "config", opts.Environment, "routes.yaml")
		if err := writeFile(routesPath, routesTemplate, opts.Force); err != nil {
			return err
		}
	}
	return nil
}

func applyDefaults(opts *InitOptions) {
	if strings.TrimSpace(opts.Root) == "" {
		opts.Root = "."
	}
	if strings.TrimSpace(opts.Environment) == "" {
		opts.Environment = "dev"
	}
	if strings.TrimSpace(opts.HTTPAddress) == "" {
		opts.HTTPAddress = ":8090"
	}
	if strings.TrimSpace(opts.LedgerPath) == "" {
		opts.LedgerPath = config.DefaultLedgerPath()
	}
	if opts.ChunkSize == 0 {
		opts.ChunkSize = 8192
	}
}

func ensureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

func writeFile(path, contents string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("file already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(contents), 0o644)
}

func settingTemplate(opts InitOptions) string {
	return fmt.Sprintf(`# streamguardd settings
environment=%s
log_level=info
`, opts.Environment)
}

func daemonTemplate(opts InitOptions) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Environment specific overrides for %s\n", opts.Environment)
	fmt.Fprintf(&b, "http_address=%s\n", opts.HTTPAddress)
	b.WriteString("# Dash '-' disables file output.\n")
	b.WriteString("log_file=logs/streamguardd.log\n")
	b.WriteString("ledger_driver=sqlite\n")
	fmt.Fprintf(&b, "ledger_dsn=%s\n", opts.LedgerPath)
	if opts.FilesRoot != "" {
		fmt.Fprintf(&b, "files_root=%s\n", opts.FilesRoot)
	}
	fmt.Fprintf(&b, "chunk_size=%d\n", opts.ChunkSize)
	if opts.Routes {
		fmt.Fprintf(&b, "routes_file=config/%s/routes.yaml\n", opts.Environment)
	}
	b.WriteString("shutdown_timeout=10s\n")
	b.WriteString("# stream_rate_limit=5\n")
	return b.String()
}

const routesTemplate = `# Upstreams reachable under /proxy/{name}/
routes:
  - name: example
    target: http://127.0.0.1:9000
    timeout: 30s
`

// Validate ensures required fields are present without modifying files.
func Validate(opts InitOptions) error {
	applyDefaults(&opts)
	if strings.ContainsAny(opts.Environment, `/\`) {
		return errors.New("environment must not contain path separators")
	}
	if _, _, err := net.SplitHostPort(opts.HTTPAddress); err != nil {
		return fmt.Errorf("invalid http address %q: %w", opts.HTTPAddress, err)
	}
	if opts.ChunkSize < 0 {
		return fmt.Errorf("invalid chunk size %d", opts.ChunkSize)
	}
	return nil
}
