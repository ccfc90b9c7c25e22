package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nerrad567/devportal-core/internal/audit"
	"github.com/nerrad567/devportal-core/internal/device"
	"github.com/nerrad567/devportal-core/internal/infrastructure/config"
	"github.com/nerrad567/devportal-core/internal/infrastructure/database"
	"github.com/nerrad567/devportal-core/internal/infrastructure/logging"
)

// defaultConfigPath is used when neither --config nor DEVPORTAL_CONFIG is set.
// A missing default file is not an error: built-in defaults apply.
const defaultConfigPath = "configs/config.yaml"

// BuildInfo is stamped into the binary at build time.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// app holds global flags and lazily opened state shared by all commands.
type app struct {
	build BuildInfo
	in    io.Reader

	// Global flags
	cfgFile         string
	outputFormat    string
	address         string
	username        string
	password        string
	certFile        string
	deviceRef       string
	acceptUntrusted bool
	verbose         bool
	yes             bool

	// Set during PersistentPreRun
	cfg       *config.Config
	log       *logging.Logger
	formatter Formatter

	// Opened on first use by store()
	db       *database.DB
	registry *device.Registry
	auditDB  *audit.SQLiteRepository
	recorder *audit.Recorder
}

func newApp(build BuildInfo) *app {
	return &app{build: build, in: os.Stdin}
}

// Execute runs portalctl with os.Args.
func Execute(ctx context.Context, build BuildInfo) error {
	a := newApp(build)
	defer a.close()
	return a.rootCommand().ExecuteContext(ctx)
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "portalctl",
		Short: "Device Portal client: connect, inspect and control Windows devices",
		Long: `portalctl talks to the Device Portal REST and WebSocket API of Windows
devices (desktop, IoT, HoloLens, Xbox). It can run one-off commands against a
device or serve a local API that keeps registered devices connected and
publishes their status to MQTT, NATS and InfluxDB.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default $DEVPORTAL_CONFIG or "+defaultConfigPath+")")
	flags.StringVarP(&a.outputFormat, "output", "o", FormatTable, "output format: table, json, yaml")
	flags.StringVarP(&a.address, "address", "a", "", "device address, e.g. https://10.0.0.5 (overrides portal.address)")
	flags.StringVarP(&a.username, "user", "u", "", "device username (overrides portal.username)")
	flags.StringVarP(&a.password, "password", "p", "", "device password (overrides portal.password)")
	flags.StringVar(&a.certFile, "cert", "", "PEM or DER device certificate to trust instead of downloading one")
	flags.StringVarP(&a.deviceRef, "device", "d", "", "registered device id or name")
	flags.BoolVar(&a.acceptUntrusted, "accept-untrusted", false, "accept device certificates that fail validation")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "log request diagnostics to stderr")
	flags.BoolVar(&a.yes, "yes", false, "skip confirmation prompts for destructive operations")

	root.AddCommand(
		a.connectCommand(),
		a.infoCommand(),
		a.ipconfigCommand(),
		a.sysperfCommand(),
		a.restartCommand(),
		a.shutdownCommand(),
		a.renameCommand(),
		a.xboxCommand(),
		a.devicesCommand(),
		a.auditCommand(),
		a.serveCommand(),
		a.hashPasswordCommand(),
		a.versionCommand(),
	)
	return root
}

// setup loads configuration, the logger and the output formatter.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	a.outputFormat = strings.ToLower(a.outputFormat)
	if !validFormat(a.outputFormat) {
		return fmt.Errorf("unknown output format %q (want table, json or yaml)", a.outputFormat)
	}
	a.formatter = NewFormatter(a.outputFormat)

	cfg, err := loadConfig(a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logCfg := config.LoggingConfig{Level: "warn", Format: "text"}
	if a.verbose {
		logCfg.Level = "debug"
	}
	a.log = logging.NewWithWriter(logCfg, a.build.Version, cmd.ErrOrStderr())
	return nil
}

// loadConfig reads path, DEVPORTAL_CONFIG or the default path. Only an
// explicitly named file must exist.
func loadConfig(path string) (*config.Config, error) {
	explicit := path != ""
	if !explicit {
		if env := os.Getenv("DEVPORTAL_CONFIG"); env != "" {
			path, explicit = env, true
		} else {
			path = defaultConfigPath
		}
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && !explicit {
		return config.Default(), nil
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// store opens the database, device registry and audit recorder on first use.
func (a *app) store(ctx context.Context) (*device.Registry, error) {
	if a.registry != nil {
		return a.registry, nil
	}

	db, err := database.Open(database.Config{
		Path:        a.cfg.Database.Path,
		WALMode:     a.cfg.Database.WALMode,
		BusyTimeout: a.cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	registry.SetLogger(a.log)
	if err := registry.RefreshCache(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("loading device registry: %w", err)
	}

	a.db = db
	a.registry = registry
	a.auditDB = audit.NewSQLiteRepository(db.DB)
	a.recorder = audit.NewRecorder(a.auditDB, audit.SourceCLI, a.log)
	return registry, nil
}

func (a *app) close() {
	if a.db == nil {
		return
	}
	if err := a.db.Close(); err != nil && a.log != nil {
		a.log.Error("error closing database", "error", err)
	}
	a.db = nil
}

func (a *app) print(cmd *cobra.Command, data any) {
	fmt.Fprint(cmd.OutOrStdout(), a.formatter.Format(data))
}

// confirm asks a yes/no question unless --yes was given.
func (a *app) confirm(cmd *cobra.Command, prompt string) bool {
	if a.yes {
		return true
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N]: ", prompt)
	scanner := bufio.NewScanner(a.in)
	scanner.Scan()
	if strings.ToLower(strings.TrimSpace(scanner.Text())) != "y" {
		fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
		return false
	}
	return true
}

// operatorName identifies the local user in audit entries.
func operatorName() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return audit.SourceCLI
}
