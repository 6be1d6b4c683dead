package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/huanfeng/adbkit/internal/config"
	adberrors "github.com/huanfeng/adbkit/internal/errors"
	"github.com/huanfeng/adbkit/internal/i18n"
	"github.com/huanfeng/adbkit/internal/metrics"
	"github.com/huanfeng/adbkit/internal/version"
	"github.com/huanfeng/adbkit/pkg/client"
	"github.com/huanfeng/adbkit/pkg/device"
	"github.com/huanfeng/adbkit/pkg/utils"
)

var (
	cfgFile        string
	adbHost        string
	adbPort        int
	serialFlag     string
	logLevel       string
	logFormat      string
	logFile        string
	langFlag       string
	errorReportDir string

	appConfig  *config.Config
	appLogger  utils.Logger
	appMetrics *metrics.Metrics
	startedAt  time.Time
)

var rootCmd = &cobra.Command{
	Use:   "adbkit",
	Short: "adbkit - talk to Android devices through the adb server",
	Long: `adbkit is a command-line client for the adb host protocol.
It lists and watches devices, runs shell commands, transfers files and
manages packages without shelling out to the adb binary.`,
	Version:       version.Short(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// persistentPreRun prepares i18n, config, logging and metrics for every
// subcommand. It is attached in init because it reaches back into rootCmd.
func persistentPreRun(cmd *cobra.Command, args []string) error {
	startedAt = time.Now()
	if err := i18n.Init(langFlag); err != nil {
		return err
	}
	applyCommandLocalization()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return adberrors.WrapError(err, adberrors.KindConfiguration, "CONFIG_LOAD", "failed to load config").
			WithSuggestion("Regenerate the file with 'adbkit config init --force'")
	}
	applyFlagOverrides(cmd, cfg)
	appConfig = cfg

	if err := initLogging(cfg); err != nil {
		return err
	}
	adberrors.InitGlobalErrorHandler(appLogger)
	appMetrics = metrics.New()
	return nil
}

func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.ADB.Host = adbHost
	}
	if flags.Changed("port") {
		cfg.ADB.Port = adbPort
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = logFormat
	}
	if flags.Changed("log-file") {
		cfg.Log.File = logFile
	}
}

func initLogging(cfg *config.Config) error {
	lc := utils.DefaultLoggerConfig()
	level, err := utils.ParseLogLevel(cfg.Log.Level)
	if err != nil {
		return adberrors.WrapError(err, adberrors.KindConfiguration, "LOG_LEVEL", "invalid log level")
	}
	format, err := utils.ParseLogFormat(cfg.Log.Format)
	if err != nil {
		return adberrors.WrapError(err, adberrors.KindConfiguration, "LOG_FORMAT", "invalid log format")
	}
	lc.Level = level
	lc.Format = format
	if cfg.Log.File != "" {
		lc.EnableFile = true
		lc.FilePath = cfg.Log.File
	}
	if err := utils.InitGlobalLogger(lc); err != nil {
		return adberrors.NewIOError(err, "open log file")
	}
	appLogger = utils.GetGlobalLogger()
	return nil
}

// newClient builds a client for the configured server
func newClient() *client.Client {
	return client.NewClient(
		client.WithAddress(appConfig.Address()),
		client.WithLogger(appLogger),
		client.WithMetrics(appMetrics),
		client.WithSyncChunkSize(appConfig.Sync.ChunkSize),
	)
}

// deviceOptions maps configuration onto device facade options
func deviceOptions() []device.Option {
	return []device.Option{
		device.WithLogger(appLogger),
		device.WithRefreshRate(appConfig.Listing.RefreshRate),
		device.WithBusyBoxListing(appConfig.Listing.BusyBox),
		device.WithFirstOutputTimeout(appConfig.Shell.FirstOutputTimeout),
	}
}

// openDevice resolves the target serial and opens it
func openDevice(ctx context.Context, c *client.Client) (*device.Device, error) {
	serial, err := resolveSerial(ctx, c)
	if err != nil {
		return nil, err
	}
	return device.Open(ctx, c, serial, deviceOptions()...)
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, err := rootCmd.ExecuteContextC(ctx)
	if err == nil {
		return
	}
	if stderrors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "Interrupted")
		os.Exit(130)
	}
	reportError(cmd, err)
	os.Exit(1)
}

func reportError(cmd *cobra.Command, err error) {
	adbErr := adberrors.HandleWithRecovery(err)
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	for _, s := range adbErr.Suggestions {
		fmt.Fprintf(os.Stderr, "  - %s\n", s)
	}
	if errorReportDir == "" || cmd == nil {
		return
	}

	address := ""
	if appConfig != nil {
		address = appConfig.Address()
	}
	reporter := adberrors.NewErrorReporter(errorReportDir, version.Short(), address, appLogger)
	opCtx := &adberrors.OperationContext{
		Command:   cmd.CommandPath(),
		Arguments: os.Args[1:],
		Flags:     changedFlags(cmd),
		Serial:    serialFlag,
		Duration:  time.Since(startedAt),
	}
	report := reporter.GenerateReport(adbErr, opCtx)
	reporter.DisplayReport(os.Stderr, report)
	if path, err := reporter.SaveReport(report); err == nil {
		fmt.Fprintln(os.Stderr, i18n.T("error.reportSaved", map[string]interface{}{"Path": path}))
	} else {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
}

func changedFlags(cmd *cobra.Command) map[string]string {
	flags := map[string]string{}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		flags[f.Name] = f.Value.String()
	})
	return flags
}

func commandError(format string, args ...interface{}) error {
	return adberrors.Errorf(adberrors.KindUsage, "USAGE", format, args...)
}

func init() {
	rootCmd.PersistentPreRunE = persistentPreRun
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default ./adbkit.yaml or ~/.config/adbkit/adbkit.yaml)")
	pf.StringVar(&adbHost, "host", "127.0.0.1", "adb server host")
	pf.IntVar(&adbPort, "port", 5037, "adb server port")
	pf.StringVarP(&serialFlag, "serial", "s", "", "Target device serial")
	pf.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	pf.StringVar(&logFormat, "log-format", "text", "Log format: text, json, compact")
	pf.StringVar(&logFile, "log-file", "", "Also write logs to this file")
	pf.StringVar(&langFlag, "lang", "", "Interface language (en, zh)")
	pf.StringVar(&errorReportDir, "error-report-dir", "", "Write a JSON error report here when a command fails")

	rootCmd.SetVersionTemplate(strings.TrimSpace(version.Info()) + "\n")
}
