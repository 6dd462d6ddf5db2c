package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pfrederiksen/web-monitor/internal/browser"
	"github.com/pfrederiksen/web-monitor/internal/config"
	"github.com/pfrederiksen/web-monitor/internal/logger"
	"github.com/pfrederiksen/web-monitor/internal/metrics"
	"github.com/pfrederiksen/web-monitor/internal/monitor"
	"github.com/pfrederiksen/web-monitor/internal/notify"
	"github.com/pfrederiksen/web-monitor/internal/notify/discord"
	"github.com/pfrederiksen/web-monitor/internal/notify/telegram"
	"github.com/pfrederiksen/web-monitor/internal/secret"
	"github.com/pfrederiksen/web-monitor/internal/storage"
)

const (
	ExitSuccess  = 0
	ExitError    = 1
	ExitNotFound = 2
)

// version is set at build time via -ldflags "-X ...cli.version=v1.2.3".
var version = "dev"

// exitError carries a specific exit code out of a command.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// app holds the per-invocation state shared by all subcommands.
type app struct {
	flags  flagValues
	stdout io.Writer
	stderr io.Writer
	getenv config.Getenv
}

// Execute runs the CLI with the process arguments and exits.
func Execute() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, os.Getenv))
}

func run(args []string, stdout, stderr io.Writer, getenv config.Getenv) int {
	cmd := newRootCmd(stdout, stderr, getenv)
	cmd.SetArgs(args)

	err := cmd.Execute()
	if err == nil {
		return ExitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return ExitError
}

// NewRootCmd creates the root command writing to the process streams.
func NewRootCmd() *cobra.Command {
	return newRootCmd(os.Stdout, os.Stderr, os.Getenv)
}

func newRootCmd(stdout, stderr io.Writer, getenv config.Getenv) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr, getenv: getenv}

	cmd := &cobra.Command{
		Use:   "web-monitor [URL TOKEN CHAT_ID [SELECTOR] [EXPECTED_TEXT]]",
		Short: "Watch an element on a web page and report changes to a chat",
		Long: `Periodically loads a web page, extracts the text of one element and sends
a notification when the element changes, disappears or comes back.

Configuration is read from defaults, --config, environment variables,
positional arguments and flags, each overriding the previous source.`,
		Args:          cobra.MaximumNArgs(5),
		RunE:          a.runMonitor,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	a.flags.register(cmd.PersistentFlags())

	runCmd := &cobra.Command{
		Use:   "run [URL TOKEN CHAT_ID [SELECTOR] [EXPECTED_TEXT]]",
		Short: "Start monitoring (same as the root command)",
		Args:  cobra.MaximumNArgs(5),
		RunE:  a.runMonitor,
	}

	checkCmd := &cobra.Command{
		Use:   "check [URL TOKEN CHAT_ID [SELECTOR] [EXPECTED_TEXT]]",
		Short: "Fetch the element once and print it without notifying",
		Long: `Fetches the page once and prints the element text.
Exits 0 when the element was found and 2 when it was not.`,
		Args: cobra.MaximumNArgs(5),
		RunE: a.runCheck,
	}

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent observations",
		Args:  cobra.NoArgs,
		RunE:  a.runHistory,
	}
	historyCmd.Flags().IntVarP(&a.flags.historyLimit, "limit", "n", 20, "Number of observations to show")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(stdout, "web-monitor %s\n", version)
		},
	}

	encryptCmd := &cobra.Command{
		Use:   "encrypt VALUE",
		Short: "Encrypt a credential for use in the config file",
		Long: `Encrypts VALUE with the passphrase in $` + config.SecretKeyEnv + ` and prints an
"enc:..." string that can replace a token or chat ID in the config file.`,
		Args: cobra.ExactArgs(1),
		RunE: a.runEncrypt,
	}

	cmd.AddCommand(runCmd, checkCmd, historyCmd, encryptCmd, versionCmd)
	return cmd
}

// buildConfig layers the configuration sources. dryRun forces the console
// notifier before validation so no bot credentials are required.
func (a *app) buildConfig(cmd *cobra.Command, args []string, dryRun bool) (*config.Config, error) {
	fs := cmd.Flags()
	cfg := config.Default()

	if a.flags.configFile != "" {
		if err := config.LoadFile(cfg, a.flags.configFile); err != nil {
			return nil, err
		}
	}
	if err := config.ApplyEnv(cfg, a.getenv); err != nil {
		return nil, err
	}
	a.flags.applyNotifierKind(fs, cfg)
	if err := config.ApplyArgs(cfg, args); err != nil {
		return nil, err
	}
	a.flags.apply(fs, cfg)
	if err := cfg.OpenSecrets(a.getenv(config.SecretKeyEnv)); err != nil {
		return nil, err
	}
	if dryRun {
		cfg.DryRun = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (a *app) outputFormat() (OutputFormat, error) {
	format := OutputFormat(strings.ToLower(a.flags.format))
	if format != FormatText && format != FormatJSON {
		return "", fmt.Errorf("invalid format: %s (must be 'text' or 'json')", a.flags.format)
	}
	return format, nil
}

func (a *app) setupLogger(cfg *config.Config, logFile string) (*logger.Logger, error) {
	log, err := logger.Setup(logger.Options{
		Level:   logger.ParseLevel(cfg.LogLevel),
		Console: a.stderr,
		File:    logFile,
	})
	if err != nil {
		return nil, err
	}
	logger.SetDefault(log)
	return log, nil
}

func browserOptions(cfg *config.Config) browser.Options {
	return browser.Options{
		URL:             cfg.URL,
		UserAgent:       cfg.Browser.UserAgent,
		Headless:        cfg.Browser.Headless,
		ExecPath:        cfg.Browser.ExecPath,
		PageLoadTimeout: cfg.Browser.PageLoadTimeout.Std(),
		ElementTimeout:  cfg.Browser.ElementTimeout.Std(),
		SettleDelay:     cfg.Browser.SettleDelay.Std(),
	}
}

func monitorConfig(cfg *config.Config) monitor.Config {
	return monitor.Config{
		URL:          cfg.URL,
		Locator:      cfg.Locator(),
		ExpectedText: cfg.ExpectedText,
		Interval:     cfg.Interval.Std(),
		OKInterval:   cfg.OKInterval.Std(),
		MaxFailures:  cfg.MaxFailures,
		ResumeState:  cfg.ResumeState,
	}
}

// newNotifier connects the configured notifier. Telegram and Discord
// validate their credentials here, so a bad token fails at startup.
func (a *app) newNotifier(cfg *config.Config) (notify.Notifier, error) {
	switch cfg.Notifier.Kind {
	case config.NotifierConsole:
		return notify.NewConsoleNotifier(a.stdout), nil
	case config.NotifierDiscord:
		return discord.New(cfg.Notifier.DiscordToken, cfg.Notifier.DiscordChannelID)
	default:
		return telegram.NewClient(cfg.Notifier.TelegramToken, cfg.Notifier.TelegramChatID, telegram.Options{})
	}
}

// runMonitor is the long-running polling command.
func (a *app) runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := a.buildConfig(cmd, args, false)
	if err != nil {
		return err
	}

	logFile := cfg.LogFile
	if logFile == "-" {
		logFile = ""
	}
	log, err := a.setupLogger(cfg, logFile)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.New(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}

	var history monitor.HistoryRecorder
	if h, err := storage.OpenHistory(ctx, store.HistoryPath()); err != nil {
		logger.Warn("History disabled", logger.Fields{"error": err.Error()})
	} else {
		defer h.Close()
		history = h
	}

	notifier, err := a.newNotifier(cfg)
	if err != nil {
		return fmt.Errorf("initializing %s notifier: %w", cfg.Notifier.Kind, err)
	}

	factory, err := browser.NewFactory(cfg.Browser.Driver, browserOptions(cfg))
	if err != nil {
		return err
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		if _, err := m.Serve(ctx, cfg.MetricsAddr); err != nil {
			return fmt.Errorf("starting metrics server: %w", err)
		}
	}

	watchdog := newSystemd()

	mon, err := monitor.New(monitorConfig(cfg), monitor.Deps{
		Factory:  factory,
		Notifier: notifier,
		Formatter: notify.Formatter{
			URL:          cfg.URL,
			Selector:     cfg.Locator().String(),
			ExpectedText: cfg.ExpectedText,
			Location:     loc,
		},
		Store:   store,
		History: history,
		Metrics: m,
		OnCycle: func(monitor.CycleResult) { watchdog.alive() },
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := mon.Close(); err != nil {
			logger.Warn("Closing browser session failed", logger.Fields{"error": err.Error()})
		}
	}()

	if err := mon.Start(ctx); err != nil {
		return err
	}
	watchdog.ready()
	defer watchdog.stopping()

	return mon.Run(ctx)
}

// runCheck fetches the element once.
func (a *app) runCheck(cmd *cobra.Command, args []string) error {
	format, err := a.outputFormat()
	if err != nil {
		return err
	}
	cfg, err := a.buildConfig(cmd, args, true)
	if err != nil {
		return err
	}

	log, err := a.setupLogger(cfg, "")
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer log.Close()

	factory, err := browser.NewFactory(cfg.Browser.Driver, browserOptions(cfg))
	if err != nil {
		return err
	}
	mon, err := monitor.New(monitorConfig(cfg), monitor.Deps{
		Factory:  factory,
		Notifier: notify.NewConsoleNotifier(io.Discard),
	})
	if err != nil {
		return err
	}
	defer mon.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), checkTimeout(cfg))
	defer cancel()

	cycle, err := mon.Check(ctx)
	if err != nil {
		return err
	}

	if err := WriteCheck(a.stdout, newCheckResult(cfg, cycle), format); err != nil {
		return err
	}
	if !cycle.Result.Found {
		return &exitError{code: ExitNotFound}
	}
	return nil
}

func checkTimeout(cfg *config.Config) time.Duration {
	return cfg.Browser.PageLoadTimeout.Std() + cfg.Browser.ElementTimeout.Std() +
		cfg.Browser.SettleDelay.Std() + 30*time.Second
}

// runHistory prints the most recent recorded observations.
func (a *app) runHistory(cmd *cobra.Command, args []string) error {
	format, err := a.outputFormat()
	if err != nil {
		return err
	}

	dataDir := config.DefaultDataDir
	if a.flags.configFile != "" {
		cfg := config.Default()
		if err := config.LoadFile(cfg, a.flags.configFile); err != nil {
			return err
		}
		dataDir = cfg.DataDir
	}
	if v := strings.TrimSpace(a.getenv("MONITOR_DATA_DIR")); v != "" {
		dataDir = v
	}
	if cmd.Flags().Changed("data-dir") {
		dataDir = a.flags.dataDir
	}

	store, err := storage.New(dataDir)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	h, err := storage.OpenHistory(cmd.Context(), store.HistoryPath())
	if err != nil {
		return err
	}
	defer h.Close()

	obs, err := h.Recent(cmd.Context(), a.flags.historyLimit)
	if err != nil {
		return err
	}
	return WriteHistory(a.stdout, obs, format)
}

// runEncrypt seals a credential value.
func (a *app) runEncrypt(cmd *cobra.Command, args []string) error {
	sealed, err := secret.New(a.getenv(config.SecretKeyEnv)).Seal(args[0])
	if err != nil {
		if errors.Is(err, secret.ErrNoPassphrase) {
			return fmt.Errorf("set %s to the passphrase first", config.SecretKeyEnv)
		}
		return err
	}
	fmt.Fprintln(a.stdout, sealed)
	return nil
}
