package cli

import (
	"time"

	"github.com/spf13/pflag"

	"github.com/pfrederiksen/web-monitor/internal/config"
)

// flagValues holds the command-line flags. Only flags the user set
// explicitly override the lower configuration layers.
type flagValues struct {
	configFile string
	format     string
	verbose    bool

	url          string
	selector     string
	expectedText string

	notifier         string
	telegramToken    string
	telegramChatID   string
	discordToken     string
	discordChannelID string

	driver          string
	headless        bool
	userAgent       string
	chromePath      string
	pageLoadTimeout time.Duration
	elementTimeout  time.Duration
	settleDelay     time.Duration

	interval    time.Duration
	okInterval  time.Duration
	maxFailures int

	timezone    string
	dataDir     string
	logFile     string
	logLevel    string
	metricsAddr string
	dryRun      bool
	resumeState bool

	historyLimit int
}

func (f *flagValues) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.configFile, "config", "", "Path to a YAML configuration file")
	fs.StringVar(&f.format, "format", "text", "Output format for check and history: text or json")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "Enable debug logging")

	fs.StringVar(&f.url, "url", "", "Page URL to monitor (env: MONITOR_URL)")
	fs.StringVar(&f.selector, "selector", "", "CSS selector, XPath (//...), #id or 'auto' (env: MONITOR_SELECTOR)")
	fs.StringVar(&f.expectedText, "expected-text", "", "Text the element must contain (env: MONITOR_EXPECTED_TEXT)")

	fs.StringVar(&f.notifier, "notifier", "", "Notifier: telegram, discord or console (env: MONITOR_NOTIFIER)")
	fs.StringVar(&f.telegramToken, "telegram-token", "", "Telegram bot token (env: TELEGRAM_TOKEN)")
	fs.StringVar(&f.telegramChatID, "telegram-chat-id", "", "Telegram chat ID or @channel (env: TELEGRAM_CHAT_ID)")
	fs.StringVar(&f.discordToken, "discord-token", "", "Discord bot token (env: DISCORD_TOKEN)")
	fs.StringVar(&f.discordChannelID, "discord-channel-id", "", "Discord channel ID (env: DISCORD_CHANNEL_ID)")

	fs.StringVar(&f.driver, "driver", "", "Page driver: chrome or http (env: MONITOR_DRIVER)")
	fs.BoolVar(&f.headless, "headless", true, "Run Chrome headless (env: HEADLESS)")
	fs.StringVar(&f.userAgent, "user-agent", "", "User-Agent header for page requests")
	fs.StringVar(&f.chromePath, "chrome-path", "", "Path to the Chrome binary (env: CHROME_PATH)")
	fs.DurationVar(&f.pageLoadTimeout, "page-load-timeout", 0, "Page load timeout")
	fs.DurationVar(&f.elementTimeout, "element-timeout", 0, "How long to wait for the element")
	fs.DurationVar(&f.settleDelay, "settle-delay", 0, "Delay after page load before reading the element")

	fs.DurationVar(&f.interval, "interval", 0, "Poll interval (env: MONITOR_INTERVAL)")
	fs.DurationVar(&f.okInterval, "ok-interval", 0, "Minimum spacing of routine OK notifications (env: MONITOR_OK_INTERVAL)")
	fs.IntVar(&f.maxFailures, "max-failures", 0, "Consecutive failures before the browser session restarts")

	fs.StringVar(&f.timezone, "timezone", "", "Timezone for message timestamps (env: MONITOR_TIMEZONE)")
	fs.StringVar(&f.dataDir, "data-dir", "", "Directory for state and history (env: MONITOR_DATA_DIR)")
	fs.StringVar(&f.logFile, "log-file", "", "Log file path, '-' disables file logging (env: MONITOR_LOG_FILE)")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error (env: MONITOR_LOG_LEVEL)")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "Serve /metrics and /healthz on this address (env: MONITOR_METRICS_ADDR)")
	fs.BoolVar(&f.dryRun, "dry-run", false, "Print notifications instead of sending them")
	fs.BoolVar(&f.resumeState, "resume-state", false, "Continue from the state saved by the previous run (env: MONITOR_RESUME_STATE)")
}

// applyNotifierKind runs before positional arguments, which are mapped to
// the credentials of the selected notifier.
func (f *flagValues) applyNotifierKind(fs *pflag.FlagSet, cfg *config.Config) {
	if fs.Changed("notifier") {
		cfg.Notifier.Kind = f.notifier
	}
}

// apply overlays explicitly set flags onto cfg.
func (f *flagValues) apply(fs *pflag.FlagSet, cfg *config.Config) {
	setString := func(name string, src string, dst *string) {
		if fs.Changed(name) {
			*dst = src
		}
	}
	setDuration := func(name string, src time.Duration, dst *config.Duration) {
		if fs.Changed(name) {
			*dst = config.Duration(src)
		}
	}

	setString("url", f.url, &cfg.URL)
	setString("selector", f.selector, &cfg.Selector)
	setString("expected-text", f.expectedText, &cfg.ExpectedText)

	setString("telegram-token", f.telegramToken, &cfg.Notifier.TelegramToken)
	setString("telegram-chat-id", f.telegramChatID, &cfg.Notifier.TelegramChatID)
	setString("discord-token", f.discordToken, &cfg.Notifier.DiscordToken)
	setString("discord-channel-id", f.discordChannelID, &cfg.Notifier.DiscordChannelID)

	setString("driver", f.driver, &cfg.Browser.Driver)
	setString("user-agent", f.userAgent, &cfg.Browser.UserAgent)
	setString("chrome-path", f.chromePath, &cfg.Browser.ExecPath)
	if fs.Changed("headless") {
		cfg.Browser.Headless = f.headless
	}
	setDuration("page-load-timeout", f.pageLoadTimeout, &cfg.Browser.PageLoadTimeout)
	setDuration("element-timeout", f.elementTimeout, &cfg.Browser.ElementTimeout)
	setDuration("settle-delay", f.settleDelay, &cfg.Browser.SettleDelay)

	setDuration("interval", f.interval, &cfg.Interval)
	setDuration("ok-interval", f.okInterval, &cfg.OKInterval)
	if fs.Changed("max-failures") {
		cfg.MaxFailures = f.maxFailures
	}

	setString("timezone", f.timezone, &cfg.Timezone)
	setString("data-dir", f.dataDir, &cfg.DataDir)
	setString("log-file", f.logFile, &cfg.LogFile)
	setString("log-level", f.logLevel, &cfg.LogLevel)
	setString("metrics-addr", f.metricsAddr, &cfg.MetricsAddr)
	if fs.Changed("dry-run") {
		cfg.DryRun = f.dryRun
	}
	if fs.Changed("resume-state") {
		cfg.ResumeState = f.resumeState
	}
	if f.verbose {
		cfg.LogLevel = "debug"
	}
}
