// Package config builds the immutable monitor configuration from defaults,
// an optional YAML file, environment variables and command-line arguments.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // message timestamps default to Europe/Moscow

	"gopkg.in/yaml.v3"

	"github.com/pfrederiksen/web-monitor/internal/locator"
	"github.com/pfrederiksen/web-monitor/internal/secret"
)

var (
	ErrMissingURL      = errors.New("monitor URL is required")
	ErrMissingToken    = errors.New("bot token is required")
	ErrMissingChat     = errors.New("chat ID is required")
	ErrInvalidSelector = errors.New("invalid selector")
)

const (
	DriverChrome = "chrome"
	DriverHTTP   = "http"

	NotifierTelegram = "telegram"
	NotifierDiscord  = "discord"
	NotifierConsole  = "console"
)

const (
	DefaultInterval         = 3 * time.Minute
	DefaultOKInterval       = 3 * time.Minute
	DefaultMaxFailures      = 5
	DefaultPageLoadTimeout  = 30 * time.Second
	DefaultElementTimeout   = 5 * time.Second
	DefaultSettleDelay      = 2 * time.Second
	DefaultSelector         = "auto"
	DefaultTimezone         = "Europe/Moscow"
	DefaultLogFile          = "web_monitor.log"
	DefaultDataDir          = "~/.local/share/web-monitor"
	DefaultUserAgentLinux   = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36"
	DefaultUserAgentWindows = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
)

// Config is the complete monitor configuration. It is not modified after
// the monitor starts.
type Config struct {
	URL          string `yaml:"url"`
	Selector     string `yaml:"selector"`
	ExpectedText string `yaml:"expected_text"`

	Interval    Duration `yaml:"interval"`
	OKInterval  Duration `yaml:"ok_interval"`
	MaxFailures int      `yaml:"max_failures"`

	Browser  BrowserConfig  `yaml:"browser"`
	Notifier NotifierConfig `yaml:"notifier"`

	Timezone    string `yaml:"timezone"`
	DataDir     string `yaml:"data_dir"`
	LogFile     string `yaml:"log_file"`
	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`
	DryRun      bool   `yaml:"dry_run"`
	// ResumeState continues from the saved snapshot after a restart
	// instead of announcing a fresh first observation.
	ResumeState bool `yaml:"resume_state"`
}

// BrowserConfig controls the page driver.
type BrowserConfig struct {
	Driver          string   `yaml:"driver"` // chrome | http
	Headless        bool     `yaml:"headless"`
	UserAgent       string   `yaml:"user_agent"`
	PageLoadTimeout Duration `yaml:"page_load_timeout"`
	ElementTimeout  Duration `yaml:"element_timeout"`
	SettleDelay     Duration `yaml:"settle_delay"`
	ExecPath        string   `yaml:"exec_path"`
}

// NotifierConfig holds bot credentials.
type NotifierConfig struct {
	Kind             string `yaml:"kind"` // telegram | discord | console
	TelegramToken    string `yaml:"telegram_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
	DiscordToken     string `yaml:"discord_token"`
	DiscordChannelID string `yaml:"discord_channel_id"`
}

// Default returns a configuration populated with default values.
func Default() *Config {
	return &Config{
		Selector:    DefaultSelector,
		Interval:    Duration(DefaultInterval),
		OKInterval:  Duration(DefaultOKInterval),
		MaxFailures: DefaultMaxFailures,
		Browser: BrowserConfig{
			Driver:          DriverChrome,
			Headless:        true,
			UserAgent:       defaultUserAgent(),
			PageLoadTimeout: Duration(DefaultPageLoadTimeout),
			ElementTimeout:  Duration(DefaultElementTimeout),
			SettleDelay:     Duration(DefaultSettleDelay),
		},
		Notifier: NotifierConfig{
			Kind: NotifierTelegram,
		},
		Timezone: DefaultTimezone,
		DataDir:  DefaultDataDir,
		LogFile:  DefaultLogFile,
		LogLevel: "info",
	}
}

func defaultUserAgent() string {
	if runtime.GOOS == "windows" {
		return DefaultUserAgentWindows
	}
	return DefaultUserAgentLinux
}

// LoadFile overlays the YAML file at path onto cfg. Keys absent from the
// file keep their current values.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// Getenv looks up an environment variable. Tests replace it.
type Getenv func(key string) string

// ApplyEnv overlays the recognized environment variables onto cfg.
func ApplyEnv(cfg *Config, getenv Getenv) error {
	if getenv == nil {
		getenv = os.Getenv
	}

	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	setString("MONITOR_URL", &cfg.URL)
	setString("MONITOR_SELECTOR", &cfg.Selector)
	setString("MONITOR_EXPECTED_TEXT", &cfg.ExpectedText)
	setString("MONITOR_DRIVER", &cfg.Browser.Driver)
	setString("MONITOR_TIMEZONE", &cfg.Timezone)
	setString("MONITOR_DATA_DIR", &cfg.DataDir)
	setString("MONITOR_LOG_FILE", &cfg.LogFile)
	setString("MONITOR_LOG_LEVEL", &cfg.LogLevel)
	setString("MONITOR_METRICS_ADDR", &cfg.MetricsAddr)
	setString("MONITOR_NOTIFIER", &cfg.Notifier.Kind)
	setString("TELEGRAM_TOKEN", &cfg.Notifier.TelegramToken)
	setString("TELEGRAM_CHAT_ID", &cfg.Notifier.TelegramChatID)
	setString("DISCORD_TOKEN", &cfg.Notifier.DiscordToken)
	setString("DISCORD_CHANNEL_ID", &cfg.Notifier.DiscordChannelID)
	setString("CHROME_PATH", &cfg.Browser.ExecPath)

	if v := strings.TrimSpace(getenv("HEADLESS")); v != "" {
		cfg.Browser.Headless = strings.EqualFold(v, "true")
	}
	if v := strings.TrimSpace(getenv("MONITOR_RESUME_STATE")); v != "" {
		cfg.ResumeState = strings.EqualFold(v, "true")
	}

	if v := strings.TrimSpace(getenv("MONITOR_INTERVAL")); v != "" {
		d, err := ParseDurationField("MONITOR_INTERVAL", v)
		if err != nil {
			return err
		}
		cfg.Interval = Duration(d)
	}
	if v := strings.TrimSpace(getenv("MONITOR_OK_INTERVAL")); v != "" {
		d, err := ParseDurationField("MONITOR_OK_INTERVAL", v)
		if err != nil {
			return err
		}
		cfg.OKInterval = Duration(d)
	}
	if v := strings.TrimSpace(getenv("MONITOR_MAX_FAILURES")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MONITOR_MAX_FAILURES: invalid number %q: %w", v, err)
		}
		cfg.MaxFailures = n
	}

	return nil
}

// ApplyArgs overlays positional arguments:
//
//	URL TOKEN CHAT_ID [SELECTOR] [EXPECTED_TEXT]
//
// No arguments leaves cfg untouched. Between one and two arguments is an error.
func ApplyArgs(cfg *Config, args []string) error {
	if len(args) == 0 {
		return nil
	}
	if len(args) < 3 {
		return fmt.Errorf("expected URL TOKEN CHAT_ID [SELECTOR] [EXPECTED_TEXT], got %d argument(s)", len(args))
	}
	if len(args) > 5 {
		return fmt.Errorf("too many arguments: %d", len(args))
	}

	cfg.URL = args[0]
	switch cfg.Notifier.Kind {
	case NotifierDiscord:
		cfg.Notifier.DiscordToken = args[1]
		cfg.Notifier.DiscordChannelID = args[2]
	default:
		cfg.Notifier.TelegramToken = args[1]
		cfg.Notifier.TelegramChatID = args[2]
	}
	if len(args) > 3 {
		cfg.Selector = args[3]
	}
	if len(args) > 4 {
		cfg.ExpectedText = args[4]
	}
	return nil
}

// SecretKeyEnv names the environment variable holding the passphrase for
// "enc:" credential values.
const SecretKeyEnv = "MONITOR_SECRET_KEY"

// OpenSecrets decrypts sealed notifier credentials in place.
func (c *Config) OpenSecrets(passphrase string) error {
	box := secret.New(passphrase)
	err := box.OpenAll(
		&c.Notifier.TelegramToken,
		&c.Notifier.TelegramChatID,
		&c.Notifier.DiscordToken,
		&c.Notifier.DiscordChannelID,
	)
	if err != nil {
		return fmt.Errorf("notifier credentials: %w", err)
	}
	return nil
}

// Validate checks the configuration and fills derived defaults.
func (c *Config) Validate() error {
	c.URL = strings.TrimSpace(c.URL)
	if c.URL == "" {
		return ErrMissingURL
	}
	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid monitor URL %q: must be an absolute http(s) URL", c.URL)
	}

	loc, err := locator.Parse(c.Selector)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSelector, err)
	}
	if loc.IsAuto() && strings.TrimSpace(c.ExpectedText) == "" {
		return fmt.Errorf("%w: selector 'auto' requires an expected text to search for", ErrInvalidSelector)
	}

	if c.Interval <= 0 {
		c.Interval = Duration(DefaultInterval)
	}
	if c.OKInterval <= 0 {
		c.OKInterval = Duration(DefaultOKInterval)
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = DefaultMaxFailures
	}
	if c.Browser.PageLoadTimeout <= 0 {
		c.Browser.PageLoadTimeout = Duration(DefaultPageLoadTimeout)
	}
	if c.Browser.ElementTimeout <= 0 {
		c.Browser.ElementTimeout = Duration(DefaultElementTimeout)
	}
	if c.Browser.SettleDelay < 0 {
		c.Browser.SettleDelay = 0
	}
	if c.Browser.UserAgent == "" {
		c.Browser.UserAgent = defaultUserAgent()
	}

	switch c.Browser.Driver {
	case DriverChrome, DriverHTTP:
	case "":
		c.Browser.Driver = DriverChrome
	default:
		return fmt.Errorf("unknown driver %q (must be 'chrome' or 'http')", c.Browser.Driver)
	}

	if c.DryRun {
		c.Notifier.Kind = NotifierConsole
	}
	switch c.Notifier.Kind {
	case NotifierTelegram, "":
		c.Notifier.Kind = NotifierTelegram
		if strings.TrimSpace(c.Notifier.TelegramToken) == "" {
			return ErrMissingToken
		}
		if strings.TrimSpace(c.Notifier.TelegramChatID) == "" {
			return ErrMissingChat
		}
	case NotifierDiscord:
		if strings.TrimSpace(c.Notifier.DiscordToken) == "" {
			return ErrMissingToken
		}
		if strings.TrimSpace(c.Notifier.DiscordChannelID) == "" {
			return ErrMissingChat
		}
	case NotifierConsole:
	default:
		return fmt.Errorf("unknown notifier %q (must be 'telegram', 'discord' or 'console')", c.Notifier.Kind)
	}

	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Locator returns the parsed selector.
func (c *Config) Locator() locator.Locator {
	loc, err := locator.Parse(c.Selector)
	if err != nil {
		return locator.Locator{Kind: locator.KindAuto}
	}
	return loc
}

// Location resolves the timezone used for message timestamps.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
