package app

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"ssrmixer/internal/adsb"
	"ssrmixer/internal/feed"
	"ssrmixer/internal/publish"
)

// Default configuration constants
const (
	DefaultListenAVR      = ":40002"
	DefaultConnectFormat  = "avr"
	DefaultReconnectDelay = feed.DefaultReconnectDelay
	DefaultCacheSize      = adsb.DefaultICAOCacheSize
	DefaultCacheTTL       = adsb.DefaultICAOCacheTTL
	DefaultTrackerSize    = 4096
	DefaultTrackerTTL     = 5 * time.Minute
	DefaultLogDir         = "./logs"
	DefaultNATSSubject    = "ssrmixer.messages"
	DefaultNATSEncoding   = publish.EncodingJSON
	DefaultStatsInterval  = 30 * time.Second
	DefaultLogFormat      = "text"
)

// Config holds application configuration
type Config struct {
	ListenAVR      string        `yaml:"listen_avr"`
	ListenBeast    string        `yaml:"listen_beast"`
	Connect        string        `yaml:"connect"`
	ConnectFormat  string        `yaml:"connect_format"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`

	FixErrors  bool          `yaml:"fix_errors"`
	Aggressive bool          `yaml:"aggressive"`
	CacheSize  int           `yaml:"icao_cache_size"`
	CacheTTL   time.Duration `yaml:"icao_cache_ttl"`

	TrackerSize int           `yaml:"tracker_size"`
	TrackerTTL  time.Duration `yaml:"tracker_ttl"`

	SBSEnabled       bool   `yaml:"sbs"`
	SBSStdout        bool   `yaml:"sbs_stdout"`
	SBSRetentionDays int    `yaml:"sbs_retention_days"`
	LogDir           string `yaml:"log_dir"`
	LogRotateUTC     bool   `yaml:"utc"`

	DBPath string `yaml:"db"`

	NATSURL      string `yaml:"nats_url"`
	NATSSubject  string `yaml:"nats_subject"`
	NATSEncoding string `yaml:"nats_encoding"`

	StatsInterval time.Duration `yaml:"stats_interval"`
	LogFile       string        `yaml:"log_file"`
	LogFormat     string        `yaml:"log_format"`
	Verbose       bool          `yaml:"verbose"`

	ConfigFile  string `yaml:"-"`
	ShowVersion bool   `yaml:"-"`
}

// DefaultConfig returns the configuration used when no flag or file
// overrides a value
func DefaultConfig() Config {
	return Config{
		ListenAVR:      DefaultListenAVR,
		ConnectFormat:  DefaultConnectFormat,
		ReconnectDelay: DefaultReconnectDelay,
		FixErrors:      true,
		CacheSize:      DefaultCacheSize,
		CacheTTL:       DefaultCacheTTL,
		TrackerSize:    DefaultTrackerSize,
		TrackerTTL:     DefaultTrackerTTL,
		SBSEnabled:     true,
		LogDir:         DefaultLogDir,
		LogRotateUTC:   true,
		NATSSubject:    DefaultNATSSubject,
		NATSEncoding:   DefaultNATSEncoding,
		StatsInterval:  DefaultStatsInterval,
		LogFormat:      DefaultLogFormat,
	}
}

// BindFlags registers every option on fs with cfg's current values as
// defaults
func (cfg *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&cfg.ListenAVR, "listen-avr", cfg.ListenAVR, "Accept AVR text feeds on this address (empty to disable)")
	fs.StringVar(&cfg.ListenBeast, "listen-beast", cfg.ListenBeast, "Accept Beast binary feeds on this address")
	fs.StringVar(&cfg.Connect, "connect", cfg.Connect, "Pull a feed from this upstream host:port")
	fs.StringVar(&cfg.ConnectFormat, "connect-format", cfg.ConnectFormat, "Upstream feed format (avr or beast)")
	fs.DurationVar(&cfg.ReconnectDelay, "reconnect-delay", cfg.ReconnectDelay, "Delay between upstream reconnect attempts")

	fs.BoolVar(&cfg.FixErrors, "fix", cfg.FixErrors, "Correct single-bit errors in DF11/DF17")
	fs.BoolVar(&cfg.Aggressive, "aggressive", cfg.Aggressive, "Also correct two-bit errors in DF17 (CPU intensive)")
	fs.IntVar(&cfg.CacheSize, "icao-cache-size", cfg.CacheSize, "ICAO cache slots (power of two)")
	fs.DurationVar(&cfg.CacheTTL, "icao-cache-ttl", cfg.CacheTTL, "How long a clean DF11/DF17 address stays trusted")

	fs.IntVar(&cfg.TrackerSize, "tracker-size", cfg.TrackerSize, "Maximum number of tracked aircraft")
	fs.DurationVar(&cfg.TrackerTTL, "tracker-ttl", cfg.TrackerTTL, "Drop aircraft not heard for this long")

	fs.BoolVar(&cfg.SBSEnabled, "sbs", cfg.SBSEnabled, "Write BaseStation (SBS) output files")
	fs.BoolVar(&cfg.SBSStdout, "sbs-stdout", cfg.SBSStdout, "Also print SBS lines to stdout")
	fs.StringVarP(&cfg.LogDir, "log-dir", "l", cfg.LogDir, "SBS output directory")
	fs.BoolVarP(&cfg.LogRotateUTC, "utc", "u", cfg.LogRotateUTC, "Use UTC for SBS file rotation")
	fs.IntVar(&cfg.SBSRetentionDays, "sbs-retention-days", cfg.SBSRetentionDays, "Remove SBS files older than this many days (0 keeps all)")

	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Store decoded messages in this SQLite database")

	fs.StringVar(&cfg.NATSURL, "nats-url", cfg.NATSURL, "Publish decoded messages to this NATS server")
	fs.StringVar(&cfg.NATSSubject, "nats-subject", cfg.NATSSubject, "NATS subject")
	fs.StringVar(&cfg.NATSEncoding, "nats-encoding", cfg.NATSEncoding, "NATS payload encoding (json or msgpack)")

	fs.DurationVar(&cfg.StatsInterval, "stats-interval", cfg.StatsInterval, "Statistics log interval (0 to disable)")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Also write the application log to this file")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Application log format (text or json)")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Verbose logging")

	fs.StringVarP(&cfg.ConfigFile, "config", "c", cfg.ConfigFile, "YAML configuration file")
	fs.BoolVar(&cfg.ShowVersion, "version", cfg.ShowVersion, "Show version information")
}

// LoadFile reads a YAML file into cfg. Flags set on the command line keep
// their values.
func (cfg *Config) LoadFile(path string, fs *pflag.FlagSet) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	explicit := make(map[string]string)
	if fs != nil {
		fs.Visit(func(f *pflag.Flag) {
			explicit[f.Name] = f.Value.String()
		})
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	for name, value := range explicit {
		if err := fs.Set(name, value); err != nil {
			return fmt.Errorf("failed to restore flag --%s: %w", name, err)
		}
	}

	return nil
}

// Validate rejects configurations the application cannot run with
func (cfg *Config) Validate() error {
	if cfg.CacheSize <= 0 || cfg.CacheSize&(cfg.CacheSize-1) != 0 {
		return fmt.Errorf("icao cache size must be a power of two, got %d", cfg.CacheSize)
	}
	if cfg.CacheTTL <= 0 {
		return fmt.Errorf("icao cache ttl must be positive")
	}
	if cfg.TrackerSize <= 0 {
		return fmt.Errorf("tracker size must be positive")
	}
	if cfg.TrackerTTL <= 0 {
		return fmt.Errorf("tracker ttl must be positive")
	}
	if cfg.StatsInterval < 0 {
		return fmt.Errorf("stats interval must not be negative")
	}
	if cfg.SBSRetentionDays < 0 {
		return fmt.Errorf("sbs retention days must not be negative")
	}
	if cfg.ListenAVR == "" && cfg.ListenBeast == "" && cfg.Connect == "" {
		return fmt.Errorf("no input configured: set --listen-avr, --listen-beast or --connect")
	}
	if cfg.Connect != "" {
		if _, err := feed.ParseFormat(cfg.ConnectFormat); err != nil {
			return err
		}
	}
	if cfg.NATSURL != "" {
		if cfg.NATSEncoding != publish.EncodingJSON && cfg.NATSEncoding != publish.EncodingMsgpack {
			return fmt.Errorf("unknown NATS encoding %q", cfg.NATSEncoding)
		}
		if cfg.NATSSubject == "" {
			return fmt.Errorf("NATS subject is required")
		}
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", cfg.LogFormat)
	}
	return nil
}
