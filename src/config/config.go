package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/mosaicnetworks/notarium/src/common"
	"github.com/mosaicnetworks/notarium/src/crypto"
	"github.com/mosaicnetworks/notarium/src/identity"
	"github.com/mosaicnetworks/notarium/src/notary"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the node's
	// private key
	DefaultKeyfile = "priv_key"

	// DefaultDatabaseFile is the default name of the folder containing the
	// databases
	DefaultDatabaseFile = "db"

	// DefaultConfigFile is the name of the optional configuration file, without
	// extension, in the data directory.
	DefaultConfigFile = "notarium"
)

// Ledger backends.
const (
	BadgerLedger = "badger"
	SQLiteLedger = "sqlite"
)

// Default configuration values.
const (
	DefaultLogLevel            = "debug"
	DefaultBindAddr            = "127.0.0.1:1337"
	DefaultServiceAddr         = "127.0.0.1:8000"
	DefaultTCPTimeout          = 1000 * time.Millisecond
	DefaultNotariseTimeout     = 10 * time.Second
	DefaultMaxPool             = 2
	DefaultStore               = false
	DefaultLedger              = BadgerLedger
	DefaultCacheSize           = 10000
	DefaultFlowWorkers         = 16
	DefaultMaxFlowRetries      = 3
	DefaultNotaryRetryInitial  = 200 * time.Millisecond
	DefaultNotaryRetryMax      = 5 * time.Second
	DefaultNotaryRetryAttempts = 8
)

// Config contains all the configuration properties of a notarium node.
type Config struct {
	// DataDir is the top-level directory containing notarium configuration and
	// data
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogDir, if set, receives a copy of the logs, one file per level.
	LogDir string `mapstructure:"log-dir"`

	// Moniker is the name of the party this node hosts. It must match an entry
	// of parties.json.
	Moniker string `mapstructure:"moniker"`

	// BindAddr is the local address:port where this node listens for session
	// messages and notarisation requests.
	BindAddr string `mapstructure:"listen"`

	// AdvertiseAddr is used to change the address that we advertise to other
	// nodes.
	AdvertiseAddr string `mapstructure:"advertise"`

	// TCPTimeout is the timeout of RPC connections.
	TCPTimeout time.Duration `mapstructure:"timeout"`

	// NotariseTimeout is the timeout of notarisation RPCs. Validating notaries
	// check the whole transaction before answering.
	NotariseTimeout time.Duration `mapstructure:"notarise-timeout"`

	// MaxPool controls how many connections are pooled per target.
	MaxPool int `mapstructure:"max-pool"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the optional HTTP service.
	ServiceAddr string `mapstructure:"service-listen"`

	// Store activates persistent storage of the ledger and the flow
	// checkpoints. Without it everything lives in memory and is lost on
	// restart.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// Ledger selects the persistent ledger backend, badger or sqlite.
	Ledger string `mapstructure:"ledger"`

	// CacheSize is the max number of transactions in the ledger cache.
	CacheSize int `mapstructure:"cache-size"`

	// FlowWorkers is the number of flows processed concurrently.
	FlowWorkers int `mapstructure:"flow-workers"`

	// MaxFlowRetries is how many times the flow hospital retries a flow
	// before keeping it for observation.
	MaxFlowRetries uint64 `mapstructure:"max-flow-retries"`

	// Notary makes this node a notary: "validating" or "non-validating".
	// Empty means an ordinary node.
	Notary string `mapstructure:"notary"`

	// NotaryReplicas lists the key files of the additional replicas of a
	// clustered notary. Each replica signs notarisation responses.
	NotaryReplicas []string `mapstructure:"notary-replicas"`

	// NotaryRetryInitial and NotaryRetryMax bound the backoff of the notary
	// client. NotaryRetryAttempts is the number of retries after the first
	// request.
	NotaryRetryInitial  time.Duration `mapstructure:"notary-retry-initial"`
	NotaryRetryMax      time.Duration `mapstructure:"notary-retry-max"`
	NotaryRetryAttempts uint64        `mapstructure:"notary-retry-attempts"`

	// NetworkParameters is the hex hash of the current network parameters.
	// Notaries reject transactions referring to other parameters.
	NetworkParameters string `mapstructure:"network-parameters"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:             DefaultDataDir(),
		LogLevel:            DefaultLogLevel,
		BindAddr:            DefaultBindAddr,
		ServiceAddr:         DefaultServiceAddr,
		TCPTimeout:          DefaultTCPTimeout,
		NotariseTimeout:     DefaultNotariseTimeout,
		MaxPool:             DefaultMaxPool,
		Store:               DefaultStore,
		DatabaseDir:         DefaultDatabaseDir(),
		Ledger:              DefaultLedger,
		CacheSize:           DefaultCacheSize,
		FlowWorkers:         DefaultFlowWorkers,
		MaxFlowRetries:      DefaultMaxFlowRetries,
		NotaryRetryInitial:  DefaultNotaryRetryInitial,
		NotaryRetryMax:      DefaultNotaryRetryMax,
		NotaryRetryAttempts: DefaultNotaryRetryAttempts,
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t, level)
	return config
}

// SetDataDir sets the top-level notarium directory, and updates the database
// directory if it is currently set to the default value. If the database
// directory is not currently the default, it means the user has explicitely set
// it to something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultDatabaseFile)
	}
}

// Keyfile returns the full path of the file containing the private key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// NotaryType parses the notary option.
func (c *Config) NotaryType() (identity.NotaryType, error) {
	switch t := identity.NotaryType(c.Notary); t {
	case identity.NoNotary, identity.ValidatingNotary, identity.NonValidatingNotary:
		return t, nil
	default:
		return identity.NoNotary, fmt.Errorf("unknown notary type %q", c.Notary)
	}
}

// NotaryRetry returns the retry configuration of the notary client.
func (c *Config) NotaryRetry() notary.RetryConfig {
	return notary.RetryConfig{
		Initial:  c.NotaryRetryInitial,
		Max:      c.NotaryRetryMax,
		Attempts: c.NotaryRetryAttempts,
	}
}

// NetworkParametersHash parses the network-parameters option. It returns nil
// when the option is not set.
func (c *Config) NetworkParametersHash() (*crypto.SecureHash, error) {
	if c.NetworkParameters == "" {
		return nil, nil
	}
	h, err := crypto.ParseSecureHash(c.NetworkParameters)
	if err != nil {
		return nil, fmt.Errorf("network-parameters: %w", err)
	}
	return &h, nil
}

// Validate checks the options that have a fixed set of values.
func (c *Config) Validate() error {
	if c.Ledger != BadgerLedger && c.Ledger != SQLiteLedger {
		return fmt.Errorf("unknown ledger backend %q", c.Ledger)
	}
	if c.FlowWorkers <= 0 {
		return fmt.Errorf("flow-workers must be positive")
	}
	if _, err := c.NotaryType(); err != nil {
		return err
	}
	if _, err := c.NetworkParametersHash(); err != nil {
		return err
	}
	return nil
}

// Logger returns a formatted logrus Entry, with prefix set to "notarium".
func (c *Config) Logger() *logrus.Entry {
	return c.BaseLogger().WithField("prefix", "notarium")
}

// BaseLogger returns the logger behind Logger, creating it on first use.
func (c *Config) BaseLogger() *logrus.Logger {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)
	}
	return c.logger
}

// DefaultDatabaseDir returns the default path for the database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultDatabaseFile)
}

// DefaultDataDir return the default directory name for top-level notarium
// config based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Notarium")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Notarium")
		} else {
			return filepath.Join(home, ".notarium")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
