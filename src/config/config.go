package config

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/mosaicnetworks/tanglesync/src/common"
	"github.com/mosaicnetworks/tanglesync/src/request"
)

// Default filenames.
const (
	// DefaultBadgerFile is the default name of the folder containing the Badger
	// database
	DefaultBadgerFile = "badger_db"

	// DefaultLogFile is the name of the log file written in the data
	// directory when file logging is enabled.
	DefaultLogFile = "tanglesync.log"
)

// Default configuration values.
const (
	DefaultLogLevel               = "info"
	DefaultBindAddr               = "127.0.0.1:15600"
	DefaultServiceAddr            = "127.0.0.1:8080"
	DefaultTCPTimeout             = 1000 * time.Millisecond
	DefaultOutboxSize             = 1024
	DefaultHeartbeatInterval      = 30 * time.Second
	DefaultPeerTimeout            = 2 * time.Minute
	DefaultReconnectInterval      = 30 * time.Second
	DefaultSyncedThreshold        = 2
	DefaultMilestoneRequestWindow = 50
	DefaultStore                  = false
)

// Config contains all the configuration properties of a tanglesync node.
type Config struct {
	// DataDir is the top-level directory containing configuration and data
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogToFile additionally writes the log to DataDir/tanglesync.log.
	LogToFile bool `mapstructure:"log-to-file"`

	// BindAddr is the local address:port where this node exchanges packets
	// with its neighbours.
	BindAddr string `mapstructure:"listen"`

	// AdvertiseAddr is used to change the address that we advertise to other
	// nodes.
	AdvertiseAddr string `mapstructure:"advertise"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the optional HTTP service.
	ServiceAddr string `mapstructure:"service-listen"`

	// TCPTimeout is the dial timeout and the write deadline of peer
	// connections.
	TCPTimeout time.Duration `mapstructure:"timeout"`

	// OutboxSize is the number of frames that can be queued for a peer before
	// sends to it fail.
	OutboxSize int `mapstructure:"outbox-size"`

	// HeartbeatInterval is the period of the heartbeat broadcast.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat"`

	// PeerTimeout is how long a peer may stay silent before it is
	// disconnected. Heartbeats older than this do not count towards the
	// synced peers.
	PeerTimeout time.Duration `mapstructure:"peer-timeout"`

	// ReconnectInterval is the period at which the addresses in peers.json
	// are dialed again if they are not connected.
	ReconnectInterval time.Duration `mapstructure:"reconnect"`

	// SyncedThreshold is the distance between a peer's solid and latest
	// milestone below which the peer counts as synced.
	SyncedThreshold uint32 `mapstructure:"synced-threshold"`

	// MilestoneRequestWindow bounds the number of milestone indexes requested
	// ahead of the local solid milestone.
	MilestoneRequestWindow int `mapstructure:"milestone-window"`

	// Request configures the retries of message and milestone requests.
	Request request.Config `mapstructure:",squash"`

	// Store activates persistant storage.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:                DefaultDataDir(),
		LogLevel:               DefaultLogLevel,
		BindAddr:               DefaultBindAddr,
		ServiceAddr:            DefaultServiceAddr,
		TCPTimeout:             DefaultTCPTimeout,
		OutboxSize:             DefaultOutboxSize,
		HeartbeatInterval:      DefaultHeartbeatInterval,
		PeerTimeout:            DefaultPeerTimeout,
		ReconnectInterval:      DefaultReconnectInterval,
		SyncedThreshold:        DefaultSyncedThreshold,
		MilestoneRequestWindow: DefaultMilestoneRequestWindow,
		Request:                request.DefaultConfig(),
		Store:                  DefaultStore,
		DatabaseDir:            DefaultDatabaseDir(),
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

// SetDataDir sets the top-level directory, and updates the database
// directory if it is currently set to the default value. If the database
// directory is not currently the default, it means the user has explicitely set
// it to something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// LogFile returns the full path of the log file.
func (c *Config) LogFile() string {
	return filepath.Join(c.DataDir, DefaultLogFile)
}

// Logger returns a formatted logrus Entry, with prefix set to "tanglesync".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)

		if c.LogToFile {
			c.logger.Hooks.Add(newFileHook(c.LogFile(), c.logger))
		}
	}
	return c.logger.WithField("prefix", "tanglesync")
}

// newFileHook mirrors every level to path.
func newFileHook(path string, logger *logrus.Logger) logrus.Hook {
	pathMap := lfshook.PathMap{}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		logger.Infof("Failed to open %s, logging to stderr only", path)
	} else {
		f.Close()
		for _, level := range logrus.AllLevels {
			pathMap[level] = path
		}
	}

	return lfshook.NewHook(pathMap, &logrus.TextFormatter{})
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir return the default directory name for top-level config
// based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Tanglesync")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Tanglesync")
		} else {
			return filepath.Join(home, ".tanglesync")
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
