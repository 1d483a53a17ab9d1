package core

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config contains all of the configuration options available to any of the
// server components.
type Config struct {
	// Hostname or IP address on which the servers will listen for connections.
	Hostname string `mapstructure:"hostname"`
	// Maximum number of concurrent connections the server will allow across all ports.
	MaxConnections int `mapstructure:"max_connections"`
	// PEM file holding the RSA private key that opens the login handshake.
	PrivateKeyFile string `mapstructure:"private_key_file"`
	// Directory the config file was loaded from; relative paths resolve against it.
	ConfigDir string `mapstructure:"-"`

	Logging struct {
		// Full path to file to which logs will be written. Blank will write to stdout.
		LogFilePath string `mapstructure:"log_file_path"`
		// Minimum level of a log required to be written. Options: debug, info, warn, error
		LogLevel string `mapstructure:"log_level"`
	} `mapstructure:"logging"`

	Database struct {
		// Either sqlite or postgres.
		Engine string `mapstructure:"engine"`
		// SQLite database file, relative to the config directory.
		Filename string `mapstructure:"filename"`
		// Hostname of the Postgres database instance.
		Host string `mapstructure:"host"`
		// Port on host on which the Postgres instance is accepting connections.
		Port int `mapstructure:"port"`
		// Name of the database in Postgres.
		Name string `mapstructure:"name"`
		// Username and password of a user with full RW privileges to the database.
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		// Set to verify-full if the Postgres instance supports SSL.
		SSLMode string `mapstructure:"sslmode"`
	} `mapstructure:"database"`

	// The retail client has these ports compiled in; they only need changing
	// when running behind a port mapper.
	Ports struct {
		Login        int `mapstructure:"login"`
		Chat         int `mapstructure:"chat"`
		Persona      int `mapstructure:"persona"`
		Lobby        int `mapstructure:"lobby"`
		Transactions int `mapstructure:"transactions"`
	} `mapstructure:"ports"`

	Debugging struct {
		// Enable extra info-providing mechanisms for the server.
		PprofEnabled bool `mapstructure:"pprof_enabled"`
		// Port on which a pprof server will be started if debug mode is enabled.
		PprofPort int `mapstructure:"pprof_port"`
		// Log packets to stdout.
		PacketLoggingEnabled bool `mapstructure:"packet_logging_enabled"`
		// Enable database-level query logging.
		DatabaseLoggingEnabled bool `mapstructure:"database_logging_enabled"`
	} `mapstructure:"debugging"`
}

const envVarPrefix = "MCOS"

var defaults = map[string]interface{}{
	"hostname":             "0.0.0.0",
	"max_connections":      3000,
	"private_key_file":     "private_key.pem",
	"logging.log_level":    "info",
	"database.engine":      "sqlite",
	"database.filename":    "mcos.db",
	"database.port":        5432,
	"database.sslmode":     "disable",
	"ports.login":          8226,
	"ports.chat":           8227,
	"ports.persona":        8228,
	"ports.lobby":          7003,
	"ports.transactions":   43300,
	"debugging.pprof_port": 4000,
}

// ErrConfigNotFound is returned when there is no config.yaml under the
// requested path.
var ErrConfigNotFound = errors.New("config file not found")

// LoadConfig reads config.yaml from configPath. Every key can be overridden
// through the environment, e.g. database.host with MCOS_DATABASE_HOST.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(configPath)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envVarPrefix)
	v.AutomaticEnv()

	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: no config file in path %s", ErrConfigNotFound, configPath)
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// This allows us to set nested yaml config options through environment
	// variables. For example, database.host can be set using: <envVarPrefix>_DATABASE_HOST
	for _, k := range v.AllKeys() {
		envVar := strings.ReplaceAll(strings.ToUpper(k), ".", "_")
		if err := v.BindEnv(k, envVarPrefix+"_"+envVar); err != nil {
			return nil, fmt.Errorf("error binding %s to %s: %w", k, envVarPrefix+"_"+envVar, err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config object: %w", err)
	}
	config.ConfigDir = configPath
	return config, nil
}

const databaseURITemplate = "host=%s port=%d dbname=%s user=%s password=%s sslmode=%s"

// DatabaseURL returns a database URL generated from the provided config values.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		databaseURITemplate,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.Username,
		c.Database.Password,
		c.Database.SSLMode,
	)
}

// QualifiedPath resolves a path from the config file against the directory
// the config was loaded from.
func (c *Config) QualifiedPath(p string) string {
	if filepath.IsAbs(p) || c.ConfigDir == "" {
		return p
	}
	return filepath.Join(c.ConfigDir, p)
}

// ListenAddress is the host:port a service listens on.
func (c *Config) ListenAddress(port int) string {
	return fmt.Sprintf("%s:%d", c.Hostname, port)
}
