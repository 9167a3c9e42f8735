package config

import (
	"flag"
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"
)

// DSFlags holds the server's command-line flag values.
type DSFlags struct {
	ConfigPath string
	Port       string
	Verbose    bool
	StoreDir   string
	LogLevel   string
}

// ParseDSFlags parses the server command line: ds [-p DSport] [-v].
func ParseDSFlags() *DSFlags {
	f := &DSFlags{}

	flag.StringVar(&f.ConfigPath, "config", "./groupd.toml", "Path to configuration file")
	flag.StringVar(&f.Port, "p", "", "Port to listen on (UDP and TCP)")
	flag.BoolVar(&f.Verbose, "v", false, "Verbose logging of request origin and command")
	flag.StringVar(&f.StoreDir, "store", "", "Directory holding the USERS/ and GROUPS/ trees")
	flag.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")

	flag.Parse()
	return f
}

// UserFlags holds the client's command-line flag values.
type UserFlags struct {
	ConfigPath string
	Host       string
	Port       string
}

// ParseUserFlags parses the client command line: user [-n DSIP] [-p DSport].
func ParseUserFlags() *UserFlags {
	f := &UserFlags{}

	flag.StringVar(&f.ConfigPath, "config", "./groupd.toml", "Path to configuration file")
	flag.StringVar(&f.Host, "n", "", "DS host name or address (empty for localhost)")
	flag.StringVar(&f.Port, "p", "", "DS port")

	flag.Parse()
	return f
}

// Load parses a TOML configuration file and returns both program configs.
// If the file does not exist, defaults are returned. The loader reads from
// [server] (shared settings) and the program tables, with program values
// taking precedence over [server] values.
func Load(path string) (Config, UserConfig, error) {
	cfg := Default()
	ucfg := DefaultUser()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, ucfg, nil
		}
		return cfg, ucfg, fmt.Errorf("reading config file: %w", err)
	}

	var fileConfig FileConfig
	if err := toml.Unmarshal(data, &fileConfig); err != nil {
		return cfg, ucfg, fmt.Errorf("parsing config file: %w", err)
	}

	// First merge shared server config into defaults
	if fileConfig.Server.Port != "" {
		cfg.Port = fileConfig.Server.Port
		ucfg.Port = fileConfig.Server.Port
	}
	if fileConfig.Server.LogLevel != "" {
		cfg.LogLevel = fileConfig.Server.LogLevel
		ucfg.LogLevel = fileConfig.Server.LogLevel
	}

	// Then merge program-specific config (takes precedence)
	cfg = mergeConfig(cfg, fileConfig.DS)
	ucfg = mergeUserConfig(ucfg, fileConfig.User)

	return cfg, ucfg, nil
}

// LoadDS loads the server configuration and applies flag overrides.
func LoadDS(f *DSFlags) (Config, error) {
	cfg, _, err := Load(f.ConfigPath)
	if err != nil {
		return cfg, err
	}

	if f.Port != "" {
		cfg.Port = f.Port
	}
	if f.StoreDir != "" {
		cfg.StoreDir = f.StoreDir
	}
	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}
	if f.Verbose {
		cfg.Verbose = true
	}

	return cfg, nil
}

// LoadUser loads the client configuration and applies flag overrides.
func LoadUser(f *UserFlags) (UserConfig, error) {
	_, ucfg, err := Load(f.ConfigPath)
	if err != nil {
		return ucfg, err
	}

	if f.Host != "" {
		ucfg.Host = f.Host
	}
	if f.Port != "" {
		ucfg.Port = f.Port
	}

	return ucfg, nil
}

// mergeConfig merges non-zero values from src into dst.
func mergeConfig(dst, src Config) Config {
	if src.Port != "" {
		dst.Port = src.Port
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.Verbose {
		dst.Verbose = true
	}
	if src.StoreDir != "" {
		dst.StoreDir = src.StoreDir
	}
	if src.Limits.MaxConnections > 0 {
		dst.Limits.MaxConnections = src.Limits.MaxConnections
	}
	if src.Metrics.Enabled {
		dst.Metrics.Enabled = true
	}
	if src.Metrics.Address != "" {
		dst.Metrics.Address = src.Metrics.Address
	}
	if src.Metrics.Path != "" {
		dst.Metrics.Path = src.Metrics.Path
	}
	return dst
}

// mergeUserConfig merges non-zero values from src into dst.
func mergeUserConfig(dst, src UserConfig) UserConfig {
	if src.Host != "" {
		dst.Host = src.Host
	}
	if src.Port != "" {
		dst.Port = src.Port
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.DownloadDir != "" {
		dst.DownloadDir = src.DownloadDir
	}
	if src.Timeout != "" {
		dst.Timeout = src.Timeout
	}
	if src.Retries > 0 {
		dst.Retries = src.Retries
	}
	return dst
}
