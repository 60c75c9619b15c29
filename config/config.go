package config

import "github.com/tetherhq/tether/util/conf"

// ServiceConfig describes the supervised service the CLI operates on.
// Timeouts are in seconds, mirroring the library defaults.
type ServiceConfig struct {
	// Name is the service identity, e.g. "storage". It determines the
	// registry file name.
	Name string `conf:"name"`

	// Command is the worker command to execute
	Command string `conf:"command"`

	// Args are the arguments to pass to the worker command
	Args []string `conf:"args"`

	// Cwd is the working directory for the worker process
	Cwd string `conf:"cwd"`

	// HandshakeTimeout is the handshake wait in seconds
	HandshakeTimeout int `conf:"handshake_timeout"`

	// StopTimeout is the graceful-termination grace period in seconds
	StopTimeout int `conf:"stop_timeout"`

	// DiscoveryTimeout is the registry search window in seconds
	DiscoveryTimeout int `conf:"discovery_timeout"`

	// SchemaFile optionally points at a JSON schema the handshake
	// payload must satisfy
	SchemaFile string `conf:"schema_file"`
}

type Config struct {
	// LogLevel is the log level for the application
	LogLevel string `conf:"log_level"`

	// LogFormat is the log format for the application
	LogFormat string `conf:"log_format"`

	// Service is the supervised service configuration
	Service ServiceConfig `conf:"service"`
}

var DefaultConfig = conf.DefaultConfig{
	"log_level":                 "info",
	"log_format":                "production",
	"service.handshake_timeout": 20,
	"service.stop_timeout":      10,
	"service.discovery_timeout": 20,
}
