// Package config loads the server's tunable parameters, grounded on the
// teacher's toml-tagged pkg/config.FrontendParameters.
package config

import (
	"time"

	"github.com/BurntSushi/toml"
)

// ServerParameters collects the timeouts and throttles spec.md §5 names.
type ServerParameters struct {
	// Host is the listen address. default: "0.0.0.0"
	Host string `toml:"host"`

	// Port is the TCP port the server listens on. default: 9440
	Port int `toml:"port"`

	// UnixSocketPath optionally adds a second listener on a unix domain
	// socket, alongside the TCP listener. Empty disables it.
	UnixSocketPath string `toml:"unixSocketPath"`

	// ReceiveTimeout bounds a single socket read. default: 300s
	ReceiveTimeout Duration `toml:"receiveTimeout"`

	// SendTimeout bounds a single socket write. default: 300s
	SendTimeout Duration `toml:"sendTimeout"`

	// PollInterval bounds how long the connection's main loop sleeps
	// between shutdown checks while idle. default: 10ms
	PollInterval Duration `toml:"pollInterval"`

	// InteractiveDelay throttles cancellation polling and progress
	// emission. default: 100ms
	InteractiveDelay Duration `toml:"interactiveDelay"`

	// LogPath, when non-empty, routes logs to a rotated file instead of
	// stderr.
	LogPath string `toml:"logPath"`

	// LogLevel is one of debug|info|warn|error. default: "info"
	LogLevel string `toml:"logLevel"`
}

// Duration wraps time.Duration so it can be parsed from a toml string like
// "300s", matching the teacher's config field comments that spell out units.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Default returns the parameter set the server runs with when no config
// file is supplied.
func Default() *ServerParameters {
	return &ServerParameters{
		Host:             "0.0.0.0",
		Port:             9440,
		ReceiveTimeout:   Duration{300 * time.Second},
		SendTimeout:      Duration{300 * time.Second},
		PollInterval:     Duration{10 * time.Millisecond},
		InteractiveDelay: Duration{100 * time.Millisecond},
		LogLevel:         "info",
	}
}

// Load parses a toml file into a ServerParameters seeded with Default(),
// so a config file only needs to set the fields it overrides.
func Load(path string) (*ServerParameters, error) {
	sv := Default()
	if _, err := toml.DecodeFile(path, sv); err != nil {
		return nil, err
	}
	return sv, nil
}
