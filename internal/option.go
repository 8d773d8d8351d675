package internal

import "io"

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config  *Config
	version string
	mcp     bool
	logOut  io.Writer
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithVersion sets the version reported to MCP clients.
func WithVersion(v string) Option {
	return func(a *application) {
		a.version = v
	}
}

// WithMCPStdio serves the MCP tools on stdin/stdout instead of the HTTP
// API. Logs go to stderr so they do not corrupt the protocol stream.
func WithMCPStdio() Option {
	return func(a *application) {
		a.mcp = true
	}
}

// WithLogOutput overrides where the JSON logs are written.
func WithLogOutput(w io.Writer) Option {
	return func(a *application) {
		a.logOut = w
	}
}
