package httpapi

import (
	"context"

	"github.com/rs/zerolog"
)

// defaultMaxBodyBytes bounds JSON request bodies when Options leaves it unset.
const defaultMaxBodyBytes int64 = 1 << 20

// CORSOptions configures cross-origin access. Disabled means no CORS middleware.
type CORSOptions struct {
	Enabled        bool
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// Options configures the router.
type Options struct {
	Logger zerolog.Logger
	// LogLevel is the default per-request log level; requests may override it
	// with ?log= or the X-Log-Level header.
	LogLevel     zerolog.Level
	MaxBodyBytes int64
	CORS         CORSOptions
	// BaseContext is canceled on shutdown; in-flight loads and completions
	// stop with it. Defaults to context.Background.
	BaseContext context.Context
}

func (o Options) maxBody() int64 {
	if o.MaxBodyBytes <= 0 {
		return defaultMaxBodyBytes
	}
	return o.MaxBodyBytes
}

func (o Options) baseContext() context.Context {
	if o.BaseContext == nil {
		return context.Background()
	}
	return o.BaseContext
}
