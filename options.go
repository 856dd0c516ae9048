package assetforge

import (
	"log/slog"

	"github.com/birdayz/assetforge/compiler"
)

// Option is a function that configures a Build
type Option func(*Build)

// WithWorkers sets the number of concurrent compile workers
var WithWorkers = func(n int) Option {
	return func(b *Build) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithLog sets the logger for the build
var WithLog = func(log *slog.Logger) Option {
	return func(b *Build) {
		b.log = log
	}
}

// WithEnv sets the compilation environment (target, platform, locale)
var WithEnv = func(env compiler.Env) Option {
	return func(b *Build) {
		b.env = env
	}
}

// WithStoreAddress sets the content store connection string handed to
// external compiler processes so they can open the store themselves
var WithStoreAddress = func(address string) Option {
	return func(b *Build) {
		b.storeAddress = address
	}
}

// WithResourceDir sets the workspace directory for compilers that read
// loose source files
var WithResourceDir = func(dir string) Option {
	return func(b *Build) {
		b.resourceDir = dir
	}
}

// NullWriter is a writer that discards all data
type NullWriter struct{}

func (NullWriter) Write([]byte) (int, error) { return 0, nil }

// NullLogger creates a logger that discards all output
func NullLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(NullWriter{}, nil))
}
