package texsync

import "log/slog"

// GroupOption configures a Group during creation.
//
// Example:
//
//	g := texsync.NewGroup(storage, mem, texsync.WithLogger(logger))
type GroupOption func(*groupOptions)

// groupOptions holds optional configuration for Group creation.
type groupOptions struct {
	logger *slog.Logger
}

func defaultGroupOptions() groupOptions {
	return groupOptions{
		logger: nil, // Falls back to Logger() on every call.
	}
}

// WithLogger sets a logger used by this group only, instead of the
// package logger set with SetLogger.
func WithLogger(l *slog.Logger) GroupOption {
	return func(o *groupOptions) {
		o.logger = l
	}
}
