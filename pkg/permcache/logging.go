package permcache

import (
	"context"
	"log/slog"
)

// slogAdapter bridges the public Logger interface onto slog.Handler
// so internal packages can keep using *slog.Logger.
type slogAdapter struct {
	attrs  []slog.Attr
	logger Logger
	group  string // current group prefix from WithGroup calls
}

// Enabled implements slog.Handler.
func (a slogAdapter) Enabled(ctx context.Context, level slog.Level) bool {
	return true
}

// Handle implements slog.Handler.
func (a slogAdapter) Handle(ctx context.Context, r slog.Record) error {
	args := make([]any, 0, (len(a.attrs)+r.NumAttrs())*2)

	for _, attr := range a.attrs {
		key := attr.Key
		if a.group != "" {
			key = a.group + "." + key
		}
		args = append(args, key, attr.Value.Any())
	}

	r.Attrs(func(attr slog.Attr) bool {
		key := attr.Key
		if a.group != "" {
			key = a.group + "." + key
		}
		args = append(args, key, attr.Value.Any())
		return true
	})

	switch r.Level {
	case slog.LevelDebug:
		a.logger.Debug(r.Message, args...)
	case slog.LevelInfo:
		a.logger.Info(r.Message, args...)
	case slog.LevelWarn:
		a.logger.Warn(r.Message, args...)
	case slog.LevelError:
		a.logger.Error(r.Message, args...)
	}
	return nil
}

// WithAttrs implements slog.Handler.
func (a slogAdapter) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(a.attrs), len(a.attrs)+len(attrs))
	copy(newAttrs, a.attrs)
	newAttrs = append(newAttrs, attrs...)
	return slogAdapter{
		logger: a.logger,
		attrs:  newAttrs,
		group:  a.group,
	}
}

// WithGroup implements slog.Handler.
func (a slogAdapter) WithGroup(name string) slog.Handler {
	newGroup := name
	if a.group != "" {
		newGroup = a.group + "." + name
	}
	return slogAdapter{
		logger: a.logger,
		attrs:  a.attrs,
		group:  newGroup,
	}
}
