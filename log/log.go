// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package log is a thin facade over go-ethereum's slog based logger.
//
// Package level loggers are created with WithContext at init time; they resolve the
// root logger on every record so a handler installed later by Init applies to them.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"

	ethlog "github.com/ethereum/go-ethereum/log"
	"github.com/mattn/go-isatty"
)

// Logger writes leveled key/value records.
type Logger interface {
	Trace(msg string, ctx ...any)
	Debug(msg string, ctx ...any)
	Info(msg string, ctx ...any)
	Warn(msg string, ctx ...any)
	Error(msg string, ctx ...any)
	Enabled(level slog.Level) bool
}

type contextLogger struct {
	ctx []any
}

// WithContext returns a logger that prefixes every record with ctx.
func WithContext(ctx ...any) Logger {
	return &contextLogger{ctx: ctx}
}

func (l *contextLogger) write(level slog.Level, msg string, ctx []any) {
	all := make([]any, 0, len(l.ctx)+len(ctx))
	all = append(all, l.ctx...)
	all = append(all, ctx...)
	ethlog.Root().Log(level, msg, all...)
}

func (l *contextLogger) Trace(msg string, ctx ...any) { l.write(ethlog.LevelTrace, msg, ctx) }
func (l *contextLogger) Debug(msg string, ctx ...any) { l.write(ethlog.LevelDebug, msg, ctx) }
func (l *contextLogger) Info(msg string, ctx ...any)  { l.write(ethlog.LevelInfo, msg, ctx) }
func (l *contextLogger) Warn(msg string, ctx ...any)  { l.write(ethlog.LevelWarn, msg, ctx) }
func (l *contextLogger) Error(msg string, ctx ...any) { l.write(ethlog.LevelError, msg, ctx) }

func (l *contextLogger) Enabled(level slog.Level) bool {
	return ethlog.Root().Enabled(context.Background(), level)
}

// ParseLevel converts a verbosity number (0 crit ... 5 trace) into a level.
func ParseLevel(verbosity int) slog.Level {
	return ethlog.FromLegacyLevel(verbosity)
}

// Init installs the default handler writing to stderr.
func Init(level slog.Level, json bool) {
	InitWithWriter(os.Stderr, level, json)
}

// InitWithWriter installs the default handler writing to w.
func InitWithWriter(w io.Writer, level slog.Level, json bool) {
	var handler slog.Handler
	if json {
		handler = ethlog.JSONHandlerWithLevel(w, level)
	} else {
		useColor := false
		if f, ok := w.(*os.File); ok {
			useColor = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
		}
		handler = ethlog.NewTerminalHandlerWithLevel(w, level, useColor)
	}
	ethlog.SetDefault(ethlog.NewLogger(handler))
}
