// Package zap adapts a *zap.Logger to slotcache.Logger.
package zap

import (
	"go.uber.org/zap"

	"github.com/unkn0wn-root/slotcache"
)

var _ slotcache.Logger = Logger{}

type Logger struct{ L *zap.Logger }

// New names the logger "slotcache" so worker events are easy to filter.
func New(l *zap.Logger) Logger { return Logger{L: l.Named("slotcache")} }

func (z Logger) Debug(msg string, f slotcache.Fields) { z.L.Debug(msg, fields(f)...) }
func (z Logger) Info(msg string, f slotcache.Fields)  { z.L.Info(msg, fields(f)...) }
func (z Logger) Warn(msg string, f slotcache.Fields)  { z.L.Warn(msg, fields(f)...) }
func (z Logger) Error(msg string, f slotcache.Fields) { z.L.Error(msg, fields(f)...) }

func fields(f slotcache.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		out = append(out, zap.Any(k, v))
	}
	return out
}
