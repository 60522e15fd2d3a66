package clog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
)

// HTTPTextHandler renders records as single colored lines for local
// development: timestamp, level, the request columns, then the message,
// with any remaining attributes indented underneath.
type HTTPTextHandler struct {
	w      io.Writer
	color  bool
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

type Option func(*HTTPTextHandler)

func WithLevel(level slog.Level) Option {
	return func(h *HTTPTextHandler) { h.level = level }
}

func WithColor(enabled bool) Option {
	return func(h *HTTPTextHandler) { h.color = enabled }
}

func NewHTTPTextHandler(w io.Writer, opts ...Option) *HTTPTextHandler {
	h := &HTTPTextHandler{
		w:     w,
		color: true,
		level: slog.LevelInfo,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HTTPTextHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level
}

func (h *HTTPTextHandler) clone() *HTTPTextHandler {
	nh := *h
	nh.attrs = append([]slog.Attr(nil), h.attrs...)
	nh.groups = append([]string(nil), h.groups...)
	return &nh
}

func (h *HTTPTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := h.clone()
	nh.attrs = append(nh.attrs, attrs...)
	return nh
}

func (h *HTTPTextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := h.clone()
	nh.groups = append(nh.groups, name)
	return nh
}

func (h *HTTPTextHandler) Handle(_ context.Context, record slog.Record) error {
	kv := map[string]slog.Value{}
	for _, attr := range h.attrs {
		kv[attr.Key] = attr.Value
	}
	record.Attrs(func(attr slog.Attr) bool {
		kv[attr.Key] = attr.Value
		return true
	})

	var b strings.Builder
	b.WriteString(record.Time.Format(time.RFC3339))
	b.WriteByte(' ')
	b.WriteString(h.paint(levelColor(record.Level)).Sprint(record.Level.String()))
	b.WriteByte(' ')

	// The request columns come first in a fixed order so lines align.
	for _, key := range []string{"proto", "method", "path", "status"} {
		if v, ok := kv[key]; ok {
			b.WriteString(v.String())
			b.WriteByte(' ')
			delete(kv, key)
		}
	}

	b.WriteString(h.paint(color.FgGreen).Sprint(record.Message))
	if e, ok := kv[ErrorAttributeKey]; ok {
		delete(kv, ErrorAttributeKey)
		b.WriteByte(' ')
		b.WriteString(h.paint(color.FgRed).Sprint(e.String()))
	}
	b.WriteByte('\n')

	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "    %s=%s\n", k, kv[k])
	}

	// One write per record keeps concurrent log lines from interleaving.
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *HTTPTextHandler) paint(attr color.Attribute) *color.Color {
	c := color.New(attr)
	if h.color {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return c
}

func levelColor(l slog.Level) color.Attribute {
	switch {
	case l >= slog.LevelError:
		return color.FgRed
	case l >= slog.LevelWarn:
		return color.FgYellow
	case l >= slog.LevelInfo:
		return color.FgBlue
	default:
		return color.FgCyan
	}
}
