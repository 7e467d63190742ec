package logger

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

// ANSI color codes for level-colorized output on a real terminal.
const (
	colorReset  = "\033[0m"
	colorGray   = "\033[90m"
	colorBlue   = "\033[34m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
)

// Handler is a slog.Handler that renders a single colorized line per
// record when writing to an interactive terminal, and falls back to
// slog's own JSON encoding otherwise (log aggregation, redirected
// output, CI).
type Handler struct {
	opts   *slog.HandlerOptions
	out    io.Writer
	color  bool
	mu     *sync.Mutex
	json   *slog.JSONHandler
	attrs  []slog.Attr
	groups []string
}

// NewHandler returns a Handler writing to os.Stderr, auto-detecting
// whether it is connected to a terminal to decide between colorized
// text and JSON.
func NewHandler(opts *slog.HandlerOptions) *Handler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	out := os.Stderr
	isTerm := term.IsTerminal(int(out.Fd()))
	return &Handler{
		opts:  opts,
		out:   out,
		color: isTerm,
		mu:    &sync.Mutex{},
		json:  slog.NewJSONHandler(out, opts),
	}
}

// Enabled reports whether the handler processes records at level.
func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.opts.Level == nil {
		return level >= slog.LevelInfo
	}
	return level >= h.opts.Level.Level()
}

// Handle processes a single log record.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if !h.color {
		return h.json.Handle(ctx, r)
	}

	var buf bytes.Buffer
	buf.WriteString(colorGray)
	buf.WriteString(r.Time.Format(time.RFC3339))
	buf.WriteString(colorReset)
	buf.WriteByte(' ')

	buf.WriteString(levelColor(r.Level))
	fmt.Fprintf(&buf, "%-5s", r.Level.String())
	buf.WriteString(colorReset)
	buf.WriteByte(' ')

	if h.opts.AddSource && r.PC != 0 {
		fs := sourceLine(r)
		if fs != "" {
			buf.WriteString(colorGray)
			buf.WriteString(fs)
			buf.WriteString(colorReset)
			buf.WriteByte(' ')
		}
	}

	buf.WriteString(r.Message)

	attrs := make([]string, 0, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs = append(attrs, formatAttr(h.groups, a))
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, formatAttr(h.groups, a))
		return true
	})
	sort.Strings(attrs)
	for _, a := range attrs {
		buf.WriteByte(' ')
		buf.WriteString(a)
	}
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.Write(buf.Bytes())
	return err
}

// WithAttrs returns a new Handler with attrs appended to every record.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.json = h.json.WithAttrs(attrs).(*slog.JSONHandler)
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &next
}

// WithGroup returns a new Handler that nests subsequent attrs under name.
func (h *Handler) WithGroup(name string) slog.Handler {
	next := *h
	next.json = h.json.WithGroup(name).(*slog.JSONHandler)
	next.groups = append(append([]string(nil), h.groups...), name)
	return &next
}

func levelColor(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return colorRed
	case l >= slog.LevelWarn:
		return colorYellow
	case l >= slog.LevelInfo:
		return colorBlue
	default:
		return colorGray
	}
}

func formatAttr(groups []string, a slog.Attr) string {
	key := a.Key
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + key
	}
	return fmt.Sprintf("%s=%v", key, a.Value.Any())
}

func sourceLine(r slog.Record) string {
	frames := runtime.CallersFrames([]uintptr{r.PC})
	frame, _ := frames.Next()
	if frame.File == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", frame.File, frame.Line)
}
