// Package log installs the process-wide apex/log handler.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/json"
	"github.com/apex/log/handlers/text"
)

// Formats accepted by Init.
const (
	FormatText    = "text"
	FormatJSON    = "json"
	FormatCompact = "compact"
)

// Init sets the level and output format of the default logger. Output goes
// to stderr so command output on stdout stays clean.
func Init(level, format string) error {
	return InitTo(os.Stderr, level, format)
}

// InitTo is Init with an explicit writer.
func InitTo(w io.Writer, level, format string) error {
	if level == "" {
		level = "info"
	}
	lvl, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("log: %w", err)
	}
	h, err := handler(w, format)
	if err != nil {
		return err
	}
	log.SetHandler(h)
	log.SetLevel(lvl)
	return nil
}

func handler(w io.Writer, format string) (log.Handler, error) {
	switch strings.ToLower(format) {
	case "", FormatText:
		return text.New(w), nil
	case FormatJSON:
		return json.New(w), nil
	case FormatCompact:
		return &CompactHandler{w: w}, nil
	default:
		return nil, fmt.Errorf("log: unknown format %q", format)
	}
}

// CompactHandler writes "timestamp L message key=value..." lines.
type CompactHandler struct {
	mu sync.Mutex
	w  io.Writer
}

// HandleLog implements the log.Handler interface
func (h *CompactHandler) HandleLog(e *log.Entry) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %.1s %s", e.Timestamp.Format(time.DateTime), strings.ToUpper(e.Level.String()), e.Message)
	for _, name := range e.Fields.Names() {
		fmt.Fprintf(&b, " %s=%v", name, e.Fields.Get(name))
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}
