// File: internal/console/printer.go
// Brief: Human-readable rendering of engine events.

package console

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fabiosantoscode/scatterbrain-deployments/internal/deployment"
	"github.com/fatih/color"
	"golang.org/x/term"
)

type PrinterOptions struct {
	Color bool
	// Verbose also prints queued and waiting transitions.
	Verbose bool
}

// Printer writes one line per task transition. It is safe for concurrent
// use, as engine observers must be.
type Printer struct {
	mu   sync.Mutex
	w    io.Writer
	opts PrinterOptions

	dim, running, ok, failed, waiting *color.Color
}

func NewPrinter(w io.Writer, opts PrinterOptions) *Printer {
	p := &Printer{
		w:       w,
		opts:    opts,
		dim:     color.New(color.FgHiBlack),
		running: color.New(color.FgCyan),
		ok:      color.New(color.FgGreen),
		failed:  color.New(color.FgRed, color.Bold),
		waiting: color.New(color.FgYellow),
	}
	for _, c := range []*color.Color{p.dim, p.running, p.ok, p.failed, p.waiting} {
		if opts.Color {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p *Printer) ObserveEvent(ev deployment.Event) {
	line := p.format(ev)
	if line == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintln(p.w, line)
}

func (p *Printer) format(ev deployment.Event) string {
	switch ev.Type {
	case deployment.RunStarted:
		return p.dim.Sprintf("%s %s: %s", ev.Phase, ev.RunID, ev.Message)
	case deployment.RunCompleted:
		if ev.Error != "" {
			return p.failed.Sprintf("%s failed: %s", ev.Phase, ev.Message)
		}
		return p.ok.Sprintf("%s finished: %s", ev.Phase, ev.Message)
	case deployment.TaskQueued:
		if !p.opts.Verbose {
			return ""
		}
		return p.row(p.dim, "queued", ev, "")
	case deployment.TaskWaiting:
		if !p.opts.Verbose {
			return ""
		}
		return p.row(p.waiting, "waiting", ev, ev.Message)
	case deployment.TaskRunning:
		return p.row(p.running, "running", ev, "")
	case deployment.TaskSucceeded:
		return p.row(p.ok, "ok", ev, formatDuration(ev.Duration))
	case deployment.TaskFailed:
		return p.row(p.failed, "failed", ev, ev.Error)
	}
	return ""
}

func (p *Printer) row(c *color.Color, status string, ev deployment.Event, detail string) string {
	line := fmt.Sprintf("  %s %-20s %-10s", c.Sprintf("%-8s", status), ev.Name, ev.TypeName)
	if detail != "" {
		line += " " + detail
	}
	return strings.TrimRight(line, " ")
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	if d < time.Millisecond {
		return d.String()
	}
	return d.Round(time.Millisecond).String()
}

// ColorEnabled resolves a --color mode against the writer. "auto" enables
// color only for terminals and honors NO_COLOR.
func ColorEnabled(mode string, w io.Writer) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "always":
		return true, nil
	case "never":
		return false, nil
	case "auto", "":
		if os.Getenv("NO_COLOR") != "" {
			return false, nil
		}
		return isTerminalWriter(w), nil
	default:
		return false, fmt.Errorf("unknown color mode %q (expected auto, always, or never)", mode)
	}
}

func isTerminalWriter(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
