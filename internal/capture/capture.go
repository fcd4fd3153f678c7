// Package capture renders a worker's console output. In remote mode every
// print becomes a self-contained HTML fragment held in a bounded buffer; in
// attended mode output goes straight to a terminal.
package capture

import (
	"fmt"
	"html"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/loykin/taskconsole/internal/metrics"
)

type Mode int

const (
	Attended Mode = iota
	Remote
)

func (m Mode) String() string {
	if m == Remote {
		return "remote"
	}
	return "attended"
}

type Options struct {
	Mode     Mode
	Capacity int       // remote buffer size, DefaultCapacity when zero
	Out      io.Writer // attended destination, os.Stdout when nil
	Mirror   io.Writer // optional plain-text copy of every print
	Logger   *slog.Logger
}

type Capture struct {
	mode   Mode
	buf    *Buffer
	out    io.Writer
	logger *slog.Logger

	printMu sync.Mutex
	mirror  io.Writer

	mu           sync.Mutex
	lastReported string
}

func New(opts Options) *Capture {
	c := &Capture{
		mode:   opts.Mode,
		out:    opts.Out,
		mirror: opts.Mirror,
		logger: opts.Logger,
	}
	if c.out == nil {
		c.out = os.Stdout
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.mode == Remote {
		c.buf = NewBuffer(opts.Capacity)
	}
	return c
}

func (c *Capture) Mode() Mode { return c.mode }

// Print renders the markup text of its operands, formatted as fmt.Sprint.
func (c *Capture) Print(a ...any) { c.write(fmt.Sprint(a...)) }

func (c *Capture) Printf(format string, a ...any) { c.write(fmt.Sprintf(format, a...)) }

func (c *Capture) write(text string) {
	segs := parseMarkup(text)

	c.printMu.Lock()
	defer c.printMu.Unlock()
	if c.mirror != nil {
		if _, err := io.WriteString(c.mirror, plainText(segs)+"\n"); err != nil {
			c.logger.Debug("Mirror write failed", "error", err)
		}
	}
	if c.mode == Attended {
		_, _ = io.WriteString(c.out, renderTerminal(segs))
		return
	}
	frag, err := renderFragment(segs)
	if err != nil {
		c.logger.Warn("Falling back to plain fragment", "error", err)
		frag = "<code>" + html.EscapeString(plainText(segs)) + "\n</code>"
	}
	c.buf.Append(frag)
	metrics.IncFragments()
}

// FullOutput concatenates every retained fragment, oldest first. Attended
// captures keep nothing and return "".
func (c *Capture) FullOutput() string {
	if c.buf == nil {
		return ""
	}
	return c.buf.String()
}

// Update returns the full output if it differs from what the previous
// Update call returned, and "" otherwise.
func (c *Capture) Update() string {
	if c.buf == nil {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.buf.String()
	if out == c.lastReported {
		return ""
	}
	c.lastReported = out
	return out
}

// Len reports how many fragments are retained.
func (c *Capture) Len() int {
	if c.buf == nil {
		return 0
	}
	return c.buf.Len()
}

// Close detaches and closes the mirror if it is closable. Prints after
// Close still reach the buffer or terminal.
func (c *Capture) Close() error {
	c.printMu.Lock()
	defer c.printMu.Unlock()
	m := c.mirror
	c.mirror = nil
	if cl, ok := m.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}
