// Package progress renders the three status lines of a sync run.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/term"
)

// Lines is the number of status lines a Sink shows.
const Lines = 3

// Sink receives status text. Setting a line clears every line below it.
type Sink interface {
	Set(line int, text string)
}

// New returns a redrawing renderer when f is a terminal and a line-per-update
// renderer otherwise.
func New(f *os.File) Sink {
	if term.IsTerminal(int(f.Fd())) {
		return &Terminal{w: f}
	}
	return &Plain{w: f}
}

type Nop struct{}

func (Nop) Set(int, string) {}

// Terminal redraws the status block in place with ANSI cursor movement.
type Terminal struct {
	mu    sync.Mutex
	w     io.Writer
	lines [Lines]string
	drawn bool
}

func (t *Terminal) Set(line int, text string) {
	if line < 0 || line >= Lines {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lines[line] = text
	for i := line + 1; i < Lines; i++ {
		t.lines[i] = ""
	}
	if t.drawn {
		fmt.Fprintf(t.w, "\x1b[%dA", Lines)
	}
	for _, l := range t.lines {
		fmt.Fprintf(t.w, "\r\x1b[2K%s\n", l)
	}
	t.drawn = true
}

// Plain prints the two upper lines as they change. Byte counters on the
// bottom line are dropped so logs stay readable.
type Plain struct {
	mu    sync.Mutex
	w     io.Writer
	lines [Lines]string
}

func (p *Plain) Set(line int, text string) {
	if line < 0 || line >= Lines {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	changed := p.lines[line] != text
	p.lines[line] = text
	for i := line + 1; i < Lines; i++ {
		p.lines[i] = ""
	}
	if changed && line < Lines-1 && text != "" {
		fmt.Fprintln(p.w, text)
	}
}
