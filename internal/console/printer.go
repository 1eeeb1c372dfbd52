// Package console is the interactive terminal surface: colored status lines,
// raw keypress decoding and the device chooser.
package console

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

const (
	ansiBlue  = "\x1b[34m"
	ansiRed   = "\x1b[31m"
	ansiReset = "\x1b[0m"
)

// Printer writes human-facing lines. On a terminal it colors highlights and
// ends lines with CRLF so output stays aligned while stdin is in raw mode.
type Printer struct {
	mu    sync.Mutex
	w     io.Writer
	color bool
	eol   string
}

func NewPrinter(f *os.File) *Printer {
	tty := isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	if !tty {
		return NewPlainPrinter(f)
	}
	return &Printer{w: colorable.NewColorable(f), color: true, eol: "\r\n"}
}

// NewPlainPrinter never colors and uses bare newlines.
func NewPlainPrinter(w io.Writer) *Printer {
	return &Printer{w: w, eol: "\n"}
}

func (p *Printer) Blue(s string) string {
	return p.paint(ansiBlue, s)
}

func (p *Printer) Red(s string) string {
	return p.paint(ansiRed, s)
}

func (p *Printer) paint(code, s string) string {
	if !p.color {
		return s
	}
	return code + s + ansiReset
}

func (p *Printer) Println(a ...any) {
	p.write(fmt.Sprint(a...))
}

func (p *Printer) Printf(format string, a ...any) {
	p.write(fmt.Sprintf(format, a...))
}

// Errorf prints a red line.
func (p *Printer) Errorf(format string, a ...any) {
	p.write(p.Red(fmt.Sprintf(format, a...)))
}

func (p *Printer) write(s string) {
	s = strings.TrimRight(s, "\n")
	if p.eol != "\n" {
		s = strings.ReplaceAll(s, "\n", p.eol)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = io.WriteString(p.w, s+p.eol)
}
