package printing

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	esc = 0x1b
	gs  = 0x1d
	lf  = 0x0a
)

type Align byte

const (
	AlignLeft   Align = 0
	AlignCenter Align = 1
	AlignRight  Align = 2
)

var (
	cmdInit   = []byte{esc, '@'}
	cmdCut    = []byte{gs, 'V', 0x41, 0x10}
	cmdDrawer = []byte{esc, 'p', 0x00, 0x19, 0xfa}
)

// Document accumulates an ESC/POS byte stream. Width is in characters:
// 32 for 58mm paper, 48 for 80mm.
type Document struct {
	buf   bytes.Buffer
	width int
}

func NewDocument(width int) *Document {
	if width <= 0 {
		width = 32
	}
	d := &Document{width: width}
	d.buf.Write(cmdInit)
	return d
}

func (d *Document) Width() int {
	return d.width
}

func (d *Document) Align(a Align) *Document {
	d.buf.Write([]byte{esc, 'a', byte(a)})
	return d
}

func (d *Document) Bold(on bool) *Document {
	b := byte(0)
	if on {
		b = 1
	}
	d.buf.Write([]byte{esc, 'E', b})
	return d
}

// Large toggles double width and height.
func (d *Document) Large(on bool) *Document {
	size := byte(0x00)
	if on {
		size = 0x11
	}
	d.buf.Write([]byte{gs, '!', size})
	return d
}

func (d *Document) Text(s string) *Document {
	d.buf.WriteString(s)
	d.buf.WriteByte(lf)
	return d
}

func (d *Document) Textf(format string, args ...any) *Document {
	return d.Text(fmt.Sprintf(format, args...))
}

// Lines writes every line of a multi-line block such as a template header.
func (d *Document) Lines(block string) *Document {
	for _, line := range strings.Split(strings.TrimRight(block, "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		d.Text(line)
	}
	return d
}

func (d *Document) Feed(n int) *Document {
	for i := 0; i < n; i++ {
		d.buf.WriteByte(lf)
	}
	return d
}

func (d *Document) Separator() *Document {
	return d.Text(strings.Repeat("-", d.width))
}

// KeyValue writes key left-aligned and value right-aligned on one line.
func (d *Document) KeyValue(key, value string) *Document {
	return d.Text(d.spread(key, value))
}

func (d *Document) ItemLine(qty string, name string, total string) *Document {
	return d.Text(d.spread(qty+" "+name, total))
}

func (d *Document) Cut() *Document {
	d.buf.Write(cmdCut)
	return d
}

func (d *Document) Bytes() []byte {
	return d.buf.Bytes()
}

func (d *Document) spread(left, right string) string {
	gap := d.width - utf8.RuneCountInString(left) - utf8.RuneCountInString(right)
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + right
}

func money(v float64) string {
	return fmt.Sprintf("%.2f", v)
}
