// Package render generates TMDL text for tables and relationships. Output
// is byte-stable for stable input: fixed column order, tab indentation and
// CRLF line endings, as required by the consuming desktop tool.
package render

import (
	"bytes"
	"fmt"
)

// crlf is mandatory in generated files; the consuming desktop tool is
// Windows-convention-sensitive.
const crlf = "\r\n"

// printer accumulates tab-indented TMDL text.
type printer struct {
	buf   bytes.Buffer
	depth int
}

func (p *printer) line(format string, args ...any) {
	for i := 0; i < p.depth; i++ {
		p.buf.WriteByte('\t')
	}
	fmt.Fprintf(&p.buf, format, args...)
	p.buf.WriteString(crlf)
}

// raw writes pre-formatted text verbatim, normalizing line endings to CRLF.
func (p *printer) raw(text string) {
	normalized := bytes.ReplaceAll([]byte(text), []byte("\r\n"), []byte("\n"))
	for _, l := range bytes.Split(bytes.TrimRight(normalized, "\n"), []byte("\n")) {
		p.buf.Write(l)
		p.buf.WriteString(crlf)
	}
}

func (p *printer) blank() {
	p.buf.WriteString(crlf)
}

func (p *printer) indent() { p.depth++ }

func (p *printer) dedent() {
	if p.depth > 0 {
		p.depth--
	}
}

func (p *printer) String() string {
	return p.buf.String()
}
