package diff

import (
	"bytes"

	"github.com/pmezard/go-difflib/difflib"
)

// Line origins
const (
	OriginContext  = ' '
	OriginAddition = '+'
	OriginDeletion = '-'
)

// Line is a line of a Hunk
type Line struct {
	// Origin is one of OriginContext, OriginAddition, or
	// OriginDeletion
	Origin byte
	// Content contains the line, including its line feed if any
	Content string
	// OldLineNo is the line number in the old file, 0 for additions
	OldLineNo int
	// NewLineNo is the line number in the new file, 0 for deletions
	NewLineNo int
}

// splitLines splits data in lines, each line keeping its line feed
func splitLines(data []byte) [][]byte {
	lines := [][]byte{}
	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			lines = append(lines, data)
			break
		}
		lines = append(lines, data[:i+1])
		data = data[i+1:]
	}
	return lines
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}

// normalizeLine applies the whitespace options to a line, so it can be
// compared with other lines
func (d *Diff) normalizeLine(line []byte) []byte {
	switch {
	case d.opts.has(IgnoreWhitespace):
		out := make([]byte, 0, len(line))
		for _, c := range line {
			if !isSpace(c) {
				out = append(out, c)
			}
		}
		return out
	case d.opts.has(IgnoreWhitespaceChange):
		out := make([]byte, 0, len(line))
		inSpace := false
		for _, c := range line {
			if isSpace(c) {
				inSpace = true
				continue
			}
			if inSpace && len(out) > 0 {
				out = append(out, ' ')
			}
			inSpace = false
			out = append(out, c)
		}
		return out
	case d.opts.has(IgnoreWhitespaceEOL):
		return bytes.TrimRightFunc(line, func(r rune) bool {
			return r < 0x80 && isSpace(byte(r))
		})
	default:
		return line
	}
}

// lineScript returns the list of lines needed to go from a version of
// a file to another
func (d *Diff) lineScript(oldData, newData []byte) []Line {
	oldLines := splitLines(oldData)
	newLines := splitLines(newData)
	a := make([]string, len(oldLines))
	for i, l := range oldLines {
		a[i] = string(d.normalizeLine(l))
	}
	b := make([]string, len(newLines))
	for i, l := range newLines {
		b[i] = string(d.normalizeLine(l))
	}

	script := make([]Line, 0, len(a)+len(b))
	m := difflib.NewMatcherWithJunk(a, b, false, nil)
	for _, op := range m.GetOpCodes() {
		switch op.Tag {
		case 'e':
			for i, j := op.I1, op.J1; i < op.I2; i, j = i+1, j+1 {
				script = append(script, Line{
					Origin:    OriginContext,
					Content:   string(newLines[j]),
					OldLineNo: i + 1,
					NewLineNo: j + 1,
				})
			}
		case 'd', 'r', 'i':
			for i := op.I1; i < op.I2; i++ {
				script = append(script, Line{
					Origin:    OriginDeletion,
					Content:   string(oldLines[i]),
					OldLineNo: i + 1,
				})
			}
			for j := op.J1; j < op.J2; j++ {
				script = append(script, Line{
					Origin:    OriginAddition,
					Content:   string(newLines[j]),
					NewLineNo: j + 1,
				})
			}
		}
	}
	return script
}

// countChanges returns the number of added and deleted lines of a
// script
func countChanges(script []Line) (insertions, deletions int) {
	for _, l := range script {
		switch l.Origin {
		case OriginAddition:
			insertions++
		case OriginDeletion:
			deletions++
		}
	}
	return insertions, deletions
}
