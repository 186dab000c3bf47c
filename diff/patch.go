package diff

import (
	"fmt"
	"strings"

	"github.com/vcskit/gitcore/ginternals/githash"
	"github.com/vcskit/gitcore/ginternals/object"
)

// abbrevLength is the number of chars used to display an id in the
// header of a patch
const abbrevLength = 7

// Hunk represents a group of changes of a file, and the lines
// surrounding them
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Lines    []Line
}

// Header returns the header of the hunk, as in
// @@ -1,3 +1,4 @@
func (h *Hunk) Header() string {
	return fmt.Sprintf("@@ -%s +%s @@", hunkRange(h.OldStart, h.OldLines), hunkRange(h.NewStart, h.NewLines))
}

func hunkRange(start, count int) string {
	if count == 1 {
		return fmt.Sprintf("%d", start)
	}
	return fmt.Sprintf("%d,%d", start, count)
}

// Patch contains the textual changes of a Delta
type Patch struct {
	Delta Delta
	Hunks []Hunk

	oldID githash.Oid
	newID githash.Oid
}

// IsBinary returns whether the patch is for a binary file, in which
// case it has no hunks
func (p *Patch) IsBinary() bool {
	return p.Delta.Flags&FlagBinary != 0
}

// LineStats returns the number of lines added and removed by the patch
func (p *Patch) LineStats() (insertions, deletions int) {
	for _, h := range p.Hunks {
		ins, del := countChanges(h.Lines)
		insertions += ins
		deletions += del
	}
	return insertions, deletions
}

// Patch returns the patch of the delta at the given position
func (d *Diff) Patch(i int) (*Patch, error) {
	if i < 0 || i >= len(d.deltas) {
		return nil, fmt.Errorf("no delta at index %d", i)
	}
	delta := d.deltas[i]
	oldData, newData, err := d.loadDelta(&delta)
	if err != nil {
		return nil, err
	}

	p := &Patch{
		Delta: delta,
		oldID: d.fileID(&delta.OldFile, oldData),
		newID: d.fileID(&delta.NewFile, newData),
	}
	if delta.Status == StatusUnmodified || p.IsBinary() {
		return p, nil
	}
	p.Hunks = d.hunks(d.lineScript(oldData, newData))
	return p, nil
}

// Patches returns the patches of all the deltas
func (d *Diff) Patches() ([]*Patch, error) {
	patches := make([]*Patch, 0, len(d.deltas))
	for i := range d.deltas {
		p, err := d.Patch(i)
		if err != nil {
			return nil, err
		}
		patches = append(patches, p)
	}
	return patches, nil
}

// fileID returns the id of a file, computing it from its content if
// we don't know it yet (which happens for files of the working tree)
func (d *Diff) fileID(f *File, data []byte) githash.Oid {
	if !f.Exists() || f.Flags&FlagValidID != 0 || f.Mode.IsDir() {
		return f.ID
	}
	return object.New(d.hash, object.TypeBlob, data).ID()
}

// hunks groups the changes of a script into hunks
func (d *Diff) hunks(script []Line) []Hunk {
	ctx := d.opts.ContextLines
	if ctx < 0 {
		ctx = 0
	}
	inter := d.opts.InterhunkLines
	if inter < 0 {
		inter = 0
	}

	hunks := []Hunk{}
	i := 0
	for i < len(script) {
		if script[i].Origin == OriginContext {
			i++
			continue
		}

		// we found a change, let's find where the hunk ends. A hunk
		// ends when there are too many context lines before the next
		// change
		start := i - ctx
		if start < 0 {
			start = 0
		}
		end := i
		for j := i; j < len(script); {
			if script[j].Origin != OriginContext {
				end = j + 1
				j++
				continue
			}
			gap := 0
			for j < len(script) && script[j].Origin == OriginContext {
				gap++
				j++
			}
			if j == len(script) || gap > 2*ctx+inter {
				break
			}
		}
		stop := end + ctx
		if stop > len(script) {
			stop = len(script)
		}
		hunks = append(hunks, newHunk(script[start:stop], script[:start]))
		i = stop
	}
	return hunks
}

// newHunk creates a hunk from its lines. before contains all the
// lines of the script that come before the hunk
func newHunk(lines, before []Line) Hunk {
	h := Hunk{
		Lines: make([]Line, len(lines)),
	}
	copy(h.Lines, lines)

	oldBefore, newBefore := 0, 0
	for _, l := range before {
		if l.Origin != OriginAddition {
			oldBefore++
		}
		if l.Origin != OriginDeletion {
			newBefore++
		}
	}
	for _, l := range lines {
		if l.Origin != OriginAddition {
			h.OldLines++
		}
		if l.Origin != OriginDeletion {
			h.NewLines++
		}
	}
	// an empty side starts at the line before the hunk
	h.OldStart = oldBefore
	if h.OldLines > 0 {
		h.OldStart++
	}
	h.NewStart = newBefore
	if h.NewLines > 0 {
		h.NewStart++
	}
	return h
}

func abbrev(oid githash.Oid) string {
	s := oid.String()
	if len(s) > abbrevLength {
		return s[:abbrevLength]
	}
	return s
}

// String returns the patch in the git format
func (p *Patch) String() string {
	delta := p.Delta
	switch delta.Status {
	case StatusUnmodified, StatusIgnored:
		return ""
	}

	oldPath := delta.OldFile.Path
	newPath := delta.NewFile.Path
	if oldPath == "" {
		oldPath = newPath
	}
	if newPath == "" {
		newPath = oldPath
	}

	b := new(strings.Builder)
	fmt.Fprintf(b, "diff --git a/%s b/%s\n", oldPath, newPath)

	oldExists := delta.OldFile.Exists()
	newExists := delta.NewFile.Exists()
	switch {
	case !oldExists && newExists:
		fmt.Fprintf(b, "new file mode %s\n", delta.NewFile.Mode.String())
	case oldExists && !newExists:
		fmt.Fprintf(b, "deleted file mode %s\n", delta.OldFile.Mode.String())
	case delta.OldFile.Mode != delta.NewFile.Mode:
		fmt.Fprintf(b, "old mode %s\n", delta.OldFile.Mode.String())
		fmt.Fprintf(b, "new mode %s\n", delta.NewFile.Mode.String())
	}

	switch delta.Status {
	case StatusRenamed:
		fmt.Fprintf(b, "similarity index %d%%\n", delta.Similarity)
		fmt.Fprintf(b, "rename from %s\n", oldPath)
		fmt.Fprintf(b, "rename to %s\n", newPath)
	case StatusCopied:
		fmt.Fprintf(b, "similarity index %d%%\n", delta.Similarity)
		fmt.Fprintf(b, "copy from %s\n", oldPath)
		fmt.Fprintf(b, "copy to %s\n", newPath)
	}

	if p.oldID == p.newID && len(p.Hunks) == 0 {
		return b.String()
	}
	fmt.Fprintf(b, "index %s..%s", abbrev(p.oldID), abbrev(p.newID))
	if oldExists && newExists && delta.OldFile.Mode == delta.NewFile.Mode {
		fmt.Fprintf(b, " %s", delta.OldFile.Mode.String())
	}
	b.WriteByte('\n')

	from := "a/" + oldPath
	if !oldExists {
		from = "/dev/null"
	}
	to := "b/" + newPath
	if !newExists {
		to = "/dev/null"
	}

	if p.IsBinary() {
		fmt.Fprintf(b, "Binary files %s and %s differ\n", from, to)
		return b.String()
	}
	if len(p.Hunks) == 0 {
		return b.String()
	}

	fmt.Fprintf(b, "--- %s\n", from)
	fmt.Fprintf(b, "+++ %s\n", to)
	for _, h := range p.Hunks {
		b.WriteString(h.Header())
		b.WriteByte('\n')
		for _, l := range h.Lines {
			b.WriteByte(l.Origin)
			b.WriteString(l.Content)
			if !strings.HasSuffix(l.Content, "\n") {
				b.WriteString("\n\\ No newline at end of file\n")
			}
		}
	}
	return b.String()
}
