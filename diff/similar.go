package diff

import (
	"bytes"
	"fmt"
	"hash/fnv"
	"sort"

	"github.com/sirupsen/logrus"
)

// SimilarFlag contains the options changing how renames and copies are
// detected
type SimilarFlag uint16

// List of flags that can be used in SimilarOptions
const (
	// FindRenames pairs deleted and added files with similar content
	FindRenames SimilarFlag = 1 << iota
	// FindCopies pairs modified and added files with similar content
	FindCopies
	// FindCopiesFromUnmodified also looks at the unmodified files when
	// looking for copies. The diff needs to have been created with
	// IncludeUnmodified
	FindCopiesFromUnmodified
	// FindRewrites allows the old version of heavily modified files to
	// be the source of a rename
	FindRewrites
	// BreakRewrites splits the heavily modified files into a deletion
	// and an addition
	BreakRewrites
	// FindForUntracked also looks for renames and copies in the
	// untracked files
	FindForUntracked
	// FindExactMatchOnly only pairs files that have the exact same
	// content. Renames are looked for when used without FindRenames
	// or FindCopies
	FindExactMatchOnly
)

// findModes contains the flags that select what to look for. The other
// flags only change how the selected modes work
const findModes = FindRenames | FindCopies | FindCopiesFromUnmodified | FindRewrites | BreakRewrites

// SimilarOptions contains the options used to detect renames and copies
type SimilarOptions struct {
	Flags SimilarFlag
	// RenameThreshold is the minimum similarity (0-100) for a pair to
	// be considered a rename
	RenameThreshold int
	// CopyThreshold is the minimum similarity (0-100) for a pair to be
	// considered a copy
	CopyThreshold int
	// RenameFromRewriteThreshold is the similarity under which a
	// modified file is considered rewritten, and can be the source of
	// a rename
	RenameFromRewriteThreshold int
	// BreakRewriteThreshold is the similarity under which a modified
	// file gets split when BreakRewrites is set
	BreakRewriteThreshold int
	// RenameLimit is the maximum number of sources or targets before
	// the detection falls back to exact matches
	RenameLimit int
}

// DefaultSimilarOptions returns the options used when none are
// provided
func DefaultSimilarOptions() *SimilarOptions {
	return &SimilarOptions{
		Flags:                      FindRenames,
		RenameThreshold:            50,
		CopyThreshold:              50,
		RenameFromRewriteThreshold: 50,
		BreakRewriteThreshold:      60,
		RenameLimit:                200,
	}
}

// withDefaults returns a copy of the options where all the unset values
// are replaced by their default
func (o *SimilarOptions) withDefaults() SimilarOptions {
	def := DefaultSimilarOptions()
	if o == nil {
		return *def
	}
	opts := *o
	// modifiers without a mode apply to the default mode
	if opts.Flags&findModes == 0 {
		opts.Flags |= def.Flags
	}
	if opts.RenameThreshold <= 0 {
		opts.RenameThreshold = def.RenameThreshold
	}
	if opts.CopyThreshold <= 0 {
		opts.CopyThreshold = def.CopyThreshold
	}
	if opts.RenameFromRewriteThreshold <= 0 {
		opts.RenameFromRewriteThreshold = def.RenameFromRewriteThreshold
	}
	if opts.BreakRewriteThreshold <= 0 {
		opts.BreakRewriteThreshold = def.BreakRewriteThreshold
	}
	if opts.RenameLimit <= 0 {
		opts.RenameLimit = def.RenameLimit
	}
	return opts
}

func (o *SimilarOptions) has(f SimilarFlag) bool {
	return o.Flags&f != 0
}

// sourceKind describes how a delta can be used as the source of a pair
type sourceKind int8

const (
	sourceDeleted sourceKind = iota
	sourceRewrite
	sourceCopy
)

type similarSource struct {
	delta int
	kind  sourceKind
}

// similarPair is a possible rename or copy
type similarPair struct {
	source similarSource
	target int
	score  int
}

// FindSimilar updates the diff by pairing the deltas that correspond
// to renamed or copied files.
// Passing nil uses DefaultSimilarOptions()
func (d *Diff) FindSimilar(o *SimilarOptions) error {
	opts := o.withDefaults()
	sigs := map[string]signature{}

	// the similarity between the 2 sides of the modified files is only
	// needed to find the rewrites
	selfScores := map[int]int{}
	if opts.has(FindRewrites) || opts.has(BreakRewrites) {
		for i := range d.deltas {
			if d.deltas[i].Status != StatusModified {
				continue
			}
			score, err := d.similarity(sigs, &d.deltas[i].OldFile, &d.deltas[i].NewFile)
			if err != nil {
				return err
			}
			selfScores[i] = score
		}
	}

	sources := []similarSource{}
	targets := []int{}
	for i, delta := range d.deltas {
		switch delta.Status {
		case StatusDeleted:
			if opts.has(FindRenames) {
				sources = append(sources, similarSource{delta: i, kind: sourceDeleted})
			}
		case StatusModified:
			if opts.has(FindRewrites) && selfScores[i] < opts.RenameFromRewriteThreshold {
				sources = append(sources, similarSource{delta: i, kind: sourceRewrite})
			} else if opts.has(FindCopies) {
				sources = append(sources, similarSource{delta: i, kind: sourceCopy})
			}
		case StatusUnmodified:
			if opts.has(FindCopies) && opts.has(FindCopiesFromUnmodified) {
				sources = append(sources, similarSource{delta: i, kind: sourceCopy})
			}
		case StatusAdded:
			targets = append(targets, i)
		case StatusUntracked:
			if opts.has(FindForUntracked) {
				targets = append(targets, i)
			}
		}
	}

	exactOnly := opts.has(FindExactMatchOnly)
	if !exactOnly && (len(sources) > opts.RenameLimit || len(targets) > opts.RenameLimit) {
		d.logger.WithFields(logrus.Fields{
			"sources": len(sources),
			"targets": len(targets),
			"limit":   opts.RenameLimit,
		}).Warn("too many files to find renames, only exact matches will be detected")
		exactOnly = true
	}

	pairs := []similarPair{}
	for _, t := range targets {
		target := &d.deltas[t]
		for _, s := range sources {
			source := &d.deltas[s.delta]
			if modeKind(source.OldFile.Mode) != modeKind(target.NewFile.Mode) {
				continue
			}
			threshold := opts.RenameThreshold
			if s.kind == sourceCopy {
				threshold = opts.CopyThreshold
			}

			var score int
			switch {
			case source.OldFile.Flags&FlagValidID != 0 && target.NewFile.Flags&FlagValidID != 0 &&
				source.OldFile.ID == target.NewFile.ID:
				score = 100
			case exactOnly:
				continue
			default:
				var err error
				score, err = d.similarity(sigs, &source.OldFile, &target.NewFile)
				if err != nil {
					return err
				}
			}
			if score >= threshold {
				pairs = append(pairs, similarPair{source: s, target: t, score: score})
			}
		}
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		a, b := pairs[i], pairs[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if pa, pb := d.deltas[a.target].Path(), d.deltas[b.target].Path(); pa != pb {
			return pa < pb
		}
		return d.deltas[a.source.delta].OldFile.Path < d.deltas[b.source.delta].OldFile.Path
	})

	usedTargets := map[int]struct{}{}
	usedSources := map[int]struct{}{}
	removed := map[int]struct{}{}
	for _, p := range pairs {
		if _, ok := usedTargets[p.target]; ok {
			continue
		}
		// a file can be copied many times but only renamed once
		if _, ok := usedSources[p.source.delta]; ok && p.source.kind != sourceCopy {
			continue
		}
		usedTargets[p.target] = struct{}{}

		source := &d.deltas[p.source.delta]
		target := &d.deltas[p.target]
		target.OldFile = source.OldFile
		target.Similarity = p.score
		switch p.source.kind {
		case sourceCopy:
			target.Status = StatusCopied
		case sourceDeleted:
			usedSources[p.source.delta] = struct{}{}
			target.Status = StatusRenamed
			removed[p.source.delta] = struct{}{}
		case sourceRewrite:
			usedSources[p.source.delta] = struct{}{}
			target.Status = StatusRenamed
			// the old content moved somewhere else, so what's left is
			// a new file
			source.Status = StatusAdded
			source.OldFile = File{Path: source.NewFile.Path, ID: d.hash.NullOid()}
		}
	}

	deltas := make([]Delta, 0, len(d.deltas))
	for i, delta := range d.deltas {
		if _, ok := removed[i]; ok {
			continue
		}
		if delta.Status == StatusModified && opts.has(BreakRewrites) {
			if _, used := usedSources[i]; !used {
				if score, ok := selfScores[i]; ok && score < opts.BreakRewriteThreshold {
					deltas = append(deltas,
						Delta{
							Status:  StatusDeleted,
							OldFile: delta.OldFile,
							NewFile: File{Path: delta.OldFile.Path, ID: d.hash.NullOid()},
							Flags:   delta.Flags,
						},
						Delta{
							Status:  StatusAdded,
							OldFile: File{Path: delta.NewFile.Path, ID: d.hash.NullOid()},
							NewFile: delta.NewFile,
							Flags:   delta.Flags,
						})
					continue
				}
			}
		}
		deltas = append(deltas, delta)
	}
	d.deltas = deltas
	d.sort()
	return nil
}

// signature is a multiset of hashed lines (or chunks for binary
// content) used to compute the similarity of 2 files
type signature struct {
	hashes map[uint64]int
	total  int
}

// binaryChunkSize is the size of the blocks binary data are split in
const binaryChunkSize = 64

func (d *Diff) signature(cache map[string]signature, f *File) (signature, error) {
	key := f.Path + "\x00" + f.ID.String()
	if f.Flags&FlagValidID != 0 {
		key = f.ID.String()
	}
	if sig, ok := cache[key]; ok {
		return sig, nil
	}

	data, err := f.content()
	if err != nil {
		return signature{}, fmt.Errorf("could not compute the signature of %s: %w", f.Path, err)
	}

	sig := signature{hashes: map[uint64]int{}}
	add := func(b []byte) {
		h := fnv.New64a()
		h.Write(b) //nolint:errcheck // never fails
		sig.hashes[h.Sum64()]++
		sig.total++
	}

	binary := d.opts.has(ForceBinary) || (!d.opts.has(ForceText) && !d.opts.has(SkipBinaryCheck) && isBinary(data))
	if binary {
		for len(data) > 0 {
			n := binaryChunkSize
			if len(data) < n {
				n = len(data)
			}
			add(data[:n])
			data = data[n:]
		}
	} else {
		for _, line := range splitLines(data) {
			line = d.normalizeLine(line)
			if len(bytes.TrimSpace(line)) == 0 && d.opts.has(IgnoreWhitespace) {
				continue
			}
			add(line)
		}
	}
	cache[key] = sig
	return sig, nil
}

// similarity returns a score between 0 and 100 representing how
// similar the content of 2 files are
func (d *Diff) similarity(cache map[string]signature, a, b *File) (int, error) {
	if a.Flags&FlagValidID != 0 && b.Flags&FlagValidID != 0 && a.ID == b.ID {
		return 100, nil
	}
	sigA, err := d.signature(cache, a)
	if err != nil {
		return 0, err
	}
	sigB, err := d.signature(cache, b)
	if err != nil {
		return 0, err
	}
	if sigA.total == 0 || sigB.total == 0 {
		return 0, nil
	}

	common := 0
	for h, countA := range sigA.hashes {
		countB := sigB.hashes[h]
		if countB < countA {
			common += countB
		} else {
			common += countA
		}
	}
	return 200 * common / (sigA.total + sigB.total), nil
}
