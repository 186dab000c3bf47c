// Package ignore contains a matcher for the gitignore rules
// https://git-scm.com/docs/gitignore
package ignore

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"github.com/spf13/afero"
	"github.com/vcskit/gitcore/internal/gitpath"
)

type pattern struct {
	glob     glob.Glob
	raw      string
	base     string
	negated  bool
	dirOnly  bool
	anchored bool
}

func (p *pattern) match(relPath string, isDir bool) bool {
	if p.dirOnly && !isDir {
		return false
	}
	if p.base != "" {
		if !strings.HasPrefix(relPath, p.base+"/") {
			return false
		}
		relPath = relPath[len(p.base)+1:]
	}
	if p.anchored {
		return p.glob.Match(relPath)
	}
	return p.glob.Match(path.Base(relPath))
}

// Matcher contains a set of ignore rules. The last matching rule wins
type Matcher struct {
	patterns []*pattern
}

// NewMatcher returns an empty matcher
func NewMatcher() *Matcher {
	return &Matcher{}
}

// Len returns the number of rules
func (m *Matcher) Len() int {
	return len(m.patterns)
}

// AddPatterns parses the rules contained in r, and adds them to the
// matcher. base is the directory, relative to the root of the working
// tree, containing the ignore file ("" for the root)
func (m *Matcher) AddPatterns(base string, r io.Reader) error {
	base = strings.Trim(filepath.ToSlash(base), "/")
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		p, err := parseLine(base, sc.Text())
		if err != nil {
			return err
		}
		if p != nil {
			m.patterns = append(m.patterns, p)
		}
	}
	return sc.Err()
}

// AddPattern adds a single rule to the matcher
func (m *Matcher) AddPattern(base, line string) error {
	return m.AddPatterns(base, strings.NewReader(line))
}

func parseLine(base, line string) (*pattern, error) {
	// trailing spaces are ignored unless escaped
	if !strings.HasSuffix(line, `\ `) {
		line = strings.TrimRight(line, " \t")
	}
	if line == "" || strings.HasPrefix(line, "#") {
		return nil, nil
	}

	p := &pattern{raw: line, base: base}
	if strings.HasPrefix(line, "!") {
		p.negated = true
		line = line[1:]
	} else if strings.HasPrefix(line, `\!`) || strings.HasPrefix(line, `\#`) {
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		p.dirOnly = true
		line = strings.TrimRight(line, "/")
	}
	// a slash at the beginning or in the middle anchors the pattern
	// to the directory of the ignore file
	if strings.Contains(line, "/") {
		p.anchored = true
		line = strings.TrimPrefix(line, "/")
	}
	if line == "" {
		return nil, nil
	}

	// "**/" and "/**/" can match zero directories, gobwas/glob
	// needs an explicit alternative for that
	expr := strings.ReplaceAll(line, "/**/", "{/,/**/}")
	if strings.HasPrefix(expr, "**/") {
		expr = "{,**/}" + expr[len("**/"):]
	}
	g, err := glob.Compile(expr, '/')
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", p.raw, err)
	}
	p.glob = g
	return p, nil
}

// Match returns whether the given path, relative to the root of the
// working tree, is ignored.
// A path is ignored if one of its parent directories is ignored
func (m *Matcher) Match(relPath string, isDir bool) bool {
	relPath = strings.Trim(filepath.ToSlash(relPath), "/")
	if relPath == "" || len(m.patterns) == 0 {
		return false
	}
	for i := 0; i < len(relPath); i++ {
		if relPath[i] == '/' && m.matchSelf(relPath[:i], true) {
			return true
		}
	}
	return m.matchSelf(relPath, isDir)
}

func (m *Matcher) matchSelf(relPath string, isDir bool) bool {
	for i := len(m.patterns) - 1; i >= 0; i-- {
		if m.patterns[i].match(relPath, isDir) {
			return !m.patterns[i].negated
		}
	}
	return false
}

// LoadOptions contains the files to load on top of the .gitignore
// files of the working tree
type LoadOptions struct {
	// ExcludesFile is the global ignore file (core.excludesFile)
	ExcludesFile string
	// InfoExclude is the repository's info/exclude file
	InfoExclude string
}

// Load returns a matcher containing the rules of every ignore file
// of the working tree.
// Rules are ordered by precedence: the global file, then info/exclude,
// then the .gitignore files from the root to the deepest directory
func Load(fs afero.Fs, workTree string, opts LoadOptions) (*Matcher, error) {
	m := NewMatcher()
	for _, p := range []string{opts.ExcludesFile, opts.InfoExclude} {
		if p == "" {
			continue
		}
		if err := m.addFile(fs, "", p); err != nil {
			return nil, err
		}
	}

	ignoreFiles := []string{}
	err := afero.Walk(fs, workTree, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() && info.Name() == gitpath.DotGitPath {
			return filepath.SkipDir
		}
		if !info.IsDir() && info.Name() == gitpath.GitIgnoreName {
			ignoreFiles = append(ignoreFiles, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("could not walk %s: %w", workTree, err)
	}

	depth := func(p string) int {
		return strings.Count(filepath.ToSlash(p), "/")
	}
	sort.SliceStable(ignoreFiles, func(i, j int) bool {
		return depth(ignoreFiles[i]) < depth(ignoreFiles[j])
	})
	for _, p := range ignoreFiles {
		rel, err := filepath.Rel(workTree, filepath.Dir(p))
		if err != nil {
			return nil, fmt.Errorf("could not get relative path of %s: %w", p, err)
		}
		if rel == "." {
			rel = ""
		}
		if err := m.addFile(fs, rel, p); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Matcher) addFile(fs afero.Fs, base, p string) error {
	f, err := fs.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("could not open %s: %w", p, err)
	}
	defer f.Close() //nolint:errcheck // read-only
	if err := m.AddPatterns(base, f); err != nil {
		return fmt.Errorf("could not parse %s: %w", p, err)
	}
	return nil
}
