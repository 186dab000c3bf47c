package git

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vcskit/gitcore/diff"
	"github.com/vcskit/gitcore/ginternals"
	"github.com/vcskit/gitcore/ginternals/object"
)

// StatusFlags represents the state of a file, in the index and in
// the working tree. A file can have multiple flags.
// A zero value means the file is unmodified
type StatusFlags uint16

// List of the flags a file can have
const (
	// StatusIndexNew means the file is in the index but not in HEAD
	StatusIndexNew StatusFlags = 1 << iota
	// StatusIndexModified means the content of the file is different
	// in the index and in HEAD
	StatusIndexModified
	// StatusIndexDeleted means the file is in HEAD but not in the index
	StatusIndexDeleted
	// StatusIndexRenamed means the file has been renamed in the index
	StatusIndexRenamed
	// StatusIndexTypeChange means the file changed kind in the index
	// (file, symlink, submodule)
	StatusIndexTypeChange
	// StatusWtNew means the file is in the working tree but not in
	// the index
	StatusWtNew
	// StatusWtModified means the content of the file is different in
	// the working tree and in the index
	StatusWtModified
	// StatusWtDeleted means the file is in the index but not in the
	// working tree
	StatusWtDeleted
	// StatusWtTypeChange means the file changed kind in the working tree
	StatusWtTypeChange
	// StatusWtRenamed means the file has been renamed in the working
	// tree
	StatusWtRenamed
	// StatusWtUnreadable means the file of the working tree could not
	// be read
	StatusWtUnreadable
	// StatusIgnored means the file is ignored
	StatusIgnored
	// StatusConflicted means the file is in conflict in the index
	StatusConflicted
)

// Has returns whether all the given flags are set
func (s StatusFlags) Has(flags StatusFlags) bool {
	return s&flags == flags
}

var statusNames = []struct {
	flag StatusFlags
	name string
}{
	{StatusIndexNew, "IndexNew"},
	{StatusIndexModified, "IndexModified"},
	{StatusIndexDeleted, "IndexDeleted"},
	{StatusIndexRenamed, "IndexRenamed"},
	{StatusIndexTypeChange, "IndexTypeChange"},
	{StatusWtNew, "WtNew"},
	{StatusWtModified, "WtModified"},
	{StatusWtDeleted, "WtDeleted"},
	{StatusWtTypeChange, "WtTypeChange"},
	{StatusWtRenamed, "WtRenamed"},
	{StatusWtUnreadable, "WtUnreadable"},
	{StatusIgnored, "Ignored"},
	{StatusConflicted, "Conflicted"},
}

func (s StatusFlags) String() string {
	if s == 0 {
		return "Current"
	}
	names := []string{}
	for _, n := range statusNames {
		if s.Has(n.flag) {
			names = append(names, n.name)
		}
	}
	return strings.Join(names, "|")
}

// StatusList contains the state of every file that is not unmodified,
// indexed by path
type StatusList map[string]StatusFlags

// Paths returns the paths of the list, sorted
func (l StatusList) Paths() []string {
	out := make([]string, 0, len(l))
	for p := range l {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// StatusOptions contains the options used to compute the status of
// a repository
type StatusOptions struct {
	// IncludeIgnored reports the ignored files
	IncludeIgnored bool
	// ExcludeUntracked doesn't report the untracked files
	ExcludeUntracked bool
	// RecurseUntrackedDirs reports the files of untracked directories
	// instead of the directories themselves
	RecurseUntrackedDirs bool
	// Pathspec limits the status to the matching paths
	Pathspec []string
	// RenamesHeadToIndex looks for renamed files in the index
	RenamesHeadToIndex bool
	// RenamesIndexToWorkdir looks for renamed files in the working tree
	RenamesIndexToWorkdir bool
}

// HeadTree returns the tree of the commit targeted by HEAD.
// nil is returned if the current branch is unborn
func (r *Repository) HeadTree() (*object.Tree, error) {
	head, err := r.Head()
	if err != nil {
		if errors.Is(err, ErrUnbornBranch) {
			return nil, nil //nolint:nilnil // an unborn branch has no tree
		}
		return nil, err
	}
	c, err := r.Commit(head.Target())
	if err != nil {
		return nil, fmt.Errorf("could not get the commit targeted by HEAD: %w", err)
	}
	t, err := r.Tree(c.TreeID())
	if err != nil {
		return nil, fmt.Errorf("could not get the tree of HEAD: %w", err)
	}
	return t, nil
}

// Status compares HEAD with the index, and the index with the working
// tree, and returns the state of all the files that are not
// unmodified.
// ginternals.ErrBareRepository is returned on a bare repository
func (r *Repository) Status() (StatusList, error) {
	return r.StatusWithOptions(&StatusOptions{})
}

// StatusWithOptions returns the status of the repository using the
// given options
func (r *Repository) StatusWithOptions(opts *StatusOptions) (StatusList, error) {
	if r.IsBare() {
		return nil, ginternals.ErrBareRepository
	}
	if opts == nil {
		opts = &StatusOptions{}
	}

	idx, err := r.Index()
	if err != nil {
		return nil, fmt.Errorf("could not load the index: %w", err)
	}
	snapshot, err := idx.snapshot()
	if err != nil {
		return nil, err
	}
	headTree, err := r.HeadTree()
	if err != nil {
		return nil, err
	}

	flags := diff.Flag(0)
	if ignoreCase, _ := r.cfg.FromFiles().IgnoreCase(); ignoreCase {
		flags |= diff.IgnoreCase
	}
	headToIndex, err := diff.TreeToIndex(r.dotGit, headTree, snapshot, &diff.Options{
		Flags:    flags,
		Pathspec: opts.Pathspec,
		Logger:   r.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not compare HEAD and the index: %w", err)
	}
	if opts.RenamesHeadToIndex {
		if err = headToIndex.FindSimilar(r.similarOptions(diff.FindRenames)); err != nil {
			return nil, fmt.Errorf("could not find the renamed files of the index: %w", err)
		}
	}

	matcher, err := r.ignoreMatcher()
	if err != nil {
		return nil, err
	}
	if !opts.ExcludeUntracked {
		flags |= diff.IncludeUntracked
	}
	if opts.IncludeIgnored {
		flags |= diff.IncludeIgnored
	}
	if opts.RecurseUntrackedDirs {
		flags |= diff.RecurseUntrackedDirs
	}
	indexToWorkdir, err := diff.IndexToWorkdir(r.dotGit, snapshot, r.workTree(), &diff.Options{
		Flags:    flags,
		Pathspec: opts.Pathspec,
		Ignore:   matcher,
		Logger:   r.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not compare the index and the working tree: %w", err)
	}
	if opts.RenamesIndexToWorkdir {
		if err = indexToWorkdir.FindSimilar(r.similarOptions(diff.FindRenames | diff.FindForUntracked)); err != nil {
			return nil, fmt.Errorf("could not find the renamed files of the working tree: %w", err)
		}
	}

	list := StatusList{}
	for _, delta := range headToIndex.Deltas() {
		var flag StatusFlags
		switch delta.Status {
		case diff.StatusAdded:
			flag = StatusIndexNew
		case diff.StatusDeleted:
			flag = StatusIndexDeleted
		case diff.StatusModified:
			flag = StatusIndexModified
		case diff.StatusRenamed:
			flag = StatusIndexRenamed
		case diff.StatusTypeChange:
			flag = StatusIndexTypeChange
		case diff.StatusConflicted:
			flag = StatusConflicted
		default:
			continue
		}
		list[delta.Path()] |= flag
	}
	for _, delta := range indexToWorkdir.Deltas() {
		var flag StatusFlags
		switch delta.Status {
		case diff.StatusAdded, diff.StatusUntracked:
			flag = StatusWtNew
		case diff.StatusDeleted:
			flag = StatusWtDeleted
		case diff.StatusModified:
			flag = StatusWtModified
		case diff.StatusRenamed:
			flag = StatusWtRenamed
		case diff.StatusTypeChange:
			flag = StatusWtTypeChange
		case diff.StatusUnreadable:
			flag = StatusWtUnreadable
		case diff.StatusIgnored:
			flag = StatusIgnored
		case diff.StatusConflicted:
			flag = StatusConflicted
		default:
			continue
		}
		list[delta.Path()] |= flag
	}
	return list, nil
}

// StatusFile returns the status of a single file.
// A file that is unmodified, or that doesn't exist anywhere, has
// no flags
func (r *Repository) StatusFile(p string) (StatusFlags, error) {
	p = filepath.ToSlash(filepath.Clean(p))
	list, err := r.StatusWithOptions(&StatusOptions{
		IncludeIgnored:       true,
		RecurseUntrackedDirs: true,
		Pathspec:             []string{p},
	})
	if err != nil {
		return 0, err
	}
	return list[p], nil
}
