package git

import (
	"github.com/vcskit/gitcore/diff"
	"github.com/vcskit/gitcore/ginternals"
	"github.com/vcskit/gitcore/ginternals/object"
)

// workTree returns the working tree of the repository, as used by
// the diff package
func (r *Repository) workTree() diff.WorkTree {
	return diff.WorkTree{
		FS:   r.cfg.FS,
		Root: r.WorkTreePath(),
	}
}

// diffOptions returns a copy of the provided options with the
// defaults of the repository set
func (r *Repository) diffOptions(opts *diff.Options) *diff.Options {
	if opts == nil {
		opts = diff.DefaultOptions()
	}
	cpy := *opts
	if cpy.Logger == nil {
		cpy.Logger = r.logger
	}
	return &cpy
}

// similarOptions returns the rename detection options set in the
// config (diff.renameLimit)
func (r *Repository) similarOptions(flags diff.SimilarFlag) *diff.SimilarOptions {
	opts := diff.DefaultSimilarOptions()
	opts.Flags = flags
	if limit, ok := r.cfg.FromFiles().RenameLimit(); ok {
		opts.RenameLimit = limit
	}
	return opts
}

// DiffTreeToTree returns the changes between 2 trees. A nil tree is
// an empty tree.
// Renames are detected if diff.renames is set in the config
func (r *Repository) DiffTreeToTree(oldTree, newTree *object.Tree, opts *diff.Options) (*diff.Diff, error) {
	d, err := diff.TreeToTree(r.dotGit, oldTree, newTree, r.diffOptions(opts))
	if err != nil {
		return nil, err
	}
	return d, r.detectRenames(d)
}

// DiffTreeToIndex returns the changes between a tree and the index.
// A nil tree is an empty tree
func (r *Repository) DiffTreeToIndex(t *object.Tree, opts *diff.Options) (*diff.Diff, error) {
	idx, err := r.Index()
	if err != nil {
		return nil, err
	}
	snapshot, err := idx.snapshot()
	if err != nil {
		return nil, err
	}
	d, err := diff.TreeToIndex(r.dotGit, t, snapshot, r.diffOptions(opts))
	if err != nil {
		return nil, err
	}
	return d, r.detectRenames(d)
}

// DiffIndexToWorkdir returns the changes between the index and the
// working tree
func (r *Repository) DiffIndexToWorkdir(opts *diff.Options) (*diff.Diff, error) {
	if r.IsBare() {
		return nil, ginternals.ErrBareRepository
	}
	idx, err := r.Index()
	if err != nil {
		return nil, err
	}
	snapshot, err := idx.snapshot()
	if err != nil {
		return nil, err
	}
	o, err := r.workdirOptions(opts)
	if err != nil {
		return nil, err
	}
	return diff.IndexToWorkdir(r.dotGit, snapshot, r.workTree(), o)
}

// DiffTreeToWorkdir returns the changes between a tree and the
// working tree, without looking at the index
func (r *Repository) DiffTreeToWorkdir(t *object.Tree, opts *diff.Options) (*diff.Diff, error) {
	if r.IsBare() {
		return nil, ginternals.ErrBareRepository
	}
	o, err := r.workdirOptions(opts)
	if err != nil {
		return nil, err
	}
	return diff.TreeToWorkdir(r.dotGit, t, r.workTree(), o)
}

// workdirOptions sets the ignore rules of the repository if the
// options don't have any
func (r *Repository) workdirOptions(opts *diff.Options) (*diff.Options, error) {
	o := r.diffOptions(opts)
	if o.Ignore == nil {
		m, err := r.ignoreMatcher()
		if err != nil {
			return nil, err
		}
		o.Ignore = m
	}
	return o, nil
}

// detectRenames runs the rename detection on the diff when
// diff.renames is enabled
func (r *Repository) detectRenames(d *diff.Diff) error {
	enabled, ok := r.cfg.FromFiles().Renames()
	if !ok || !enabled {
		return nil
	}
	return d.FindSimilar(r.similarOptions(diff.FindRenames))
}
