package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
	"github.com/vcskit/gitcore/env"
	"gopkg.in/ini.v1"
)

// Sections and keys used in the config files. They are all lowercase
// since git treats them as case-insensitive
const (
	SectionCore       = "core"
	SectionInit       = "init"
	SectionUser       = "user"
	SectionDiff       = "diff"
	SectionExtensions = "extensions"

	KeyCoreFormatVersion     = "repositoryformatversion"
	KeyCoreFileMode          = "filemode"
	KeyCoreBare              = "bare"
	KeyCoreLogAllRefUpdates  = "logallrefupdates"
	KeyCoreIgnoreCase        = "ignorecase"
	KeyCorePrecomposeUnicode = "precomposeunicode"
	KeyCoreWorkTree          = "worktree"
	KeyCoreExcludesFile      = "excludesfile"
	KeyInitDefaultBranch     = "defaultbranch"
	KeyUserName              = "name"
	KeyUserEmail             = "email"
	KeyDiffRenames           = "renames"
	KeyDiffRenameLimit       = "renamelimit"
	KeyExtensionsObjectFmt   = "objectformat"
)

// defaultLoadOption contains the params used to load the config files
//
//nolint:gochecknoglobals // Treat this as a const
var defaultLoadOption = ini.LoadOptions{
	SkipUnrecognizableLines: true,
	Insensitive:             true,
}

// FileAggregate represents the aggregate of all the config files
// impacting a repository
type FileAggregate struct {
	cfg *Config
	agg *ini.File
}

func (cfg *FileAggregate) boolValue(section, key string) (value, ok bool) {
	k, err := cfg.agg.Section(section).GetKey(key)
	if err != nil {
		return false, false
	}
	v, err := k.Bool()
	if err != nil {
		return false, false
	}
	return v, true
}

func (cfg *FileAggregate) stringValue(section, key string) (value string, ok bool) {
	v := cfg.agg.Section(section).Key(key).String()
	return v, v != ""
}

// RepoFormatVersion returns the version of the format of the repo
func (cfg *FileAggregate) RepoFormatVersion() (version int, ok bool) {
	v, err := cfg.agg.Section(SectionCore).Key(KeyCoreFormatVersion).Int()
	if err != nil {
		return 0, false
	}
	return v, true
}

// DefaultBranch returns the branch name to use when creating a new
// repository.
// The branch name isn't checked and may be an invalid value
func (cfg *FileAggregate) DefaultBranch() (name string, ok bool) {
	return cfg.stringValue(SectionInit, KeyInitDefaultBranch)
}

// WorkTree returns the path of the work-tree
func (cfg *FileAggregate) WorkTree() (workTree string, ok bool) {
	return cfg.stringValue(SectionCore, KeyCoreWorkTree)
}

// IsBare returns whether the repository has no working tree
func (cfg *FileAggregate) IsBare() (isBare, ok bool) {
	return cfg.boolValue(SectionCore, KeyCoreBare)
}

// LogAllRefUpdates returns whether every reference update should be
// recorded in the reflog
func (cfg *FileAggregate) LogAllRefUpdates() (enabled, ok bool) {
	return cfg.boolValue(SectionCore, KeyCoreLogAllRefUpdates)
}

// IgnoreCase returns whether the working tree is on a case-insensitive
// filesystem
func (cfg *FileAggregate) IgnoreCase() (enabled, ok bool) {
	return cfg.boolValue(SectionCore, KeyCoreIgnoreCase)
}

// UserName returns the name to use in signatures
func (cfg *FileAggregate) UserName() (name string, ok bool) {
	return cfg.stringValue(SectionUser, KeyUserName)
}

// UserEmail returns the email to use in signatures
func (cfg *FileAggregate) UserEmail() (email string, ok bool) {
	return cfg.stringValue(SectionUser, KeyUserEmail)
}

// ObjectFormat returns the name of the hash algorithm used by the
// repository (sha1 or sha256)
func (cfg *FileAggregate) ObjectFormat() (name string, ok bool) {
	v, ok := cfg.stringValue(SectionExtensions, KeyExtensionsObjectFmt)
	return strings.ToLower(v), ok
}

// Renames returns whether the rename detection is enabled in diffs
func (cfg *FileAggregate) Renames() (enabled, ok bool) {
	return cfg.boolValue(SectionDiff, KeyDiffRenames)
}

// RenameLimit returns the maximum number of files to consider when
// looking for renames
func (cfg *FileAggregate) RenameLimit() (limit int, ok bool) {
	v, err := cfg.agg.Section(SectionDiff).Key(KeyDiffRenameLimit).Int()
	if err != nil {
		return 0, false
	}
	return v, true
}

// ExcludesFile returns the path of the global ignore file, with the
// "~" expanded
func (cfg *FileAggregate) ExcludesFile() (path string, ok bool) {
	v, ok := cfg.stringValue(SectionCore, KeyCoreExcludesFile)
	if !ok {
		return "", false
	}
	p, err := homedir.Expand(v)
	if err != nil {
		return "", false
	}
	return p, true
}

// NewFileAggregate loads all the available config files and returns an object
// with accessor
func NewFileAggregate(e *env.Env, cfg *Config) (confFile *FileAggregate, err error) {
	confFile = &FileAggregate{
		cfg: cfg,
	}
	configPaths := getPaths(e, cfg)

	// Because we want to use afero instead of the file system, we cannot
	// just provide the the file paths to ini.Load. Instead we need to open
	// all the files ourselves, provide the files to ini, and close everything.
	files := make([]interface{}, 0, len(configPaths))
	for _, p := range configPaths {
		_, sErr := cfg.FS.Stat(p)
		if sErr != nil {
			// not every config files are expected to exists on disk
			if errors.Is(sErr, os.ErrNotExist) {
				continue
			}
			err = fmt.Errorf("could not check file %s: %w", p, sErr)
			break
		}

		f, fErr := cfg.FS.Open(p)
		if fErr != nil {
			err = fmt.Errorf("could not open file %s: %w", p, fErr)
			break
		}
		files = append(files, f)
	}
	defer func() {
		for _, f := range files {
			//nolint:errcheck // go-ini already closes the files
			f.(io.ReadCloser).Close()
		}
	}()
	if err != nil {
		return nil, err
	}

	if len(files) == 0 {
		confFile.agg = ini.Empty(defaultLoadOption)
		return confFile, nil
	}

	confFile.agg, err = ini.LoadSources(defaultLoadOption, files[0], files[1:]...)
	if err != nil {
		return nil, fmt.Errorf("could not load config file: %w", err)
	}
	return confFile, nil
}

func appendIfValid(array *[]string, envVar string, p ...string) {
	if envVar != "" {
		*array = append(*array, filepath.Join(envVar, filepath.Join(p...)))
	}
}

func getPaths(e *env.Env, cfg *Config) []string {
	configPaths := []string{}

	// system
	// git looks for a file located ar $(prefix)/etc/gitconfig, which is
	// a value provided at compile time or through the env ($PREFIX).
	// Since we often don't have this value set, we'll do a
	// system-specific brute-force if $PREFIX isn't set.
	if !cfg.SkipSystemConfig && cfg.Prefix != "" {
		configPaths = append(configPaths, filepath.Join(cfg.Prefix, "etc", "gitconfig"))
	}

	switch runtime.GOOS {
	case "windows":
		if !cfg.SkipSystemConfig && cfg.Prefix == "" {
			appendIfValid(&configPaths, e.Get("ALLUSERSPROFILE"), "Application Data", "Git", "config")
			appendIfValid(&configPaths, e.Get("ProgramFiles(x86)"), "Git", "etc", "gitconfig")
			appendIfValid(&configPaths, e.Get("ProgramFiles"), "Git", "mingw64", "etc", "gitconfig")
		}
		appendIfValid(&configPaths, e.Get("USERPROFILE"), ".gitconfig")
	default:
		if !cfg.SkipSystemConfig && cfg.Prefix == "" {
			configPaths = append(configPaths,
				"/etc/gitconfig",
				"/usr/local/etc/gitconfig",
				"/opt/homebrew/etc/gitconfig",
			)
		}
		if e.Get("XDG_CONFIG_HOME") != "" {
			configPaths = append(configPaths, filepath.Join(e.Get("XDG_CONFIG_HOME"), "git", "config"))
		} else {
			appendIfValid(&configPaths, e.Get("HOME"), ".config", "git", "config")
		}
	}
	appendIfValid(&configPaths, e.Get("HOME"), ".gitconfig")
	configPaths = append(configPaths, cfg.LocalConfig)
	return configPaths
}

// LocalConfigParams contains the values written in the config file of
// a new repository
type LocalConfigParams struct {
	IsBare       bool
	ObjectFormat string
}

// NewLocalConfig returns the default content of the config file of a
// new repository
func NewLocalConfig(p LocalConfigParams) (*ini.File, error) {
	f := ini.Empty(defaultLoadOption)
	core, err := f.NewSection(SectionCore)
	if err != nil {
		return nil, fmt.Errorf("could not create core section: %w", err)
	}

	formatVersion := "0"
	if p.ObjectFormat != "" && p.ObjectFormat != "sha1" {
		// extensions are only read by git starting with version 1
		formatVersion = "1"
	}
	keys := []struct{ k, v string }{
		{KeyCoreFormatVersion, formatVersion},
		{KeyCoreFileMode, "true"},
		{KeyCoreBare, fmt.Sprintf("%t", p.IsBare)},
		{KeyCoreLogAllRefUpdates, fmt.Sprintf("%t", !p.IsBare)},
	}
	for _, kv := range keys {
		if _, err := core.NewKey(kv.k, kv.v); err != nil {
			return nil, fmt.Errorf("could not set %s: %w", kv.k, err)
		}
	}

	if formatVersion != "0" {
		ext, err := f.NewSection(SectionExtensions)
		if err != nil {
			return nil, fmt.Errorf("could not create extensions section: %w", err)
		}
		if _, err := ext.NewKey(KeyExtensionsObjectFmt, p.ObjectFormat); err != nil {
			return nil, fmt.Errorf("could not set %s: %w", KeyExtensionsObjectFmt, err)
		}
	}
	return f, nil
}

// WriteFile persists the given config at the given path
func WriteFile(fs afero.Fs, path string, f *ini.File) (err error) {
	out, err := fs.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("could not open %s: %w", path, err)
	}
	defer func() {
		if e := out.Close(); e != nil && err == nil {
			err = fmt.Errorf("could not close %s: %w", path, e)
		}
	}()
	if _, err = f.WriteTo(out); err != nil {
		return fmt.Errorf("could not write %s: %w", path, err)
	}
	return nil
}

// UpdateLocal applies the given changes to the local config file and
// reloads the config
func (cfg *Config) UpdateLocal(update func(f *ini.File) error) error {
	f := ini.Empty(defaultLoadOption)
	if _, err := cfg.FS.Stat(cfg.LocalConfig); err == nil {
		data, err := afero.ReadFile(cfg.FS, cfg.LocalConfig)
		if err != nil {
			return fmt.Errorf("could not read %s: %w", cfg.LocalConfig, err)
		}
		f, err = ini.LoadSources(defaultLoadOption, data)
		if err != nil {
			return fmt.Errorf("could not parse %s: %w", cfg.LocalConfig, err)
		}
	}
	if err := update(f); err != nil {
		return err
	}
	if err := WriteFile(cfg.FS, cfg.LocalConfig, f); err != nil {
		return err
	}
	return cfg.Reload()
}
