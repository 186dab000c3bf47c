// Package gitpath contains consts to work with path inside
// the .git directory
package gitpath

// .git/ Files and directories, relative to the .git directory
const (
	DotGitPath      = ".git"
	GitIgnoreName   = ".gitignore"
	ConfigPath      = "config"
	DescriptionPath = "description"
	PackedRefsPath  = "packed-refs"
	HEADPath        = "HEAD"
	IndexPath       = "index"
	ObjectsPath     = "objects"
	LogsPath        = "logs"
	InfoPath        = "info"
	RefsPath        = "refs"
)
