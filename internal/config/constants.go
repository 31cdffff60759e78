package config

const SourceFileExt = ".fs"

// SourceFileExtensions are all recognized source file extensions
var SourceFileExtensions = []string{".fs", ".fth", ".forth"}

// Default machine limits. All of them can be overridden per machine.
const (
	DefaultStackDepth         = 1024
	DefaultRecursionDepth     = 1024
	DefaultOutputInitialSize  = 1024
	DefaultOutputResizeFactor = 1.5
)
