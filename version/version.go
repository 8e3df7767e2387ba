// Package version reports the engine's own module version and build
// metadata, read from the information the Go toolchain embeds in the
// binary.
package version

import (
	"runtime/debug"
	"sort"
)

const modulePath = "synapsedb.dev/synapsedb"

// DependencyInfo is one module dependency of the running binary.
type DependencyInfo struct {
	Path    string `json:"path"`
	Version string `json:"version"`
}

// BuildInfo is the build metadata the version command prints.
type BuildInfo struct {
	GoVersion    string           `json:"goVersion"`
	MainModule   string           `json:"mainModule"`
	MainVersion  string           `json:"mainVersion"`
	Dependencies []DependencyInfo `json:"dependencies"`
}

// GetBuildInfo reads the embedded build information, with dependencies
// sorted by module path for stable output.
func GetBuildInfo() *BuildInfo {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return &BuildInfo{GoVersion: "unknown", MainModule: "unknown", MainVersion: "unknown"}
	}
	out := &BuildInfo{
		GoVersion:    info.GoVersion,
		MainModule:   info.Path,
		MainVersion:  info.Main.Version,
		Dependencies: make([]DependencyInfo, 0, len(info.Deps)),
	}
	for _, dep := range info.Deps {
		out.Dependencies = append(out.Dependencies, DependencyInfo{Path: dep.Path, Version: dep.Version})
	}
	sort.Slice(out.Dependencies, func(i, j int) bool {
		return out.Dependencies[i].Path < out.Dependencies[j].Path
	})
	return out
}

// GetEngineVersion resolves the engine module's own version: the main
// module's version when the binary is the engine itself, the dependency
// version when the engine is embedded in another module, and "dev" for
// an uninstalled working-tree build.
func GetEngineVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	if info.Path == modulePath {
		if v := info.Main.Version; v != "" && v != "(devel)" {
			return v
		}
		return "dev"
	}
	for _, dep := range info.Deps {
		if dep.Path == modulePath {
			return dep.Version
		}
	}
	return "unknown"
}
