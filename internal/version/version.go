package version

import "runtime/debug"

// Version is overridden at build time with
// -ldflags "-X github.com/CermakM/osiris-build-observer/internal/version.Version=v1.2.3".
var Version = ""

// Value returns the build version, falling back to module build info.
func Value() string {
	if Version != "" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}
