package tomo

import "github.com/blang/semver"

// Version is the release of this tool.  Sidecars record the version that wrote them.
var Version = semver.MustParse("1.0.0")

// CompatibleVersion returns true if data written by version v can be read by this release.
func CompatibleVersion(v semver.Version) bool {
	return v.Major <= Version.Major
}
