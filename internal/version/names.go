// Package version tracks the current version token of each collection and
// derives the versioned physical collection name. Bumping the version makes
// the old generation's data invisible to new reads without a blocking
// migration.
package version

import "strings"

// Separator joins a collection name and its version token. A multi-character
// token keeps legitimate collection-name characters from splitting the name.
const Separator = "%~!~%"

// BuildVersionedName returns the physical collection name for a version. An
// empty version means "unversioned" and leaves the base name untouched.
func BuildVersionedName(base, version string) string {
	if version == "" {
		return base
	}
	return base + Separator + version
}

// ParseVersionedName splits a physical collection name back into its base
// name and version token.
func ParseVersionedName(name string) (base, version string) {
	base, version, _ = strings.Cut(name, Separator)
	return base, version
}

// HasVersion reports whether the name carries a version token.
func HasVersion(name string) bool {
	return strings.Contains(name, Separator)
}
