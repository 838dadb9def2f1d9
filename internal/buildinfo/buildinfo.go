package buildinfo

import (
	"fmt"
	"runtime/debug"
	"strings"
)

// Version returns the module version or "dev" when unset.
func Version() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info == nil {
		return "dev"
	}
	version := info.Main.Version
	if version == "" || version == "(devel)" {
		return "dev"
	}
	return version
}

func setting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info == nil {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == key {
			return s.Value
		}
	}
	return ""
}

// Revision returns the short VCS revision, suffixed with "-dirty" for a
// modified tree, or "" when the binary was built outside a checkout.
func Revision() string {
	rev := setting("vcs.revision")
	if rev == "" {
		return ""
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if setting("vcs.modified") == "true" {
		rev += "-dirty"
	}
	return rev
}

// String formats version, revision and build tags for --version output.
func String() string {
	parts := []string{Version()}
	if rev := Revision(); rev != "" {
		parts = append(parts, "rev "+rev)
	}
	if tags := setting("-tags"); tags != "" {
		parts = append(parts, "tags: "+tags)
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return fmt.Sprintf("%s (%s)", parts[0], strings.Join(parts[1:], ", "))
}
