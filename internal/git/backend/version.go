package backend

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

const gitBinary = "git"

// Minimum supported git version for the CLI backend. "git switch --detach"
// first shipped in 2.23.
var minGitVersion = gitVersion{major: 2, minor: 23, patch: 0}

type gitVersion struct {
	major int
	minor int
	patch int
}

func MinGitVersion() string {
	return minGitVersion.String()
}

func (v gitVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.major, v.minor, v.patch)
}

func (v gitVersion) less(other gitVersion) bool {
	if v.major != other.major {
		return v.major < other.major
	}
	if v.minor != other.minor {
		return v.minor < other.minor
	}
	return v.patch < other.patch
}

// parseGitVersionOutput accepts "git version 2.44.0" and vendor variants
// such as "2.39.3 (Apple Git-146)" or "2.39.3.windows.1".
func parseGitVersionOutput(out string) (gitVersion, bool) {
	s := strings.TrimSpace(out)
	if _, rest, ok := strings.Cut(s, "git version"); ok {
		s = strings.TrimSpace(rest)
	}
	start := strings.IndexAny(s, "0123456789")
	if start < 0 {
		return gitVersion{}, false
	}
	s = s[start:]
	end := 0
	for end < len(s) && (s[end] == '.' || (s[end] >= '0' && s[end] <= '9')) {
		end++
	}
	parts := strings.Split(strings.Trim(s[:end], "."), ".")
	if len(parts) < 2 {
		return gitVersion{}, false
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return gitVersion{}, false
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return gitVersion{}, false
	}
	v := gitVersion{major: major, minor: minor}
	if len(parts) >= 3 {
		if p, err := strconv.Atoi(parts[2]); err == nil {
			v.patch = p
		}
	}
	return v, true
}

func validateGitVersionOutput(out string) error {
	got, ok := parseGitVersionOutput(out)
	if !ok {
		return fmt.Errorf("unable to parse git version output: %q", strings.TrimSpace(out))
	}
	if got.less(minGitVersion) {
		return fmt.Errorf("git %s is too old; branchwise requires git >= %s", got, minGitVersion)
	}
	return nil
}

var (
	gitVersionOnce sync.Once
	gitVersionOut  string
	gitVersionErr  error
)

func readGitVersion() (string, error) {
	gitVersionOnce.Do(func() {
		outBytes, err := exec.Command(gitBinary, "--version").CombinedOutput()
		gitVersionOut = strings.TrimSpace(string(outBytes))
		switch {
		case err != nil && gitVersionOut != "":
			gitVersionErr = fmt.Errorf("git --version: %v: %s", err, gitVersionOut)
		case err != nil:
			gitVersionErr = fmt.Errorf("git --version: %w", err)
		default:
			gitVersionErr = validateGitVersionOutput(gitVersionOut)
		}
	})
	return gitVersionOut, gitVersionErr
}

// GitVersion returns the raw "git --version" output, and an error when git
// is missing or older than MinGitVersion.
func GitVersion() (string, error) {
	return readGitVersion()
}

func ensureMinGitVersion() error {
	_, err := readGitVersion()
	return err
}
