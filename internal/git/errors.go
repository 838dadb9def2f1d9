package git

import "errors"

// ErrorKind is the closed set of failures the engine reports to the client.
// Engine errors wrap one of these with fmt.Errorf("...: %w", kind).
type ErrorKind string

const (
	ErrInvalidGitFolder ErrorKind = "invalidGitFolder"
	ErrCannotOpenFolder ErrorKind = "cannotOpenFolder"
	ErrNoGitFolder      ErrorKind = "noGitFolder"
	ErrNoLocalBranches  ErrorKind = "noLocalBranches"
	ErrDatabaseSave     ErrorKind = "databaseSaveError"
	ErrDatabaseDelete   ErrorKind = "databaseDeleteError"
	ErrInvalidHistory   ErrorKind = "invalidHistory"
)

var errorKinds = []ErrorKind{
	ErrInvalidGitFolder,
	ErrCannotOpenFolder,
	ErrNoGitFolder,
	ErrNoLocalBranches,
	ErrDatabaseSave,
	ErrDatabaseDelete,
	ErrInvalidHistory,
}

func (k ErrorKind) Error() string {
	return string(k)
}

// ErrInvalidHead is returned for unparseable HEAD content. It is not part of
// the reported set.
var ErrInvalidHead = errors.New("invalid HEAD reference")

// ErrorKinds lists every reportable kind.
func ErrorKinds() []ErrorKind {
	return append([]ErrorKind(nil), errorKinds...)
}

// KindOf extracts the reportable kind wrapped in err.
func KindOf(err error) (ErrorKind, bool) {
	var kind ErrorKind
	if errors.As(err, &kind) {
		return kind, kind.known()
	}
	return "", false
}

func (k ErrorKind) known() bool {
	for _, kind := range errorKinds {
		if kind == k {
			return true
		}
	}
	return false
}
