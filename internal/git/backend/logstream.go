package backend

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// NUL-delimited records; a commit message cannot contain NUL.
const logFormat = "%H%n%T%n%P%n%an%n%ae%n%aI%n%cn%n%ce%n%cI%n%B%x00"

const logHeaderLines = 9

type gitLogStream struct {
	cancel context.CancelFunc
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr bytes.Buffer
	r      *bufio.Reader

	waitOnce sync.Once
	waitErr  error
}

func (g *gitCLI) StartLogStream(ctx context.Context, fromHash string, opts LogOptions) (LogStream, error) {
	if g == nil || g.path == "" {
		return nil, fmt.Errorf("repository root not set")
	}
	fromHash = strings.TrimSpace(fromHash)
	if fromHash == "" {
		return nil, fmt.Errorf("starting commit not specified")
	}
	args := []string{
		"--no-pager", "-C", g.path, "log",
		"--no-color", "--no-decorate", "--no-patch",
		// tformat avoids git log adding an extra newline after each record.
		"--pretty=tformat:" + logFormat,
	}
	if opts.FirstParent {
		args = append(args, "--first-parent")
	} else {
		args = append(args, "--date-order")
	}
	if opts.MaxCount > 0 {
		args = append(args, "-n", strconv.Itoa(opts.MaxCount))
	}
	args = append(args, fromHash, "--")

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, gitBinary, args...)
	stream := &gitLogStream{cancel: cancel, cmd: cmd}
	cmd.Stderr = &stream.stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("git log stdout: %w", err)
	}
	stream.stdout = stdout
	stream.r = bufio.NewReader(stdout)
	if err := cmd.Start(); err != nil {
		cancel()
		_ = stdout.Close()
		return nil, fmt.Errorf("git log start: %w", err)
	}
	return stream, nil
}

func (s *gitLogStream) Next() (*Commit, error) {
	rec, err := s.r.ReadBytes(0)
	if err != nil {
		if errors.Is(err, io.EOF) {
			if waitErr := s.wait(); waitErr != nil {
				return nil, waitErr
			}
			return nil, io.EOF
		}
		return nil, err
	}
	rec = rec[:len(rec)-1]
	// git log prints a newline between records even when the format ends
	// with NUL, so every record after the first starts with one.
	rec = bytes.TrimLeft(rec, "\r\n")
	if len(rec) == 0 {
		return nil, fmt.Errorf("unexpected empty git log record")
	}
	return parseGitLogRecord(rec)
}

func (s *gitLogStream) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.stdout != nil {
		_ = s.stdout.Close()
	}
	err := s.wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && !exitErr.Exited() {
		// killed by our own cancel
		return nil
	}
	return err
}

func (s *gitLogStream) wait() error {
	s.waitOnce.Do(func() {
		s.waitErr = s.cmd.Wait()
	})
	if s.waitErr == nil {
		return nil
	}
	if s.stderr.Len() > 0 {
		return fmt.Errorf("git log: %w: %s", s.waitErr, strings.TrimSpace(s.stderr.String()))
	}
	return fmt.Errorf("git log: %w", s.waitErr)
}

func parseGitLogRecord(rec []byte) (*Commit, error) {
	parts := strings.Split(string(rec), "\n")
	if len(parts) < logHeaderLines {
		return nil, fmt.Errorf("unexpected git log record: got %d lines", len(parts))
	}
	hash := strings.TrimSpace(parts[0])
	if hash == "" {
		return nil, fmt.Errorf("missing commit hash")
	}
	commit := &Commit{
		Hash:         hash,
		TreeHash:     strings.TrimSpace(parts[1]),
		ParentHashes: strings.Fields(parts[2]),
		Author:       parseSignature(parts[3], parts[4], parts[5]),
		Committer:    parseSignature(parts[6], parts[7], parts[8]),
	}
	if len(commit.ParentHashes) == 0 {
		commit.ParentHashes = nil
	}
	if len(parts) > logHeaderLines {
		commit.Message = strings.Join(parts[logHeaderLines:], "\n")
	}
	return commit, nil
}

func parseSignature(name, email, when string) Signature {
	t, _ := time.Parse(time.RFC3339, strings.TrimSpace(when))
	return Signature{Name: name, Email: email, When: t}
}
