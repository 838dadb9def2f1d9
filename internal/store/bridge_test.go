package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/thiagokokada/branchwise/internal/git"
)

type updaterFunc func(ctx context.Context, project git.Project) error

func (f updaterFunc) UpdateProject(ctx context.Context, project git.Project) error {
	return f(ctx, project)
}

type chanSource struct {
	ch     chan git.Project
	unsubs atomic.Int32
}

func newChanSource() *chanSource {
	return &chanSource{ch: make(chan git.Project)}
}

func (s *chanSource) Subscribe() (<-chan git.Project, func()) {
	return s.ch, func() { s.unsubs.Add(1) }
}

func TestBridgeForwardsUpdates(t *testing.T) {
	t.Parallel()

	var (
		mu  sync.Mutex
		got []string
	)
	b := NewBridge(updaterFunc(func(_ context.Context, p git.Project) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, p.Directory)
		if p.Directory == "/fail" {
			return errors.New("boom")
		}
		return nil
	}))
	src := newChanSource()
	b.Listen(src)

	done := make(chan error, 1)
	go func() { done <- b.Run(context.Background()) }()

	src.ch <- git.Project{Directory: "/a"}
	src.ch <- git.Project{Directory: "/fail"}
	src.ch <- git.Project{Directory: "/b"}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, 5*time.Millisecond)

	b.Close()
	require.NoError(t, <-done)
	mu.Lock()
	require.Equal(t, []string{"/a", "/fail", "/b"}, got)
	mu.Unlock()
	require.EqualValues(t, 1, src.unsubs.Load())
}

func TestBridgeCloseUnsubscribesOnce(t *testing.T) {
	t.Parallel()

	b := NewBridge(updaterFunc(func(context.Context, git.Project) error { return nil }))
	first, second := newChanSource(), newChanSource()
	b.Listen(first)
	b.Listen(second)

	b.Close()
	b.Close()
	require.EqualValues(t, 1, first.unsubs.Load())
	require.EqualValues(t, 1, second.unsubs.Load())

	late := newChanSource()
	b.Listen(late)
	require.EqualValues(t, 1, late.unsubs.Load())
}

func TestBridgeCloseWithoutSubscriptions(t *testing.T) {
	t.Parallel()

	b := NewBridge(updaterFunc(func(context.Context, git.Project) error { return nil }))
	require.NotPanics(t, b.Close)
	require.NoError(t, b.Run(context.Background()))
}

func TestBridgeRunStopsOnContext(t *testing.T) {
	t.Parallel()

	b := NewBridge(updaterFunc(func(context.Context, git.Project) error { return nil }))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, b.Run(ctx), context.Canceled)
	b.Close()
}

func TestBridgeDrivesStore(t *testing.T) {
	t.Parallel()

	c := chain("o1", 4)
	s := New(chainBackend(map[string][]git.Commit{"/p": c}))
	b := NewBridge(s)
	src := newChanSource()
	b.Listen(src)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Run(ctx) }()
	defer b.Close()

	src.ch <- projectAt("/p", c[1].Hash)
	require.Eventually(t, func() bool {
		commit, ok := s.Commit()
		return ok && commit.Hash == c[1].Hash
	}, time.Second, 5*time.Millisecond)

	src.ch <- projectAt("/p", c[0].Hash)
	require.Eventually(t, func() bool {
		return len(s.History()) == 4
	}, time.Second, 5*time.Millisecond)
}
