package store

import (
	"context"
	"log/slog"
	"sync"

	"github.com/thiagokokada/branchwise/internal/git"
)

// Updater applies a pushed project payload.
type Updater interface {
	UpdateProject(ctx context.Context, project git.Project) error
}

// Source delivers project updates until the returned cancel func is called.
type Source interface {
	Subscribe() (<-chan git.Project, func())
}

// Bridge forwards pushed project updates into an Updater. Payloads from every
// subscription are funneled into one channel and applied by Run, one at a
// time, in arrival order.
type Bridge struct {
	updater Updater
	events  chan git.Project
	done    chan struct{}

	mu     sync.Mutex
	unsubs []func()
	closed bool
	wg     sync.WaitGroup

	closeOnce sync.Once
}

func NewBridge(updater Updater) *Bridge {
	return &Bridge{
		updater: updater,
		events:  make(chan git.Project),
		done:    make(chan struct{}),
	}
}

// Listen subscribes to src for the lifetime of the bridge.
func (b *Bridge) Listen(src Source) {
	ch, unsub := src.Subscribe()
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		unsub()
		return
	}
	b.unsubs = append(b.unsubs, unsub)
	b.wg.Add(1)
	b.mu.Unlock()

	go b.pump(ch)
}

func (b *Bridge) pump(ch <-chan git.Project) {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case p, ok := <-ch:
			if !ok {
				return
			}
			select {
			case b.events <- p:
			case <-b.done:
				return
			}
		}
	}
}

// Run applies updates until ctx is done or the bridge is closed.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			return nil
		case p := <-b.events:
			if err := b.updater.UpdateProject(ctx, p); err != nil {
				slog.Warn("apply project update",
					slog.String("project", p.Directory),
					slog.Any("error", err),
				)
			}
		}
	}
}

// Close stops Run and calls every unsubscribe handle exactly once.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		unsubs := b.unsubs
		b.unsubs = nil
		b.mu.Unlock()

		close(b.done)
		for _, unsub := range unsubs {
			unsub()
		}
		b.wg.Wait()
	})
}
