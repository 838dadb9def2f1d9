// Package dialog holds presentation state raised by non-UI code: transient
// notices, a confirmation request and a positioned context menu. The three
// are independent and may be open at the same time.
package dialog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thiagokokada/branchwise/internal/debounce"
	"github.com/thiagokokada/branchwise/internal/git"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

var messages = map[git.ErrorKind]string{
	git.ErrInvalidGitFolder: "Error: Git folder is invalid",
	git.ErrCannotOpenFolder: "Error: Cannot open folder",
	git.ErrNoGitFolder:      "Error: Project is not a git repository",
	git.ErrNoLocalBranches:  "Error: No local branches found",
	git.ErrDatabaseSave:     "Error: Cannot save to database",
	git.ErrDatabaseDelete:   "Error: Cannot delete from database",
	git.ErrInvalidHistory:   "Error: Invalid history",
}

// Message returns the user-facing text for kind.
func Message(kind git.ErrorKind) (string, bool) {
	msg, ok := messages[kind]
	return msg, ok
}

// Notice is a transient message. A zero Timeout keeps it until dismissed.
type Notice struct {
	ID       string
	Visible  bool
	Text     string
	Severity Severity
	Timeout  time.Duration
}

// Confirmation is a pending yes/no question.
type Confirmation struct {
	Open    bool
	Title   string
	Message string
}

type ContextMenu struct {
	Open     bool
	TargetID string
	X, Y     int
}

type State struct {
	Notice       Notice
	Confirmation Confirmation
	ContextMenu  ContextMenu
}

type Coordinator struct {
	mu             sync.Mutex
	notice         Notice
	confirm        Confirmation
	confirmID      uint64
	onConfirm      func()
	onCancel       func()
	menu           ContextMenu
	defaultTimeout time.Duration
	dismiss        *debounce.Debouncer

	watchMu   sync.Mutex
	watchers  map[uint64]func(State)
	nextWatch uint64
}

type Option func(*Coordinator)

// WithNoticeTimeout sets the auto-dismiss delay used by ShowError.
func WithNoticeTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.defaultTimeout = d }
}

func New(opts ...Option) *Coordinator {
	c := &Coordinator{watchers: make(map[uint64]func(State))}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ShowError raises an error notice for errors wrapping a known kind. Other
// errors are logged and dropped. Reports whether a notice was shown.
func (c *Coordinator) ShowError(err error) bool {
	if err == nil {
		return false
	}
	kind, ok := git.KindOf(err)
	if !ok {
		slog.Warn("unmapped backend error", slog.Any("error", err))
		return false
	}
	msg, ok := Message(kind)
	if !ok {
		slog.Warn("no message for error kind", slog.String("kind", string(kind)))
		return false
	}
	slog.Debug("show error notice", slog.String("kind", string(kind)), slog.Any("error", err))
	c.ShowNotice(msg, SeverityError, c.defaultTimeout)
	return true
}

// ShowNotice replaces the current notice and returns the new notice's ID.
func (c *Coordinator) ShowNotice(text string, severity Severity, timeout time.Duration) string {
	id := uuid.NewString()
	c.mu.Lock()
	if c.dismiss != nil {
		c.dismiss.Stop()
		c.dismiss = nil
	}
	c.notice = Notice{
		ID:       id,
		Visible:  true,
		Text:     text,
		Severity: severity,
		Timeout:  timeout,
	}
	if timeout > 0 {
		c.dismiss = debounce.New(timeout, func() { c.DismissNotice(id) })
		c.dismiss.Trigger()
	}
	c.mu.Unlock()
	c.emit()
	return id
}

// DismissNotice hides the notice with the given ID; an empty ID hides
// whatever is shown.
func (c *Coordinator) DismissNotice(id string) {
	c.mu.Lock()
	if !c.notice.Visible || (id != "" && c.notice.ID != id) {
		c.mu.Unlock()
		return
	}
	c.notice.Visible = false
	if c.dismiss != nil {
		c.dismiss.Stop()
		c.dismiss = nil
	}
	c.mu.Unlock()
	c.emit()
}

// RequestConfirmation opens a confirmation. A request still open is
// cancelled first.
func (c *Coordinator) RequestConfirmation(title, message string, onConfirm func()) {
	c.request(title, message, onConfirm, nil)
}

// request opens a confirmation and returns its request number.
func (c *Coordinator) request(title, message string, onConfirm, onCancel func()) uint64 {
	c.mu.Lock()
	prevCancel := c.onCancel
	wasOpen := c.confirm.Open
	c.confirmID++
	id := c.confirmID
	c.confirm = Confirmation{Open: true, Title: title, Message: message}
	c.onConfirm = onConfirm
	c.onCancel = onCancel
	c.mu.Unlock()
	if wasOpen {
		slog.Debug("confirmation replaced", slog.String("title", title))
		if prevCancel != nil {
			prevCancel()
		}
	}
	c.emit()
	return id
}

// Confirm closes the open confirmation and runs its callback.
func (c *Coordinator) Confirm() {
	c.finish(true, 0)
}

func (c *Coordinator) Cancel() {
	c.finish(false, 0)
}

// finish resolves the open confirmation. A non-zero id only matches the
// request it was returned for.
func (c *Coordinator) finish(confirmed bool, id uint64) {
	fn, ok := c.resolve(confirmed, id)
	if !ok {
		return
	}
	c.emit()
	if fn != nil {
		fn()
	}
}

func (c *Coordinator) resolve(confirmed bool, id uint64) (func(), bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.confirm.Open || (id != 0 && c.confirmID != id) {
		return nil, false
	}
	fn := c.onCancel
	if confirmed {
		fn = c.onConfirm
	}
	c.confirm = Confirmation{}
	c.onConfirm = nil
	c.onCancel = nil
	return fn, true
}

// Ask opens a confirmation and blocks until it is resolved or ctx is done.
// A done ctx cancels the request only while it is still the open one.
func (c *Coordinator) Ask(ctx context.Context, title, message string) (bool, error) {
	answer := make(chan bool, 1)
	id := c.request(title, message,
		func() { answer <- true },
		func() { answer <- false },
	)
	select {
	case ok := <-answer:
		return ok, nil
	case <-ctx.Done():
		c.finish(false, id)
		return false, ctx.Err()
	}
}

func (c *Coordinator) OpenContextMenu(targetID string, x, y int) {
	c.mu.Lock()
	c.menu = ContextMenu{Open: true, TargetID: targetID, X: x, Y: y}
	c.mu.Unlock()
	c.emit()
}

func (c *Coordinator) CloseContextMenu() {
	c.mu.Lock()
	if !c.menu.Open {
		c.mu.Unlock()
		return
	}
	c.menu = ContextMenu{}
	c.mu.Unlock()
	c.emit()
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{Notice: c.notice, Confirmation: c.confirm, ContextMenu: c.menu}
}

// Watch registers fn for state changes and returns its unregister func.
func (c *Coordinator) Watch(fn func(State)) func() {
	c.watchMu.Lock()
	id := c.nextWatch
	c.nextWatch++
	c.watchers[id] = fn
	c.watchMu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.watchMu.Lock()
			delete(c.watchers, id)
			c.watchMu.Unlock()
		})
	}
}

// Close stops a pending auto-dismiss.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dismiss != nil {
		c.dismiss.Stop()
		c.dismiss = nil
	}
}

func (c *Coordinator) emit() {
	c.watchMu.Lock()
	fns := make([]func(State), 0, len(c.watchers))
	for _, fn := range c.watchers {
		fns = append(fns, fn)
	}
	c.watchMu.Unlock()
	if len(fns) == 0 {
		return
	}
	st := c.State()
	for _, fn := range fns {
		fn(st)
	}
}
