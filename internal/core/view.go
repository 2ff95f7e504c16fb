package core

// view.go hosts the per-session view: the state an operator sees while
// working on one import, and the poller that keeps it current.
//
// A view owns at most one poller. Polling engages when the operator started
// the job through this view, or when a non-terminal session still has
// unprocessed rows. It disengages on the first terminal observation or when
// neither condition holds any longer. Close cancels in-flight ticks and
// discards their results.

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	maxNotices        = 20
	subscriberBuffer  = 4
	recordTimeout     = 5 * time.Second
	NoticeInfo        = "info"
	NoticeError       = "error"
	noticeMappingOK   = "Mapping updated"
	noticeStartOK     = "Import started in background"
	noticeMappingFail = "Failed to update mapping"
	noticeStartFail   = "Failed to start import"
)

// Notice is a dismissable message about the outcome of an operator action.
type Notice struct {
	ID        string    `json:"id"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Detail    string    `json:"detail,omitempty"`
	Code      string    `json:"code,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ViewState is a snapshot of everything a view presents.
type ViewState struct {
	Session  Session          `json:"session"`
	Badge    Badge            `json:"badge"`
	Progress ProgressSnapshot `json:"progress"`
	Logs     []LogEntry       `json:"logs"`
	Preview  *PreviewSnapshot `json:"preview,omitempty"`
	Polling  bool             `json:"polling"`
	Notices  []Notice         `json:"notices"`
}

type viewDeps struct {
	sessions *SessionStore
	previews *PreviewEngine
	runner   *JobRunner
	recorder RunRecorder
	observer Observer
	interval time.Duration
	now      func() time.Time
}

// View is the live state of one import session for the console.
type View struct {
	id        string
	sessionID string
	deps      viewDeps
	poller    *Poller

	ctx    context.Context
	cancel context.CancelFunc

	loadMu sync.Mutex
	loaded bool

	closeOnce sync.Once

	mu          sync.Mutex
	state       ViewState
	shouldPoll  bool
	startedHere bool
	startedBy   string
	recorded    map[Status]bool
	closed      bool
	ticks       int
	subs        map[string]chan ViewState
}

func newView(sessionID string, deps viewDeps) *View {
	ctx, cancel := context.WithCancel(context.Background())
	v := &View{
		id:        uuid.NewString(),
		sessionID: sessionID,
		deps:      deps,
		ctx:       ctx,
		cancel:    cancel,
		recorded:  make(map[Status]bool),
		subs:      make(map[string]chan ViewState),
		state: ViewState{
			Session: Session{ID: sessionID},
			Logs:    []LogEntry{},
			Notices: []Notice{},
		},
	}
	v.poller = NewPoller(deps.interval, v.tick, deps.observer)
	return v
}

// ID identifies this view instance.
func (v *View) ID() string { return v.id }

// SessionID returns the session this view presents.
func (v *View) SessionID() string { return v.sessionID }

// State returns a copy of the current state.
func (v *View) State() ViewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshotLocked()
}

// Closed reports whether the view has been torn down.
func (v *View) Closed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

// Polling reports whether the poller is running.
func (v *View) Polling() bool {
	return v.poller.Running()
}

// ensureLoaded runs Load once. Concurrent callers wait for the first.
func (v *View) ensureLoaded(ctx context.Context) error {
	v.loadMu.Lock()
	defer v.loadMu.Unlock()
	if v.loaded {
		return nil
	}
	if err := v.Load(ctx); err != nil {
		return err
	}
	v.loaded = true
	return nil
}

// Load reads the session and whatever the current status calls for: a
// preview while Pending, logs otherwise, and progress in both cases. It
// then decides whether polling should run.
func (v *View) Load(ctx context.Context) error {
	if v.Closed() {
		return ErrViewClosed
	}

	session, err := v.deps.sessions.Refresh(ctx, v.sessionID)
	if err != nil {
		return err
	}
	v.applySession(session)

	if session.Status == StatusPending {
		if snap, err := v.deps.previews.GetPreview(ctx, v.sessionID); err != nil {
			v.logWarn("preview failed", err)
			v.addNotice(NoticeError, "Failed to get preview", err)
		} else {
			v.applyPreview(&snap)
		}
	} else {
		v.fetchLogs(ctx)
	}
	v.fetchStatus(ctx)

	if session.Status.Terminal() {
		v.recordTerminal(ctx)
	}
	v.evaluatePolling()
	v.publish()
	return nil
}

// Refresh re-reads the session (debounced) and progress.
func (v *View) Refresh(ctx context.Context) (ViewState, error) {
	if v.Closed() {
		return ViewState{}, ErrViewClosed
	}
	session, err := v.deps.sessions.RefreshIfStale(ctx, v.sessionID)
	if err != nil {
		return ViewState{}, err
	}
	v.applySession(session)
	if !session.Status.Terminal() || v.State().Progress == (ProgressSnapshot{}) {
		v.fetchStatus(ctx)
	}
	v.evaluatePolling()
	v.publish()
	return v.State(), nil
}

// Preview returns the current preview, computing a fresh one if the
// remembered one predates the latest mapping change.
func (v *View) Preview(ctx context.Context) (PreviewSnapshot, error) {
	if v.Closed() {
		return PreviewSnapshot{}, ErrViewClosed
	}
	if snap, ok := v.deps.previews.Current(v.sessionID); ok {
		return snap, nil
	}
	snap, err := v.deps.previews.GetPreview(ctx, v.sessionID)
	if err != nil {
		return PreviewSnapshot{}, err
	}
	v.applyPreview(&snap)
	v.publish()
	return snap, nil
}

// UpdateMapping persists a mapping change and returns the re-parsed
// preview. On failure the view keeps its last confirmed state and gains an
// error notice.
func (v *View) UpdateMapping(ctx context.Context, column int, field string) (PreviewSnapshot, error) {
	if v.Closed() {
		return PreviewSnapshot{}, ErrViewClosed
	}

	snap, err := v.deps.previews.UpdateMapping(ctx, v.sessionID, column, field)
	if err != nil {
		v.logWarn("mapping update failed", err)
		v.addNotice(NoticeError, noticeMappingFail, err)
		if confirmed, ok := v.deps.sessions.Cached(v.sessionID); ok {
			v.applySession(confirmed)
		}
		v.publish()
		return PreviewSnapshot{}, err
	}

	if confirmed, ok := v.deps.sessions.Cached(v.sessionID); ok {
		v.applySession(confirmed)
	}
	v.applyPreview(&snap)
	v.addNotice(NoticeInfo, noticeMappingOK, nil)
	v.publish()
	return snap, nil
}

// Start launches the import. On success polling is engaged immediately,
// before the backend confirms the status change, and the session and
// progress are re-read. On failure polling state is left untouched.
func (v *View) Start(ctx context.Context) error {
	if v.Closed() {
		return ErrViewClosed
	}

	if err := v.deps.runner.Start(ctx, v.sessionID); err != nil {
		v.logWarn("start failed", err)
		v.addNotice(NoticeError, noticeStartFail, err)
		v.publish()
		return err
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrViewClosed
	}
	v.shouldPoll = true
	v.startedHere = true
	v.startedBy = OperatorIP(ctx)
	v.mu.Unlock()

	v.addNotice(NoticeInfo, noticeStartOK, nil)
	v.deps.previews.Invalidate(v.sessionID)

	if session, err := v.deps.sessions.Refresh(ctx, v.sessionID); err != nil {
		v.logWarn("refresh after start failed", err)
	} else {
		v.applySession(session)
	}
	// The first read after a start may still report Pending with no total.
	v.fetchStatus(ctx)

	if v.State().Session.Status.Terminal() {
		v.recordTerminal(ctx)
	}
	v.evaluatePolling()
	v.publish()
	return nil
}

// Logs re-reads and returns the normalized logs.
func (v *View) Logs(ctx context.Context) ([]LogEntry, error) {
	if v.Closed() {
		return nil, ErrViewClosed
	}
	logs, err := v.deps.runner.Logs(ctx, v.sessionID)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	v.state.Logs = logs
	v.mu.Unlock()
	v.publish()
	return logs, nil
}

// DismissNotice removes a notice. Unknown ids are ignored.
func (v *View) DismissNotice(id string) {
	v.mu.Lock()
	for i, n := range v.state.Notices {
		if n.ID == id {
			v.state.Notices = append(v.state.Notices[:i:i], v.state.Notices[i+1:]...)
			break
		}
	}
	v.mu.Unlock()
	v.publish()
}

// Subscribe returns a channel of state snapshots, primed with the current
// state. The channel is closed when the view closes or unsubscribe is called.
func (v *View) Subscribe() (<-chan ViewState, func(), error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil, nil, ErrViewClosed
	}

	id := uuid.NewString()
	ch := make(chan ViewState, subscriberBuffer)
	ch <- v.snapshotLocked()
	v.subs[id] = ch

	unsubscribe := func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		if c, ok := v.subs[id]; ok {
			delete(v.subs, id)
			close(c)
		}
	}
	return ch, unsubscribe, nil
}

// SubscriberCount returns the number of live subscriptions.
func (v *View) SubscriberCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.subs)
}

// Close tears the view down: the poller is cancelled and waited for,
// subscriber channels are closed and later results are discarded. It is
// safe to call more than once; every caller returns after teardown is done.
func (v *View) Close() {
	v.closeOnce.Do(v.teardown)
}

func (v *View) teardown() {
	v.mu.Lock()
	v.closed = true
	v.shouldPoll = false
	v.state.Polling = false
	v.mu.Unlock()

	v.cancel()
	v.poller.Stop()

	v.mu.Lock()
	for id, ch := range v.subs {
		close(ch)
		delete(v.subs, id)
	}
	v.mu.Unlock()

	slog.Debug("view closed", "session_id", v.sessionID, "view_id", v.id)
}

// tick performs one poll: status, logs and session are read concurrently,
// and the stop decision is made only after all three have returned.
func (v *View) tick(ctx context.Context) bool {
	start := time.Now()
	v.mu.Lock()
	v.ticks++
	n := v.ticks
	v.mu.Unlock()

	var (
		progress    ProgressSnapshot
		logs        []LogEntry
		session     Session
		progressErr error
		logsErr     error
		sessionErr  error
		g           errgroup.Group
	)
	g.Go(func() error {
		progress, progressErr = v.deps.runner.Status(ctx, v.sessionID)
		return progressErr
	})
	g.Go(func() error {
		logs, logsErr = v.deps.runner.Logs(ctx, v.sessionID)
		return logsErr
	})
	g.Go(func() error {
		session, sessionErr = v.deps.sessions.Peek(ctx, v.sessionID)
		return sessionErr
	})
	firstErr := g.Wait()

	if ctx.Err() != nil {
		return true
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return true
	}
	if sessionErr == nil {
		confirmed := v.deps.sessions.Confirm(session)
		v.state.Session = confirmed
		v.state.Badge = StatusBadge(confirmed.Status)
		if confirmed.Status != StatusPending {
			v.state.Preview = nil
		}
	}
	if progressErr == nil {
		v.state.Progress = v.state.Progress.Merge(progress)
	}
	if logsErr == nil {
		v.state.Logs = logs
	}

	status := v.state.Session.Status
	terminal := status.Terminal()
	keepGoing := !terminal && v.wantPollLocked()
	if !keepGoing {
		v.shouldPoll = false
		v.state.Polling = false
	}
	p := v.state.Progress
	v.mu.Unlock()

	outcome := "ok"
	switch {
	case progressErr != nil && logsErr != nil && sessionErr != nil:
		outcome = "error"
	case firstErr != nil:
		outcome = "partial"
	}
	v.deps.observer.PollTick(outcome, time.Since(start))

	log := slog.With("session_id", v.sessionID, "tick", n)
	if firstErr != nil {
		log.Warn("poll tick incomplete", "error", firstErr)
	}
	log.Debug("poll tick",
		"status", status,
		"success", p.Success,
		"failed", p.Failed,
		"total", p.Total,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if terminal {
		log.Info("import finished", "status", status, "success", p.Success, "failed", p.Failed, "total", p.Total)
		v.recordTerminal(ctx)
	}
	v.publish()
	return !keepGoing
}

// wantPollLocked is the engage condition: started here, or rows remain.
func (v *View) wantPollLocked() bool {
	if v.closed || v.state.Session.Status.Terminal() {
		return false
	}
	p := v.state.Progress
	return v.shouldPoll || (p.Known() && p.Processed() < p.Total)
}

func (v *View) evaluatePolling() {
	v.mu.Lock()
	want := v.wantPollLocked()
	v.mu.Unlock()

	if !want {
		return
	}
	if v.poller.Start(v.ctx) {
		slog.Debug("polling engaged", "session_id", v.sessionID)
	}
	v.mu.Lock()
	v.state.Polling = !v.closed
	v.mu.Unlock()
}

func (v *View) recordTerminal(ctx context.Context) {
	v.mu.Lock()
	status := v.state.Session.Status
	if !status.Terminal() || v.recorded[status] {
		v.mu.Unlock()
		return
	}
	v.recorded[status] = true
	rec := newRunRecord(v.state.Session, v.state.Progress, v.startedBy, v.deps.now())
	v.mu.Unlock()

	v.deps.observer.TerminalObserved(status)
	if v.deps.recorder == nil {
		return
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := v.deps.recorder.Record(rctx, rec); err != nil {
		slog.Warn("run history not recorded", "session_id", v.sessionID, "status", status, "error", err)
	}
}

func (v *View) fetchStatus(ctx context.Context) {
	progress, err := v.deps.runner.Status(ctx, v.sessionID)
	if err != nil {
		v.logWarn("status read failed", err)
		return
	}
	v.mu.Lock()
	v.state.Progress = v.state.Progress.Merge(progress)
	v.mu.Unlock()
}

func (v *View) fetchLogs(ctx context.Context) {
	logs, err := v.deps.runner.Logs(ctx, v.sessionID)
	if err != nil {
		v.logWarn("log read failed", err)
		return
	}
	v.mu.Lock()
	v.state.Logs = logs
	v.mu.Unlock()
}

func (v *View) applySession(session Session) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.state.Session = session
	v.state.Badge = StatusBadge(session.Status)
	if session.Status != StatusPending {
		v.state.Preview = nil
	}
}

func (v *View) applyPreview(snap *PreviewSnapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.state.Preview = snap
}

// addNotice appends a notice; err, when set, supplies the detail and code.
func (v *View) addNotice(level, message string, err error) {
	n := Notice{
		ID:        uuid.NewString(),
		Level:     level,
		Message:   message,
		CreatedAt: v.deps.now(),
	}
	if err != nil {
		n.Detail = Reason(err)
		n.Code = MapError(err).Code
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.state.Notices = append(v.state.Notices, n)
	if over := len(v.state.Notices) - maxNotices; over > 0 {
		v.state.Notices = append([]Notice(nil), v.state.Notices[over:]...)
	}
}

// publish sends the current state to every subscriber. A subscriber that
// has fallen behind loses its oldest pending snapshot, never the newest.
func (v *View) publish() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || len(v.subs) == 0 {
		return
	}
	snap := v.snapshotLocked()
	for _, ch := range v.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func (v *View) snapshotLocked() ViewState {
	s := v.state
	s.Logs = append([]LogEntry(nil), v.state.Logs...)
	s.Notices = append([]Notice(nil), v.state.Notices...)
	if v.state.Preview != nil {
		p := *v.state.Preview
		s.Preview = &p
	}
	if s.Logs == nil {
		s.Logs = []LogEntry{}
	}
	if s.Notices == nil {
		s.Notices = []Notice{}
	}
	return s
}

func (v *View) logWarn(msg string, err error) {
	level := slog.LevelWarn
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrMappingFrozen) || errors.Is(err, ErrJobStart) {
		level = slog.LevelInfo
	}
	slog.Log(context.Background(), level, msg, "session_id", v.sessionID, "error", err)
}
