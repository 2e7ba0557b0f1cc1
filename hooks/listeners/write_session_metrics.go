package listeners

import (
	"context"
	"expvar"
	"io"
	"log/slog"
	"sync"

	"github.com/INLOpen/tablewrite/hooks"
)

var (
	// Use sync.Once so NewWriteSessionMetricsListener can be called repeatedly
	// without re-publishing the expvars.
	writeMetricsOnce   sync.Once
	sessionsByMode     *expvar.Map
	commitsSucceeded   *expvar.Int
	commitsFailed      *expvar.Int
	sessionsAborted    *expvar.Int
	coordinatedStarted *expvar.Int
)

func initWriteMetrics() {
	writeMetricsOnce.Do(func() {
		sessionsByMode = expvar.NewMap("write_sessions_started_by_mode")
		coordinatedStarted = expvar.NewInt("write_sessions_coordinated_total")
		commitsSucceeded = expvar.NewInt("write_commits_succeeded_total")
		commitsFailed = expvar.NewInt("write_commits_failed_total")
		sessionsAborted = expvar.NewInt("write_sessions_aborted_total")
		// Share of commit attempts rejected, mostly by conflict resolution.
		expvar.Publish("write_commit_failure_ratio", expvar.Func(func() interface{} {
			total := commitsSucceeded.Value() + commitsFailed.Value()
			if total == 0 {
				return 0.0
			}
			return float64(commitsFailed.Value()) / float64(total)
		}))
	})
}

// WriteSessionMetricsListener counts write sessions and commit outcomes per
// concurrency mode.
type WriteSessionMetricsListener struct {
	logger *slog.Logger
}

// NewWriteSessionMetricsListener creates a new listener.
func NewWriteSessionMetricsListener(logger *slog.Logger) *WriteSessionMetricsListener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	initWriteMetrics()
	return &WriteSessionMetricsListener{
		logger: logger.With("component", "WriteSessionMetricsListener"),
	}
}

// Register subscribes the listener to every event it understands.
func (l *WriteSessionMetricsListener) Register(m hooks.HookManager) {
	m.Register(hooks.EventPostBeginWrite, l)
	m.Register(hooks.EventPostCommitWrite, l)
	m.Register(hooks.EventPostAbortWrite, l)
}

func (l *WriteSessionMetricsListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	switch event.Type() {
	case hooks.EventPostBeginWrite:
		p, ok := event.Payload().(hooks.WriteSessionPayload)
		if !ok {
			return nil
		}
		sessionsByMode.Add(p.Mode.String(), 1)
		if p.Coordinated {
			coordinatedStarted.Add(1)
		}
	case hooks.EventPostCommitWrite:
		p, ok := event.Payload().(hooks.PostCommitWritePayload)
		if !ok {
			return nil
		}
		if p.Error != nil {
			commitsFailed.Add(1)
			l.logger.Debug("Commit failed", "session_id", p.SessionID, "instant", p.Instant, "error", p.Error)
		} else {
			commitsSucceeded.Add(1)
		}
	case hooks.EventPostAbortWrite:
		sessionsAborted.Add(1)
	}
	return nil
}

// Priority defines the execution order. Lower numbers run first.
func (l *WriteSessionMetricsListener) Priority() int {
	return 100
}

// IsAsync indicates this listener can run in the background.
func (l *WriteSessionMetricsListener) IsAsync() bool {
	return true
}
