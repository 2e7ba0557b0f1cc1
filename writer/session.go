package writer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/INLOpen/tablewrite/config"
	"github.com/INLOpen/tablewrite/core"
	"github.com/INLOpen/tablewrite/hooks"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/INLOpen/tablewrite/writer"

var (
	ErrSessionStarted    = errors.New("write session already started")
	ErrSessionNotStarted = errors.New("write session not started")
	ErrSessionFinished   = errors.New("write session already finished")
	// ErrMissingCoordinator is returned by New when optimistic concurrency
	// control is selected without a lock provider or conflict resolver.
	ErrMissingCoordinator = errors.New("optimistic concurrency control requires a lock provider and a conflict resolver")
)

// LockProvider is the table lock used under optimistic concurrency control.
// Implementations live outside this module.
type LockProvider interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
}

// ConflictResolver checks a pending commit against commits that completed
// since the session began. A non-nil error means the commit must not land.
type ConflictResolver interface {
	ResolveConflicts(ctx context.Context, commit Commit) error
}

// CommitPublisher makes a commit visible, typically by writing it to the
// table's timeline.
type CommitPublisher interface {
	Publish(ctx context.Context, commit Commit) error
}

// Commit describes the change a session wants to land.
type Commit struct {
	Instant    string
	FileGroups []string
}

type sessionState int

const (
	stateIdle sessionState = iota
	stateBegun
	stateCommitted
	stateAborted
)

// Options configures a Session.
type Options struct {
	Mode               core.WriteConcurrencyMode
	LockProvider       LockProvider
	ConflictResolver   ConflictResolver
	Publisher          CommitPublisher // optional
	LockAcquireTimeout time.Duration   // 0 means config.DefaultLockAcquireTimeout
	HookManager        hooks.HookManager
	Logger             *slog.Logger
	Tracer             trace.Tracer
	SessionID          string // generated when empty
}

// Session drives a single write against a table. It asks the concurrency
// mode once, at construction, whether coordination is required and then
// engages the lock provider and conflict resolver only in that case.
type Session struct {
	id          string
	mode        core.WriteConcurrencyMode
	coordinated bool

	lock      LockProvider
	resolver  ConflictResolver
	publisher CommitPublisher
	timeout   time.Duration
	hooks     hooks.HookManager
	logger    *slog.Logger
	tracer    trace.Tracer

	mu       sync.Mutex
	state    sessionState
	lockHeld bool
}

// New creates a Session. For SingleWriter the lock provider and conflict
// resolver are ignored; for OptimisticConcurrencyControl both are required.
func New(opts Options) (*Session, error) {
	coordinated := opts.Mode.SupportsOptimisticConcurrencyControl()
	if coordinated && (opts.LockProvider == nil || opts.ConflictResolver == nil) {
		return nil, &core.ConfigurationError{
			Key:   core.WriteConcurrencyModeKey,
			Value: opts.Mode.String(),
			Err:   ErrMissingCoordinator,
		}
	}

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.HookManager == nil {
		opts.HookManager = hooks.NewHookManager(opts.Logger)
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	if opts.LockAcquireTimeout <= 0 {
		opts.LockAcquireTimeout = config.DefaultLockAcquireTimeout
	}
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}

	s := &Session{
		id:          opts.SessionID,
		mode:        opts.Mode,
		coordinated: coordinated,
		publisher:   opts.Publisher,
		timeout:     opts.LockAcquireTimeout,
		hooks:       opts.HookManager,
		tracer:      opts.Tracer,
		logger: opts.Logger.With(
			"component", "WriteSession",
			"session_id", opts.SessionID,
			"concurrency_mode", opts.Mode.String(),
		),
	}
	if coordinated {
		s.lock = opts.LockProvider
		s.resolver = opts.ConflictResolver
	}
	return s, nil
}

// FromConfig builds a Session from loaded configuration. The mode and lock
// acquire timeout come from cfg and override those fields of opts; every
// other option, such as collaborators, hooks and tracer, is passed through.
func FromConfig(cfg *config.Config, opts Options) (*Session, error) {
	mode, err := cfg.Write.Mode()
	if err != nil {
		return nil, err
	}
	opts.Mode = mode
	opts.LockAcquireTimeout = cfg.Write.LockAcquireTimeout(opts.Logger)
	return New(opts)
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Mode returns the concurrency mode the session was created with.
func (s *Session) Mode() core.WriteConcurrencyMode { return s.mode }

// Coordinated reports whether the session uses the lock provider and
// conflict resolver.
func (s *Session) Coordinated() bool { return s.coordinated }

func (s *Session) payload() hooks.WriteSessionPayload {
	return hooks.WriteSessionPayload{SessionID: s.id, Mode: s.mode, Coordinated: s.coordinated}
}

// Begin starts the session. Under optimistic concurrency control it blocks
// until the table lock is acquired, the lock acquire timeout elapses, or ctx
// is done. Hooks run without the session mutex held, so listeners may call
// back into the session.
func (s *Session) Begin(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "WriteSession.Begin", trace.WithAttributes(
		attribute.String("write.concurrency_mode", s.mode.String()),
		attribute.Bool("write.coordinated", s.coordinated),
	))
	defer span.End()

	s.mu.Lock()
	err := s.checkIdle()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if err := s.hooks.Trigger(ctx, hooks.NewPreBeginWriteEvent(s.payload())); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pre-hook rejected write session")
		return fmt.Errorf("write session rejected: %w", err)
	}

	if err := s.begin(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "begin failed")
		return err
	}

	_ = s.hooks.Trigger(ctx, hooks.NewPostBeginWriteEvent(s.payload()))
	return nil
}

// checkIdle must be called with s.mu held.
func (s *Session) checkIdle() error {
	switch s.state {
	case stateBegun:
		return ErrSessionStarted
	case stateCommitted, stateAborted:
		return ErrSessionFinished
	}
	return nil
}

func (s *Session) begin(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A pre-hook may have finished the session already.
	if err := s.checkIdle(); err != nil {
		return err
	}

	if s.coordinated {
		lockCtx, cancel := context.WithTimeout(ctx, s.timeout)
		start := time.Now()
		err := s.lock.Lock(lockCtx)
		cancel()
		if err != nil {
			s.logger.Error("Failed to acquire table lock", "timeout", s.timeout, "error", err)
			return fmt.Errorf("failed to acquire table lock: %w", err)
		}
		s.lockHeld = true
		s.logger.Debug("Acquired table lock", "wait", time.Since(start))
	}

	s.state = stateBegun
	s.logger.Info("Write session started", "coordinated", s.coordinated)
	return nil
}

// Commit lands c. Under optimistic concurrency control conflicts are resolved
// before publishing and the lock is released whatever the outcome. A conflict
// aborts the session.
func (s *Session) Commit(ctx context.Context, c Commit) error {
	ctx, span := s.tracer.Start(ctx, "WriteSession.Commit", trace.WithAttributes(
		attribute.String("write.concurrency_mode", s.mode.String()),
		attribute.String("write.instant", c.Instant),
		attribute.Int("write.file_groups", len(c.FileGroups)),
	))
	defer span.End()

	finished, err := s.commit(ctx, c)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
	}
	if finished {
		_ = s.hooks.Trigger(ctx, hooks.NewPostCommitWriteEvent(hooks.PostCommitWritePayload{
			WriteSessionPayload: s.payload(),
			Instant:             c.Instant,
			Error:               err,
		}))
	}
	return err
}

// commit reports finished when the session left the begun state, whether or
// not the commit landed.
func (s *Session) commit(ctx context.Context, c Commit) (finished bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateIdle:
		return false, ErrSessionNotStarted
	case stateCommitted, stateAborted:
		return false, ErrSessionFinished
	}

	defer func() {
		if err != nil {
			s.state = stateAborted
		} else {
			s.state = stateCommitted
		}
	}()

	if s.coordinated {
		defer func() {
			if unlockErr := s.releaseLock(ctx); unlockErr != nil {
				err = errors.Join(err, unlockErr)
			}
		}()
		if resolveErr := s.resolver.ResolveConflicts(ctx, c); resolveErr != nil {
			s.logger.Warn("Commit aborted by conflict resolution", "instant", c.Instant, "error", resolveErr)
			return true, fmt.Errorf("commit %s aborted: %w", c.Instant, resolveErr)
		}
	}

	if s.publisher != nil {
		if pubErr := s.publisher.Publish(ctx, c); pubErr != nil {
			return true, fmt.Errorf("failed to publish commit %s: %w", c.Instant, pubErr)
		}
	}

	s.logger.Info("Commit completed", "instant", c.Instant, "file_groups", len(c.FileGroups))
	return true, nil
}

// Abort ends the session without committing and releases the lock if held.
// Aborting a finished session is a no-op.
func (s *Session) Abort(ctx context.Context) error {
	aborted, err := s.abort(ctx)
	if aborted {
		_ = s.hooks.Trigger(ctx, hooks.NewPostAbortWriteEvent(s.payload()))
	}
	return err
}

func (s *Session) abort(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateCommitted, stateAborted:
		return false, nil
	}
	s.state = stateAborted

	err := s.releaseLock(ctx)
	s.logger.Info("Write session aborted")
	return true, err
}

// releaseLock must be called with s.mu held.
func (s *Session) releaseLock(ctx context.Context) error {
	if !s.lockHeld {
		return nil
	}
	s.lockHeld = false
	if err := s.lock.Unlock(ctx); err != nil {
		s.logger.Error("Failed to release table lock", "error", err)
		return fmt.Errorf("failed to release table lock: %w", err)
	}
	return nil
}
