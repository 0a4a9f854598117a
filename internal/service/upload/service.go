// Package upload receives streamed recordings over websocket connections and
// writes them to disk, one file per session.
package upload

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/zhouzirui/recstream/backend/internal/metrics"
	"github.com/zhouzirui/recstream/backend/internal/service/notify"
)

const tracerName = "github.com/zhouzirui/recstream/backend/internal/service/upload"

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Config controls where recordings land and how sessions behave.
type Config struct {
	BaseDir            string
	Extension          string
	DefaultCandidateID string
	// IdleTimeout closes a session that sends nothing for this long. Zero disables it.
	IdleTimeout time.Duration
}

// Archiver copies a finished recording elsewhere and returns its location.
type Archiver interface {
	Archive(ctx context.Context, localPath, key string) (string, error)
}

// Notifier announces finished sessions.
type Notifier interface {
	Publish(ctx context.Context, event notify.Event) error
}

// Target identifies the destination of one upload.
type Target struct {
	ID          string
	CandidateID string
	SessionID   string
	Path        string
}

// Result is what a session reports once its file is finalized.
type Result struct {
	Target
	Status          Status
	Err             error
	Chunks          int
	Bytes           int64
	StartedAt       time.Time
	FinishedAt      time.Time
	ArchiveLocation string
}

// Duration is the time between accept and finalize.
func (r Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Option customizes a Service.
type Option func(*Service)

// WithLocker adds a cross-process path lock.
func WithLocker(locker Locker) Option {
	return func(s *Service) { s.locker = locker }
}

// WithArchiver archives completed recordings.
func WithArchiver(archiver Archiver) Option {
	return func(s *Service) { s.archiver = archiver }
}

// WithNotifier publishes an event for every finished session.
func WithNotifier(notifier Notifier) Option {
	return func(s *Service) { s.notifier = notifier }
}

// WithMetrics records session metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// recordingSink is the write side of a session's destination file.
type recordingSink interface {
	Append(p []byte) error
	Close() error
}

func openFileSink(path string) (recordingSink, error) {
	sink, err := OpenSink(path)
	if err != nil {
		return nil, err
	}
	return sink, nil
}

// Service owns upload sessions: destination naming, locking, the receive loop
// and post-session delivery.
type Service struct {
	cfg      Config
	registry *registry
	locker   Locker
	archiver Archiver
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
	tracer   trace.Tracer
	openSink func(path string) (recordingSink, error)
	inflight sync.WaitGroup
}

// NewService builds a Service. cfg.BaseDir must exist before sessions run.
func NewService(cfg Config, opts ...Option) *Service {
	if cfg.Extension == "" {
		cfg.Extension = ".webm"
	}
	if cfg.DefaultCandidateID == "" {
		cfg.DefaultCandidateID = "anonymous"
	}

	s := &Service{
		cfg:      cfg,
		registry: newRegistry(),
		logger:   zap.NewNop(),
		tracer:   otel.Tracer(tracerName),
		openSink: openFileSink,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve derives the destination for a connection. An empty candidate uses
// the configured default and an empty session id is generated.
func (s *Service) Resolve(candidateID, sessionID string) (Target, error) {
	candidateID = strings.TrimSpace(candidateID)
	if candidateID == "" {
		candidateID = s.cfg.DefaultCandidateID
	}
	if !identifierPattern.MatchString(candidateID) {
		return Target{}, fmt.Errorf("%w: candidate %q", ErrInvalidIdentifier, candidateID)
	}

	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	} else if !identifierPattern.MatchString(sessionID) {
		return Target{}, fmt.Errorf("%w: session %q", ErrInvalidIdentifier, sessionID)
	}

	id := candidateID + "-" + sessionID
	return Target{
		ID:          id,
		CandidateID: candidateID,
		SessionID:   sessionID,
		Path:        filepath.Join(s.cfg.BaseDir, id+s.cfg.Extension),
	}, nil
}

// Run receives frames from conn into target until the sentinel, a disconnect
// or a failure. The file is flushed and closed before Run returns.
func (s *Service) Run(ctx context.Context, conn Conn, target Target) Result {
	ctx, span := s.tracer.Start(ctx, "upload.session", trace.WithAttributes(
		attribute.String("upload.id", target.ID),
		attribute.String("upload.candidate_id", target.CandidateID),
	))
	defer span.End()

	res := Result{Target: target, StartedAt: time.Now()}
	progress := newProgress(target, res.StartedAt)

	release, err := s.claim(ctx, progress)
	if err != nil {
		res.Status, res.Err, res.FinishedAt = StatusFailed, err, time.Now()
		s.metrics.SessionRejected(rejectReason(err))
		s.report(span, res)
		return res
	}
	s.metrics.SessionStarted()

	res.Status, res.Err = s.receive(ctx, conn, target, progress)
	progress.setState(terminalState(res.Status))
	res.Chunks, res.Bytes = progress.counts()
	res.FinishedAt = time.Now()
	release()

	s.metrics.SessionFinished(string(res.Status), res.Chunks, res.Bytes, res.Duration())
	s.report(span, res)
	return res
}

// claim reserves the destination in the registry and, with a locker, across
// processes. The returned func gives both back.
func (s *Service) claim(ctx context.Context, progress *Progress) (func(), error) {
	id := progress.target.ID
	if err := s.registry.register(progress); err != nil {
		return nil, err
	}
	if s.locker == nil {
		return func() { s.registry.unregister(id) }, nil
	}

	unlock, err := s.locker.Acquire(ctx, progress.target.Path)
	if err != nil {
		s.registry.unregister(id)
		return nil, err
	}
	return func() {
		unlock()
		s.registry.unregister(id)
	}, nil
}

func rejectReason(err error) string {
	if errors.Is(err, ErrDestinationBusy) {
		return "busy"
	}
	return string(StatusFailed)
}

func (s *Service) receive(ctx context.Context, conn Conn, target Target, progress *Progress) (status Status, err error) {
	sink, err := s.openSink(target.Path)
	if err != nil {
		return StatusFailed, err
	}
	defer func() {
		if closeErr := sink.Close(); closeErr != nil {
			status, err = StatusFailed, errors.Join(err, closeErr)
		}
	}()

	sess := &session{
		conn:        conn,
		sink:        sink,
		idleTimeout: s.cfg.IdleTimeout,
		progress:    progress,
	}
	return sess.run(ctx)
}

func (s *Service) report(span trace.Span, res Result) {
	fields := []zap.Field{
		zap.String("upload_id", res.ID),
		zap.String("candidate_id", res.CandidateID),
		zap.String("path", res.Path),
		zap.String("status", string(res.Status)),
		zap.Int("chunks", res.Chunks),
		zap.Int64("bytes", res.Bytes),
		zap.Duration("duration", res.Duration()),
	}
	span.SetAttributes(
		attribute.String("upload.status", string(res.Status)),
		attribute.Int64("upload.bytes", res.Bytes),
		attribute.Int("upload.chunks", res.Chunks),
	)

	switch res.Status {
	case StatusFailed:
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, "upload failed")
		s.logger.Error("upload session failed", append(fields, zap.Error(res.Err))...)
	case StatusDisconnected:
		s.logger.Info("upload session disconnected", fields...)
	default:
		if res.Chunks == 0 {
			s.logger.Warn("upload session completed without data", fields...)
			return
		}
		s.logger.Info("upload session completed", fields...)
	}
}

// Deliver archives a completed recording and publishes the outcome. Errors are
// logged and counted; the uploader never sees them.
func (s *Service) Deliver(ctx context.Context, res Result) Result {
	if res.Status == StatusCompleted && s.archiver != nil {
		location, err := s.archiver.Archive(ctx, res.Path, filepath.Base(res.Path))
		if err != nil {
			s.metrics.DeliveryFailed("archive")
			s.logger.Warn("archive recording failed", zap.String("upload_id", res.ID), zap.Error(err))
		} else {
			res.ArchiveLocation = location
			s.logger.Info("recording archived", zap.String("upload_id", res.ID), zap.String("location", location))
		}
	}

	if s.notifier != nil {
		if err := s.notifier.Publish(ctx, eventFor(res)); err != nil {
			s.metrics.DeliveryFailed("notify")
			s.logger.Warn("publish upload event failed", zap.String("upload_id", res.ID), zap.Error(err))
		}
	}
	return res
}

func eventFor(res Result) notify.Event {
	event := notify.Event{
		EventType:       notify.EventType,
		ID:              res.ID,
		CandidateID:     res.CandidateID,
		SessionID:       res.SessionID,
		File:            filepath.Base(res.Path),
		Outcome:         string(res.Status),
		Chunks:          res.Chunks,
		Bytes:           res.Bytes,
		DurationMs:      res.Duration().Milliseconds(),
		ArchiveLocation: res.ArchiveLocation,
		Timestamp:       res.FinishedAt.UTC(),
	}
	if res.Err != nil {
		event.Error = res.Err.Error()
	}
	return event
}

// Track marks one upload as in flight until done is called, so Wait can hold
// shutdown until its file is finalized and delivered.
func (s *Service) Track() (done func()) {
	s.inflight.Add(1)
	var once sync.Once
	return func() { once.Do(s.inflight.Done) }
}

// Wait blocks until every tracked upload is done or ctx ends.
func (s *Service) Wait(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Writing reports whether the recording file name belongs to a session that
// is still receiving.
func (s *Service) Writing(name string) bool {
	return s.registry.writing(name)
}

// Active lists the sessions currently receiving, oldest first.
func (s *Service) Active() []Snapshot {
	return s.registry.list()
}

// Snapshot returns the live progress of one active session.
func (s *Service) Snapshot(id string) (Snapshot, bool) {
	return s.registry.get(id)
}
