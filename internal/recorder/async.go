package recorder

import (
	"bytes"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"fdprec/internal/callgroup"
	"fdprec/internal/ecs"
	"fdprec/internal/logging"
)

// AsyncRecorder is the async layer over RecorderSystem (spec §4.8): two
// fixed capture buffers (front/back), a single worker goroutine, and a
// lock protecting the swap. Exactly one write is ever in flight.
type AsyncRecorder struct {
	file   *os.File
	logger *slog.Logger
	sysRec *RecorderSystem
	repo   *ecs.Repository

	sessionID uuid.UUID

	mu          sync.Mutex
	front       *bytes.Buffer
	back        *bytes.Buffer
	writingBack bool
	doneCh      chan struct{}
	workerErr   error

	workSignal chan struct{}
	closeCh    chan struct{}
	workerDone chan struct{}

	recordedFrames atomic.Int64
	droppedFrames  atomic.Int64

	flushWaiters callgroup.Group[string]

	autoKeyframeInterval time.Duration
	scheduler            gocron.Scheduler
}

// Option configures a new AsyncRecorder.
type Option func(*AsyncRecorder)

// WithLogger attaches a structured logger; nil yields a discard logger.
func WithLogger(logger *slog.Logger) Option {
	return func(ar *AsyncRecorder) { ar.logger = logger }
}

// WithAutoKeyframe enables a periodic background keyframe capture of the
// recorder's bound repository every interval, layered on top of whatever
// explicit capture_* calls the application makes (spec §5A: a second
// producer sharing the same buffer-swap lock, no new concurrency
// primitive).
func WithAutoKeyframe(interval time.Duration) Option {
	return func(ar *AsyncRecorder) { ar.autoKeyframeInterval = interval }
}

// NewAsyncRecorder opens path, writes the global header and repo's
// component dictionary, and starts the worker goroutine (and, if
// WithAutoKeyframe was given, a cron scheduler). A recorder captures from
// exactly one repository for its lifetime (spec design note iii forbids a
// diverged source/target mismatch; binding one repo at construction is the
// natural tightening of that rule).
func NewAsyncRecorder(path string, repo *ecs.Repository, bus EventBus, opts ...Option) (*AsyncRecorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if err := WriteRecordingHeader(f, repo); err != nil {
		f.Close()
		return nil, err
	}
	sessionID, err := uuid.NewV7()
	if err != nil {
		f.Close()
		return nil, err
	}

	ar := &AsyncRecorder{
		file:       f,
		sysRec:     NewRecorderSystem(bus),
		repo:       repo,
		sessionID:  sessionID,
		front:      &bytes.Buffer{},
		back:       &bytes.Buffer{},
		workSignal: make(chan struct{}, 1),
		closeCh:    make(chan struct{}),
		workerDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(ar)
	}
	ar.logger = logging.Default(ar.logger).With("component", "recorder", "session", sessionID.String())

	go ar.runWorker()

	if ar.autoKeyframeInterval > 0 {
		if err := ar.startAutoKeyframe(); err != nil {
			ar.logger.Error("auto-keyframe scheduler disabled", "error", err)
		}
	}

	return ar, nil
}

func (ar *AsyncRecorder) startAutoKeyframe() error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	_, err = s.NewJob(
		gocron.DurationJob(ar.autoKeyframeInterval),
		gocron.NewTask(func() {
			if err := ar.CaptureKeyframe(false); err != nil {
				ar.logger.Error("auto-keyframe capture failed", "error", err)
			}
		}),
		gocron.WithName("fdprec-auto-keyframe-"+ar.sessionID.String()),
	)
	if err != nil {
		return err
	}
	ar.scheduler = s
	s.Start()
	ar.logger.Info("auto-keyframe scheduler started", "interval", ar.autoKeyframeInterval)
	return nil
}

// SessionID returns this recorder's UUIDv7 session tag.
func (ar *AsyncRecorder) SessionID() uuid.UUID { return ar.sessionID }

// RecordedFrames returns the number of captures that were serialized and
// handed to the worker (as opposed to dropped).
func (ar *AsyncRecorder) RecordedFrames() int64 { return ar.recordedFrames.Load() }

// DroppedFrames returns the number of non-blocking captures that were
// skipped because a write was already in flight.
func (ar *AsyncRecorder) DroppedFrames() int64 { return ar.droppedFrames.Load() }

// CaptureKeyframe captures a full snapshot of the bound repository.
func (ar *AsyncRecorder) CaptureKeyframe(blocking bool) error {
	return ar.capture(FrameKeyframe, 0, blocking)
}

// CaptureFrame captures a delta of the bound repository covering chunks
// dirtied since prevTick.
func (ar *AsyncRecorder) CaptureFrame(prevTick uint32, blocking bool) error {
	return ar.capture(FrameDelta, prevTick, blocking)
}

func (ar *AsyncRecorder) capture(frameType FrameType, prevTick uint32, blocking bool) error {
	ar.mu.Lock()
	if ar.workerErr != nil {
		err := ar.workerErr
		ar.mu.Unlock()
		return err
	}

	for ar.writingBack {
		if !blocking {
			ar.mu.Unlock()
			ar.droppedFrames.Add(1)
			return nil
		}
		done := ar.doneCh
		ar.mu.Unlock()

		// Coalesce concurrent blocking waiters onto the single in-flight
		// write: only the first caller actually blocks on done, everyone
		// else joins its result.
		if err := <-ar.flushWaiters.DoChan("flush", func() error {
			<-done
			ar.mu.Lock()
			werr := ar.workerErr
			ar.mu.Unlock()
			return werr
		}); err != nil {
			return err
		}
		ar.mu.Lock()
	}

	ar.front.Reset()
	if err := ar.sysRec.encodeInto(ar.front, ar.repo, frameType, prevTick); err != nil {
		ar.mu.Unlock()
		return err
	}

	ar.front, ar.back = ar.back, ar.front
	ar.writingBack = true
	done := make(chan struct{})
	ar.doneCh = done
	ar.mu.Unlock()

	select {
	case ar.workSignal <- struct{}{}:
	default:
	}
	ar.recordedFrames.Add(1)

	if blocking {
		<-done
		ar.mu.Lock()
		err := ar.workerErr
		ar.mu.Unlock()
		return err
	}
	return nil
}

func (ar *AsyncRecorder) runWorker() {
	defer close(ar.workerDone)
	for {
		select {
		case <-ar.closeCh:
			return
		case <-ar.workSignal:
			ar.mu.Lock()
			buf := ar.back
			done := ar.doneCh
			ar.mu.Unlock()

			_, writeErr := buf.WriteTo(ar.file)
			buf.Reset()

			ar.mu.Lock()
			ar.writingBack = false
			if writeErr != nil {
				ar.workerErr = writeErr
			}
			ar.mu.Unlock()
			close(done)

			if writeErr != nil {
				ar.logger.Error("recorder write failed", "error", writeErr)
				return
			}
		}
	}
}

// Dispose drains any pending write, stops the worker (and the auto-keyframe
// scheduler, if any), closes the file, and re-raises any stored worker
// error.
func (ar *AsyncRecorder) Dispose() error {
	ar.mu.Lock()
	writing := ar.writingBack
	done := ar.doneCh
	ar.mu.Unlock()
	if writing && done != nil {
		<-done
	}

	close(ar.closeCh)
	<-ar.workerDone

	if ar.scheduler != nil {
		if err := ar.scheduler.Shutdown(); err != nil {
			ar.logger.Warn("auto-keyframe scheduler shutdown error", "error", err)
		}
	}

	closeErr := ar.file.Close()

	ar.mu.Lock()
	defer ar.mu.Unlock()
	if ar.workerErr != nil {
		return ar.workerErr
	}
	return closeErr
}
