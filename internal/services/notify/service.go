// Package notify is the asynchronous egress pipeline: reminder callbacks
// and command handlers enqueue platform-agnostic notifications; a small
// worker pool performs the actual sends with rate limiting and retry, so
// timer precision is never coupled to Telegram latency.
package notify

import (
	"context"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"wendybot/internal/kit"
	"wendybot/internal/storage"
	"wendybot/pkg/logx"
)

type Service struct {
	mu sync.Mutex

	log     logx.Logger
	adapter kit.Adapter
	store   storage.Store // nil = audit disabled

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	queue     chan kit.Notification
	stopDone  chan struct{}

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
	sendWG    sync.WaitGroup
}

func New(cfg Config, adapter kit.Adapter, store storage.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Service{
		log:     log,
		adapter: adapter,
		store:   store,
		cfg:     cfg,
		// Burst = rate per sec so short spikes don't block too hard.
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan kit.Notification, s.cfg.QueueSize)
	s.accepting = true
	s.stopDone = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	workers := s.cfg.Workers
	queue := s.queue
	runCtx := s.runCtx
	s.mu.Unlock()

	s.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in notify worker",
						logx.Int("worker", idx), logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())))
				}
			}()
			for n := range queue {
				select {
				case <-runCtx.Done():
					return
				default:
				}
				s.sendWithRetry(runCtx, n)
			}
		}()
	}
	s.log.Info("service started", logx.Int("workers", workers), logx.Int("rate_per_sec", s.cfg.RatePerSec))
}

// Stop blocks intake and drains the queue best-effort until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q := s.queue
	done := s.stopDone
	cancel := s.runCancel
	if q == nil {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.mu.Unlock()

	// Wait for in-flight enqueues before closing the queue; a Notify that
	// passed the accepting check may still be about to send.
	enq := make(chan struct{})
	go func() {
		s.sendWG.Wait()
		close(enq)
	}()
	select {
	case <-enq:
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		s.log.Warn("drain cancelled", logx.Err(ctx.Err()))
		return
	}

	func() {
		defer func() { _ = recover() }()
		close(q)
	}()

	go func() {
		s.workerWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("service stopped")
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		s.log.Warn("drain cancelled", logx.Err(ctx.Err()))
	}

	s.mu.Lock()
	s.queue = nil
	s.stopDone = nil
	s.runCancel = nil
	s.runCtx = nil
	s.mu.Unlock()
}

// Notify enqueues a notification. It never blocks: a full queue is an
// error the caller may log, not wait out.
func (s *Service) Notify(ctx context.Context, n kit.Notification) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	s.mu.Lock()
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	// Taken under the lock so Stop cannot close the queue between the
	// accepting check and the send below.
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	select {
	case q <- n:
		return nil
	default:
		s.log.Warn("queue full; notification dropped",
			logx.String("channel", n.Channel), logx.Int64("chat_id", n.Target.ChatID))
		return ErrQueueFull
	}
}

func (s *Service) sendWithRetry(runCtx context.Context, n kit.Notification) {
	if n.Text == "" {
		return
	}

	maxAttempts := 1 + s.cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := s.limiter.Wait(runCtx); err != nil {
			return
		}

		callCtx, cancel := context.WithTimeout(runCtx, 10*time.Second)
		_, err := s.adapter.SendText(callCtx, n.Target, n.Text, n.Options)
		cancel()
		if err == nil {
			s.audit(n, attempt, nil)
			s.log.Debug("notification sent",
				logx.String("channel", n.Channel), logx.Int64("chat_id", n.Target.ChatID),
				logx.Int("attempt", attempt))
			return
		}
		lastErr = err
		s.log.Debug("send failed",
			logx.String("channel", n.Channel), logx.Err(err),
			logx.Int("attempt", attempt), logx.Int("max", maxAttempts))

		if attempt >= maxAttempts {
			break
		}
		t := time.NewTimer(retryDelay(s.cfg, attempt))
		select {
		case <-t.C:
		case <-runCtx.Done():
			if !t.Stop() {
				<-t.C
			}
			return
		}
	}

	// Delivery is best-effort: record the failure and move on.
	s.audit(n, maxAttempts, lastErr)
	s.log.Warn("notification delivery failed",
		logx.String("channel", n.Channel), logx.Int64("chat_id", n.Target.ChatID), logx.Err(lastErr))
}

func (s *Service) audit(n kit.Notification, attempts int, sendErr error) {
	if s.store == nil {
		return
	}
	e := storage.DeliveryEntry{
		At:       time.Now(),
		Channel:  n.Channel,
		ChatID:   n.Target.ChatID,
		ThreadID: n.Target.ThreadID,
		Text:     n.Text,
		Attempts: attempts,
	}
	if sendErr != nil {
		e.Error = sendErr.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.store.AppendDelivery(ctx, e); err != nil {
		s.log.Debug("delivery audit write failed", logx.Err(err))
	}
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// Exponential backoff: base * 2^(attempt-1), jittered 0.7..1.3.
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	if d < 0 {
		return 0
	}
	return d
}
