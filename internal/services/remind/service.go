package remind

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"wendybot/pkg/logx"
)

type Service struct {
	cfg  Config
	deps Deps
	log  logx.Logger

	mu        sync.Mutex
	batteries map[string]*battery
	epochs    map[string]uint64

	queue     chan task
	stopCh    chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
	c         *cron.Cron
}

func New(cfg Config, deps Deps, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:       cfg.withDefaults(),
		deps:      deps,
		log:       log,
		batteries: map[string]*battery{},
		epochs:    map[string]uint64{},
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	s.stopCh = make(chan struct{})
	s.queue = make(chan task, s.cfg.QueueSize)
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	runCtx := s.runCtx
	stopCh := s.stopCh
	queue := s.queue
	workers := s.cfg.Workers

	s.c = cron.New()
	if _, err := s.c.AddFunc(s.cfg.SweepSpec, s.sweep); err != nil {
		s.log.Error("sweep schedule rejected", logx.String("spec", s.cfg.SweepSpec), logx.Err(err))
	}
	s.c.Start()
	s.mu.Unlock()

	s.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in remind worker",
						logx.Int("worker", idx), logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())))
				}
			}()
			s.worker(runCtx, stopCh, queue)
		}()
	}
	s.log.Info("service started",
		logx.Int("workers", workers), logx.Int("steps", len(s.cfg.Steps)),
		logx.String("sweep", s.cfg.SweepSpec))
}

// Stop retracts every armed battery and drains the worker pool. Timers that
// already fired may still be queued; workers drop them once their epoch no
// longer matches.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	stopCh := s.stopCh
	cancel := s.runCancel
	c := s.c
	s.stopCh = nil
	s.runCtx = nil
	s.runCancel = nil
	s.c = nil
	for key := range s.batteries {
		s.stopLocked(key)
	}
	s.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		cancel()
	}
	if c != nil {
		<-c.Stop().Done()
	}

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("service stopped")
	case <-ctx.Done():
		s.log.Warn("stop wait cancelled", logx.Err(ctx.Err()))
	}
}

// StartSchedule arms the battery for key. Any previous battery for the
// same key is fully retracted first, so duplicate reminders cannot fire
// across revote cycles.
func (s *Service) StartSchedule(key string) {
	s.mu.Lock()
	s.stopLocked(key)

	epoch := s.epochs[key] + 1
	s.epochs[key] = epoch

	b := &battery{epoch: epoch, armedAt: time.Now()}
	for _, step := range s.cfg.Steps {
		step := step
		b.timers = append(b.timers, time.AfterFunc(step.After, func() {
			s.fire(key, epoch, step)
		}))
	}
	s.batteries[key] = b
	s.mu.Unlock()

	s.log.Info("schedule started", logx.String("key", key), logx.Uint64("epoch", epoch))
}

// StopSchedule retracts the battery for key. Missing batteries and timers
// that already fired or were cancelled are fine; cancellation is advisory.
func (s *Service) StopSchedule(key string) {
	s.mu.Lock()
	stopped := s.stopLocked(key)
	s.mu.Unlock()
	if stopped {
		s.log.Info("schedule stopped", logx.String("key", key))
	}
}

// stopLocked retracts key's battery and bumps its epoch so in-flight fires
// turn into no-ops. Call with s.mu held.
func (s *Service) stopLocked(key string) bool {
	b, ok := s.batteries[key]
	if !ok {
		return false
	}
	for _, t := range b.timers {
		_ = t.Stop()
	}
	delete(s.batteries, key)
	s.epochs[key] = b.epoch + 1
	return true
}

// HasSchedule reports whether a battery is currently armed for key.
func (s *Service) HasSchedule(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.batteries[key]
	return ok
}

// ArmedSteps returns the number of callbacks the current battery for key
// was armed with (0 when none is armed).
func (s *Service) ArmedSteps(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batteries[key]
	if !ok {
		return 0
	}
	return len(b.timers)
}

// fire runs on the timer goroutine: validate the epoch, then hand off to
// the worker pool. Never does I/O itself.
func (s *Service) fire(key string, epoch uint64, step Step) {
	s.mu.Lock()
	b, ok := s.batteries[key]
	if !ok || b.epoch != epoch {
		s.mu.Unlock()
		s.log.Debug("stale timer ignored", logx.String("key", key), logx.String("step", step.Name))
		return
	}
	q := s.queue
	s.mu.Unlock()

	if q == nil {
		s.log.Debug("service not running; dropping step", logx.String("key", key), logx.String("step", step.Name))
		return
	}
	select {
	case q <- task{key: key, epoch: epoch, step: step}:
	default:
		s.log.Warn("remind queue full; dropping step",
			logx.String("key", key), logx.String("step", step.Name), logx.Int("queue_cap", cap(q)))
	}
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan task) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t := <-queue:
			s.execOne(ctx, t)
		}
	}
}

func (s *Service) execOne(ctx context.Context, t task) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in remind step",
				logx.String("key", t.key), logx.String("step", t.step.Name),
				logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()

	// The battery may have been retracted between fire and execution.
	s.mu.Lock()
	b, ok := s.batteries[t.key]
	current := ok && b.epoch == t.epoch
	s.mu.Unlock()
	if !current {
		s.log.Debug("superseded step dropped", logx.String("key", t.key), logx.String("step", t.step.Name))
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.StepTimeout)
	defer cancel()

	if err := s.runStep(runCtx, t.key, t.step); err != nil {
		// Never propagate: one failing reminder must not cancel the rest
		// of the battery.
		s.log.Warn("remind step failed",
			logx.String("key", t.key), logx.String("step", t.step.Name), logx.Err(err))
	}
}

func (s *Service) sweep() {
	expired := s.deps.Sessions.ExpireIdle(s.cfg.MaxIdle)
	if len(expired) > 0 {
		s.log.Info("idle sessions swept", logx.Int("count", len(expired)))
	}
}
