package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"wendybot/internal/kit"
	"wendybot/pkg/logx"
)

type fakeAdapter struct {
	mu    sync.Mutex
	sent  []string
	fail  int // fail this many sends before succeeding
	block chan struct{} // when set, SendText waits on it

	sendCh chan string
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{sendCh: make(chan string, 32)}
}

func (a *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error                     { return nil }

func (a *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	if a.block != nil {
		select {
		case <-a.block:
		case <-ctx.Done():
			return kit.MessageRef{}, ctx.Err()
		}
	}
	a.mu.Lock()
	if a.fail > 0 {
		a.fail--
		a.mu.Unlock()
		return kit.MessageRef{}, errors.New("send failed")
	}
	a.sent = append(a.sent, text)
	a.mu.Unlock()
	a.sendCh <- text
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (a *fakeAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}

func (a *fakeAdapter) AnswerCallback(context.Context, string, string) error { return nil }

func (a *fakeAdapter) sentCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sent)
}

func note(text string) kit.Notification {
	return kit.Notification{Channel: "test", Target: kit.ChatTarget{ChatID: 7}, Text: text}
}

func TestNotifyDelivers(t *testing.T) {
	t.Parallel()
	ad := newFakeAdapter()
	s := New(Config{RatePerSec: 100}, ad, nil, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	if err := s.Notify(ctx, note("hello")); err != nil {
		t.Fatalf("Notify error: %v", err)
	}

	select {
	case got := <-ad.sendCh:
		if got != "hello" {
			t.Fatalf("sent %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notification never delivered")
	}
}

func TestNotifyBeforeStart(t *testing.T) {
	t.Parallel()
	s := New(Config{}, newFakeAdapter(), nil, logx.Nop())
	if err := s.Notify(context.Background(), note("x")); !errors.Is(err, ErrStopped) {
		t.Fatalf("Notify = %v, want ErrStopped", err)
	}
}

func TestNotifyAfterStop(t *testing.T) {
	t.Parallel()
	s := New(Config{RatePerSec: 100}, newFakeAdapter(), nil, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	s.Stop(context.Background())

	if err := s.Notify(context.Background(), note("x")); !errors.Is(err, ErrStopped) {
		t.Fatalf("Notify = %v, want ErrStopped", err)
	}
}

func TestNotifyQueueFull(t *testing.T) {
	t.Parallel()
	ad := newFakeAdapter()
	ad.block = make(chan struct{})
	s := New(Config{Workers: 1, QueueSize: 1, RatePerSec: 100}, ad, nil, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer func() {
		close(ad.block)
		s.Stop(context.Background())
	}()

	// The single worker blocks on the first send; the buffer then fills.
	var sawFull bool
	for i := 0; i < 50; i++ {
		if err := s.Notify(ctx, note("x")); errors.Is(err, ErrQueueFull) {
			sawFull = true
			break
		}
		time.Sleep(time.Millisecond)
	}
	if !sawFull {
		t.Fatal("queue never reported full")
	}
}

func TestRetryEventuallySucceeds(t *testing.T) {
	t.Parallel()
	ad := newFakeAdapter()
	ad.fail = 2
	s := New(Config{
		RatePerSec: 100,
		RetryMax:   3,
		RetryBase:  time.Millisecond,
	}, ad, nil, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	if err := s.Notify(ctx, note("retry me")); err != nil {
		t.Fatalf("Notify error: %v", err)
	}

	select {
	case <-ad.sendCh:
	case <-time.After(2 * time.Second):
		t.Fatal("retried notification never delivered")
	}
	if got := ad.sentCount(); got != 1 {
		t.Fatalf("sent %d times, want 1", got)
	}
}

func TestEmptyTextSkipped(t *testing.T) {
	t.Parallel()
	ad := newFakeAdapter()
	s := New(Config{RatePerSec: 100}, ad, nil, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	if err := s.Notify(ctx, note("")); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	s.Stop(context.Background()) // drains the queue
	if got := ad.sentCount(); got != 0 {
		t.Fatalf("empty notification was sent %d times", got)
	}
}

func TestStopWaitsForInflightNotify(t *testing.T) {
	t.Parallel()
	// Hammer Notify from several goroutines across many service lifecycles.
	// A Notify that passed the accepting check must complete its enqueue
	// before Stop closes the queue; a send on a closed channel panics and
	// fails the test.
	for round := 0; round < 200; round++ {
		ad := newFakeAdapter()
		s := New(Config{Workers: 2, QueueSize: 64, RatePerSec: 1000}, ad, nil, logx.Nop())

		ctx, cancel := context.WithCancel(context.Background())
		s.Start(ctx)

		drained := make(chan struct{})
		go func() {
			defer close(drained)
			for range ad.sendCh {
			}
		}()

		var wg sync.WaitGroup
		stop := make(chan struct{})
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-stop:
						return
					default:
					}
					if err := s.Notify(context.Background(), note("x")); errors.Is(err, ErrStopped) {
						return
					}
				}
			}()
		}

		s.Stop(context.Background())
		close(stop)
		wg.Wait()
		cancel()
		close(ad.sendCh)
		<-drained

		if err := s.Notify(context.Background(), note("late")); !errors.Is(err, ErrStopped) {
			t.Fatalf("round %d: Notify after Stop = %v, want ErrStopped", round, err)
		}
	}
}

func TestRetryDelayBounds(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 500 * time.Millisecond, RetryMaxDelay: 10 * time.Second}.withDefaults()
	for attempt := 1; attempt <= 10; attempt++ {
		d := retryDelay(cfg, attempt)
		if d < 0 || d > cfg.RetryMaxDelay {
			t.Fatalf("attempt %d: delay %v out of bounds", attempt, d)
		}
	}
}
