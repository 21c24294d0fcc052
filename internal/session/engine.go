package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"wendybot/internal/meet"
	"wendybot/pkg/logx"
)

// Scheduler is the reminder-battery surface the engine drives. Arming and
// retracting a battery is fire-and-forget; the scheduler reads live session
// state back through the engine's view methods when a timer fires.
type Scheduler interface {
	StartSchedule(key string)
	StopSchedule(key string)
}

// nopScheduler lets the engine run before the reminder service is wired
// (and keeps tests that don't care about batteries simple).
type nopScheduler struct{}

func (nopScheduler) StartSchedule(string) {}
func (nopScheduler) StopSchedule(string)  {}

type Config struct {
	// MaxWeeks bounds the week selection (inclusive). Default 6.
	MaxWeeks int
	// VoteName is the title given to created votes. Default "일정 투표".
	VoteName string
	// VoteDeadline is how long a vote stays open. Default 24h.
	VoteDeadline time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxWeeks <= 0 {
		c.MaxWeeks = 6
	}
	if strings.TrimSpace(c.VoteName) == "" {
		c.VoteName = "일정 투표"
	}
	if c.VoteDeadline <= 0 {
		c.VoteDeadline = 24 * time.Hour
	}
	return c
}

// Engine is the session state machine. It owns the Store exclusively;
// gateway calls happen outside any lock and their results are committed
// afterwards, so a session that was reset or ended mid-call is left alone.
type Engine struct {
	cfg   Config
	store *Store
	gw    meet.Gateway
	sched Scheduler
	log   logx.Logger

	now func() time.Time
}

func NewEngine(cfg Config, gw meet.Gateway, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		cfg:   cfg.withDefaults(),
		store: NewStore(),
		gw:    gw,
		sched: nopScheduler{},
		log:   log,
		now:   time.Now,
	}
}

// SetScheduler wires the reminder battery service. Call before serving
// traffic; the scheduler itself needs the engine's views, hence the
// two-step wiring.
func (e *Engine) SetScheduler(s Scheduler) {
	if s != nil {
		e.sched = s
	}
}

// VoteInfo is the payload of a successful vote creation.
type VoteInfo struct {
	VoteID       int64
	ShareURL     string
	Weeks        int
	Start        time.Time
	End          time.Time
	Participants []string
}

// Start opens (or resets) the session for key. Starting an existing
// session clears its roster and vote linkage; any armed battery is
// retracted.
func (e *Engine) Start(key string) {
	s := e.store.getOrCreate(key)
	s.mu.Lock()
	hadVote := s.voteID != 0
	s.ended = false
	s.resetLocked(e.now())
	s.mu.Unlock()

	// Idempotent either way; only log the interesting case.
	e.sched.StopSchedule(key)
	if hadVote {
		e.log.Info("session restarted over active vote", logx.String("key", key))
	} else {
		e.log.Info("session started", logx.String("key", key))
	}
}

// AddParticipant upserts a roster entry. Adding an identity that is
// already present only updates the display name. After vote creation the
// participant is also registered with the vote service, exactly once per
// identity.
func (e *Engine) AddParticipant(ctx context.Context, key, id, name string) (added bool, err error) {
	s, ok := e.store.get(key)
	if !ok {
		return false, ErrSessionNotFound
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return false, ErrSessionNotFound
	}
	_, existed := s.names[id]
	if !existed {
		s.order = append(s.order, id)
	}
	s.names[id] = name
	s.lastActivity = e.now()

	voteID := s.voteID
	needRegister := voteID != 0 && !s.registered[id]
	if needRegister {
		// Mark before the gateway call so a racing duplicate add does not
		// register twice. A failed call is logged, not retried; the share
		// page still lets the participant register themselves.
		s.registered[id] = true
	}
	s.mu.Unlock()

	if needRegister {
		if _, err := e.gw.AddParticipant(ctx, voteID, name); err != nil {
			e.log.Warn("late participant registration failed",
				logx.String("key", key), logx.Int64("vote_id", voteID),
				logx.String("name", name), logx.Err(err))
		} else {
			e.log.Info("participant registered after vote",
				logx.String("key", key), logx.Int64("vote_id", voteID), logx.String("name", name))
		}
	}
	return !existed, nil
}

// RemoveParticipant drops a roster entry. A registration already forwarded
// to the vote service is kept; only the roster (and therefore the reminder
// target list) shrinks.
func (e *Engine) RemoveParticipant(key, id string) (removed bool, err error) {
	s, ok := e.store.get(key)
	if !ok {
		return false, ErrSessionNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false, ErrSessionNotFound
	}
	if _, existed := s.names[id]; !existed {
		return false, nil
	}
	delete(s.names, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.lastActivity = e.now()
	return true, nil
}

// SelectWeeks computes the date window for the given week offset, creates
// a vote against the gateway and, on success, transitions the session to
// the vote-active phase and arms the reminder battery.
func (e *Engine) SelectWeeks(ctx context.Context, key string, weeks int) (VoteInfo, error) {
	if weeks < 0 || weeks > e.cfg.MaxWeeks {
		return VoteInfo{}, fmt.Errorf("%w: %d (allowed 0..%d)", ErrInvalidWeeks, weeks, e.cfg.MaxWeeks)
	}
	s, ok := e.store.get(key)
	if !ok {
		return VoteInfo{}, ErrSessionNotFound
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return VoteInfo{}, ErrSessionNotFound
	}
	switch s.phase {
	case PhaseWaitingParticipants, PhaseWaitingWeeks:
		// ok
	default:
		s.mu.Unlock()
		return VoteInfo{}, fmt.Errorf("%w: phase %s does not accept a week selection", ErrInvalidWeeks, s.phase)
	}
	if s.creating {
		s.mu.Unlock()
		return VoteInfo{}, ErrBusy
	}
	s.creating = true
	seq := s.seq
	roster := s.rosterLocked()
	s.mu.Unlock()

	names := make([]string, 0, len(roster))
	for _, p := range roster {
		names = append(names, p.Name)
	}

	now := e.now()
	start, end := DateWindow(now, weeks)

	summary, gwErr := e.gw.CreateVote(ctx, meet.CreateVoteRequest{
		Name:         e.cfg.VoteName,
		StartDate:    start,
		EndDate:      end,
		Participants: names,
	})

	s.mu.Lock()
	s.creating = false
	if gwErr != nil {
		s.mu.Unlock()
		return VoteInfo{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, gwErr)
	}
	if s.ended || s.seq != seq {
		// The session was ended or reset while the gateway call ran. The
		// created vote is orphaned on the service side; nothing to arm.
		s.mu.Unlock()
		e.log.Warn("vote created for a superseded session; dropping",
			logx.String("key", key), logx.Int64("vote_id", summary.ID))
		return VoteInfo{}, ErrSessionNotFound
	}
	s.voteID = summary.ID
	s.shareURL = summary.ShareURL
	s.createdAt = now
	s.weekOffset = weeks
	s.phase = PhaseVoteActive
	s.hadVote = true
	s.lastActivity = now
	s.mu.Unlock()

	e.sched.StartSchedule(key)
	e.log.Info("vote created",
		logx.String("key", key), logx.Int64("vote_id", summary.ID),
		logx.Int("weeks", weeks),
		logx.String("window", start.Format("2006-01-02")+".."+end.Format("2006-01-02")))

	return VoteInfo{
		VoteID:       summary.ID,
		ShareURL:     summary.ShareURL,
		Weeks:        weeks,
		Start:        start,
		End:          end,
		Participants: names,
	}, nil
}

// Revote retracts the reminder battery and clears the vote linkage while
// keeping the roster, returning the session to week selection.
func (e *Engine) Revote(key string) error {
	s, ok := e.store.get(key)
	if !ok {
		return ErrSessionNotFound
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	if !s.hadVote {
		s.mu.Unlock()
		return ErrNoPreviousVote
	}
	s.voteID = 0
	s.shareURL = ""
	s.createdAt = time.Time{}
	s.phase = PhaseWaitingWeeks
	s.seq++
	s.lastActivity = e.now()
	s.mu.Unlock()

	e.sched.StopSchedule(key)
	e.log.Info("revote requested", logx.String("key", key))
	return nil
}

// End removes the session and retracts its battery.
func (e *Engine) End(key string) error {
	s, ok := e.store.remove(key)
	if !ok {
		return ErrSessionNotFound
	}
	s.mu.Lock()
	s.ended = true
	s.voteID = 0
	s.phase = PhaseEnded
	s.seq++
	s.mu.Unlock()

	e.sched.StopSchedule(key)
	e.log.Info("session ended", logx.String("key", key))
	return nil
}

// ExpireIdle ends sessions whose last activity is older than maxIdle and
// returns the keys that were swept.
func (e *Engine) ExpireIdle(maxIdle time.Duration) []string {
	if maxIdle <= 0 {
		return nil
	}
	cutoff := e.now().Add(-maxIdle)
	var expired []string
	for _, key := range e.store.Keys() {
		s, ok := e.store.get(key)
		if !ok {
			continue
		}
		s.mu.Lock()
		idle := !s.ended && s.lastActivity.Before(cutoff)
		s.mu.Unlock()
		if idle {
			if err := e.End(key); err == nil {
				expired = append(expired, key)
			}
		}
	}
	return expired
}

// ---- Read-only views ----

func (e *Engine) IsActive(key string) bool {
	s, ok := e.store.get(key)
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.ended
}

func (e *Engine) Phase(key string) Phase {
	s, ok := e.store.get(key)
	if !ok {
		return PhaseIdle
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return PhaseIdle
	}
	return s.phase
}

func (e *Engine) HasPreviousVote(key string) bool {
	s, ok := e.store.get(key)
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.ended && s.hadVote
}

// VoteRef resolves the live vote linkage for key. ok is false when the
// session is gone or no vote is active - the check every timer callback
// performs before doing anything.
func (e *Engine) VoteRef(key string) (voteID int64, shareURL string, ok bool) {
	s, found := e.store.get(key)
	if !found {
		return 0, "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended || s.voteID == 0 {
		return 0, "", false
	}
	return s.voteID, s.shareURL, true
}

func (e *Engine) ShareURL(key string) (string, bool) {
	_, url, ok := e.VoteRef(key)
	return url, ok
}

// VoteDeadline returns the fixed voting deadline (creation time plus the
// configured window, 24h by default).
func (e *Engine) VoteDeadline(key string) (time.Time, bool) {
	s, ok := e.store.get(key)
	if !ok {
		return time.Time{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended || s.voteID == 0 || s.createdAt.IsZero() {
		return time.Time{}, false
	}
	return s.createdAt.Add(e.cfg.VoteDeadline), true
}

// Roster returns the participant list in insertion order.
func (e *Engine) Roster(key string) []Participant {
	s, ok := e.store.get(key)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return nil
	}
	return s.rosterLocked()
}

// TopRankedLabel resolves the current top-ranked slot as a short label,
// falling back to a generic placeholder when no ranking exists yet.
func (e *Engine) TopRankedLabel(ctx context.Context, key string) string {
	voteID, _, ok := e.VoteRef(key)
	if !ok {
		return PlaceholderTopRank
	}
	rankings, err := e.gw.RankedResult(ctx, voteID)
	if err != nil {
		e.log.Warn("ranked result fetch failed", logx.String("key", key), logx.Err(err))
		return PlaceholderTopRank
	}
	return TopRankedLabel(rankings)
}

// SessionCount reports the number of live sessions (for status surfaces).
func (e *Engine) SessionCount() int { return e.store.Len() }

// MaxWeeks reports the inclusive upper bound of the week selection.
func (e *Engine) MaxWeeks() int { return e.cfg.MaxWeeks }
