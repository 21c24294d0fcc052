package remind

import (
	"context"
	"strings"
	"time"

	"wendybot/internal/kit"
	"wendybot/internal/meet"
	"wendybot/internal/session"
)

type StepKind int

const (
	// StepStatus shares the current ranking with the chat.
	StepStatus StepKind = iota
	// StepRemind nudges the roster members who have not submitted yet.
	StepRemind
	// StepFinal is the last call: non-voters, the top-ranked slot and the
	// literal deadline time.
	StepFinal
)

// Stage selects the tone of a non-voter reminder.
type Stage int

const (
	StageKickoff Stage = iota
	StageWaiting
	StageExhausted
)

// Step is one delayed callback of a battery.
type Step struct {
	Name  string
	After time.Duration
	Kind  StepKind
	Stage Stage
}

// DefaultSteps is the production battery: status share at +10m, staged
// non-voter reminders, final call at the 24h deadline.
func DefaultSteps() []Step {
	return []Step{
		{Name: "status-10m", After: 10 * time.Minute, Kind: StepStatus},
		{Name: "remind-15m", After: 15 * time.Minute, Kind: StepRemind, Stage: StageKickoff},
		{Name: "remind-1h", After: time.Hour, Kind: StepRemind, Stage: StageKickoff},
		{Name: "remind-6h", After: 6 * time.Hour, Kind: StepRemind, Stage: StageWaiting},
		{Name: "remind-12h", After: 12 * time.Hour, Kind: StepRemind, Stage: StageExhausted},
		{Name: "final-24h", After: 24 * time.Hour, Kind: StepFinal},
	}
}

type Config struct {
	Workers     int           // worker pool size, default 2
	QueueSize   int           // pending callback buffer, default 64
	StepTimeout time.Duration // per-callback timeout, default 10s
	SweepSpec   string        // cron spec for the idle-session sweep, default "@every 1h"
	MaxIdle     time.Duration // idle window before a session is swept, default 72h
	Steps       []Step        // nil = DefaultSteps()
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = 10 * time.Second
	}
	if strings.TrimSpace(c.SweepSpec) == "" {
		c.SweepSpec = "@every 1h"
	}
	if c.MaxIdle <= 0 {
		c.MaxIdle = 72 * time.Hour
	}
	if len(c.Steps) == 0 {
		c.Steps = DefaultSteps()
	}
	return c
}

// Sessions is the live-state view a fired callback reads. It is a weak
// reference by key: the service never holds a session record itself.
type Sessions interface {
	VoteRef(key string) (voteID int64, shareURL string, ok bool)
	Roster(key string) []session.Participant
	VoteDeadline(key string) (time.Time, bool)
	ExpireIdle(maxIdle time.Duration) []string
}

// Notifier is the egress pipeline callbacks hand their messages to.
type Notifier interface {
	Notify(ctx context.Context, n kit.Notification) error
}

// Deps wires the service to the rest of the bot. Target maps a session key
// back to its chat; Mention renders a roster member as a platform mention
// token (may return just the name).
type Deps struct {
	Sessions Sessions
	Gateway  meet.Gateway
	Notifier Notifier
	Target   func(key string) (kit.ChatTarget, bool)
	Mention  func(id, name string) string
}

type task struct {
	key   string
	epoch uint64
	step  Step
}

type battery struct {
	epoch   uint64
	armedAt time.Time
	timers  []*time.Timer
}
