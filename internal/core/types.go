package core

type Config struct {
	Telegram Telegram `json:"telegram"`
	Logging  Logging  `json:"logging"`
	Meet     Meet     `json:"meet"`
	Sessions Sessions `json:"sessions"`
	Remind   Remind   `json:"remind"`
	Notify   Notify   `json:"notify"`
	Storage  Storage  `json:"storage"`
}

type Telegram struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type Logging struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// Meet points at the external vote service.
type Meet struct {
	BaseURL string `json:"base_url"`
	Timeout string `json:"timeout,omitempty"`
}

type Sessions struct {
	// VoteName is the display name given to every created vote.
	VoteName string `json:"vote_name,omitempty"`
	MaxWeeks int    `json:"max_weeks,omitempty"`
	// VoteDeadline is how long after vote creation the final decision lands.
	VoteDeadline string `json:"vote_deadline,omitempty"`
	// IdleExpiry drops sessions with no activity for this long. Default 72h.
	IdleExpiry string `json:"idle_expiry,omitempty"`
}

type Remind struct {
	Workers     int    `json:"workers,omitempty"`
	QueueSize   int    `json:"queue_size,omitempty"`
	StepTimeout string `json:"step_timeout,omitempty"`
	SweepSpec   string `json:"sweep_spec,omitempty"`
}

type Notify struct {
	Workers    int    `json:"workers,omitempty"`
	QueueSize  int    `json:"queue_size,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	RetryMax   int    `json:"retry_max,omitempty"`
}

type Storage struct {
	// Driver is "sqlite" or "none".
	Driver string `json:"driver,omitempty"`
	Path   string `json:"path,omitempty"`
	// BusyTimeout is a Go duration string for the sqlite busy handler.
	BusyTimeout string `json:"busy_timeout,omitempty"`
	// Retention bounds how long delivery audit rows are kept.
	Retention string `json:"retention,omitempty"`
}
