package meet

import "time"

// Period is a candidate slot's half of the day.
type Period string

const (
	PeriodLunch  Period = "LUNCH"
	PeriodDinner Period = "DINNER"
)

// CreateVoteRequest describes a new ranked date vote.
// Participants may be nil; they can then register themselves via the share
// page or be added later with AddParticipant.
type CreateVoteRequest struct {
	Name         string
	StartDate    time.Time
	EndDate      time.Time
	Participants []string
}

// VoteSummary is the gateway's reply to a vote creation.
type VoteSummary struct {
	ID       int64
	Name     string
	Code     string
	AdminURL string
	ShareURL string
}

// Voter is a supporter of a ranked slot, with an optional priority the
// voter assigned to it (0 means no priority was given).
type Voter struct {
	Name     string
	Priority int
}

// Ranking is one candidate slot of the ranked result.
type Ranking struct {
	Rank       int
	Date       time.Time
	Period     Period
	VoterCount int
	Voters     []Voter
}

// ParticipantStatus reports whether a registered participant has submitted
// a response.
type ParticipantStatus struct {
	DisplayName string
	Submitted   bool
}
