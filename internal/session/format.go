package session

import (
	"fmt"
	"strings"
	"time"

	"wendybot/internal/meet"
)

// PlaceholderTopRank is used when no slot is ranked yet.
const PlaceholderTopRank = "1순위 일정"

var dayLabels = [...]string{"일", "월", "화", "수", "목", "금", "토"}

// DayLabel renders a weekday as its single-character Korean label.
func DayLabel(d time.Weekday) string {
	return dayLabels[int(d)%7]
}

// SlotLabel renders one candidate slot as "MM/dd(요일) 점심|저녁".
func SlotLabel(r meet.Ranking) string {
	period := "저녁"
	if r.Period == meet.PeriodLunch {
		period = "점심"
	}
	return fmt.Sprintf("%s(%s) %s", r.Date.Format("01/02"), DayLabel(r.Date.Weekday()), period)
}

// FormatDeadline renders the literal deadline time used in the final
// reminder.
func FormatDeadline(t time.Time) string {
	return t.Format("15:04")
}

// FormatStatus renders the periodic vote-status share: the share link
// followed by the ranked slots with their supporters. If nobody voted yet
// it says so instead of rendering an empty ranking.
func FormatStatus(rankings []meet.Ranking, shareURL string) string {
	var b strings.Builder
	b.WriteString("웬디가 투표 현황을 공유드려요! :D\n")

	if len(rankings) == 0 {
		b.WriteString("\n엥 아직 아무도 투표를 안 했네요 :(")
		return b.String()
	}

	if shareURL != "" {
		b.WriteString(shareURL)
		b.WriteString("\n")
	}
	for _, r := range rankings {
		b.WriteString("\n📌")
		fmt.Fprintf(&b, "%d순위 %s\n", r.Rank, SlotLabel(r))
		if len(r.Voters) > 0 {
			voters := make([]string, 0, len(r.Voters))
			for _, v := range r.Voters {
				voters = append(voters, voterLabel(v))
			}
			b.WriteString("투표자: ")
			b.WriteString(strings.Join(voters, ", "))
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatResult renders the on-demand result view with medal markers and a
// non-voter footer.
func FormatResult(rankings []meet.Ranking, nonVoters []Participant, shareURL string) string {
	if len(rankings) == 0 {
		return "아직 투표 결과가 없어요. 참석자들이 투표를 완료하면 결과를 확인할 수 있어요!"
	}

	var b strings.Builder
	b.WriteString("📊 현재 투표 결과\n")
	for _, r := range rankings {
		b.WriteString("\n")
		b.WriteString(medal(r.Rank))
		fmt.Fprintf(&b, " %d위: %s - %d명", r.Rank, SlotLabel(r), r.VoterCount)
	}

	if len(nonVoters) > 0 {
		names := make([]string, 0, len(nonVoters))
		for _, p := range nonVoters {
			names = append(names, p.Name)
		}
		b.WriteString("\n\n⏰ 아직 투표 안 한 사람: ")
		b.WriteString(strings.Join(names, ", "))
	}
	if shareURL != "" {
		b.WriteString("\n\n")
		b.WriteString(shareURL)
	}
	return b.String()
}

// TopRankedLabel picks the slot tagged rank 1, falling back to the first
// entry when ranks are missing or tied away, and to a placeholder when the
// ranking is empty.
func TopRankedLabel(rankings []meet.Ranking) string {
	if len(rankings) == 0 {
		return PlaceholderTopRank
	}
	for _, r := range rankings {
		if r.Rank == 1 {
			return SlotLabel(r)
		}
	}
	return SlotLabel(rankings[0])
}

// NonVoters returns the roster members the vote service reports as not
// having submitted, preserving roster order. Roster members the service
// does not know about (never registered) are not chased.
func NonVoters(roster []Participant, statuses []meet.ParticipantStatus) []Participant {
	notSubmitted := make(map[string]bool, len(statuses))
	for _, s := range statuses {
		if !s.Submitted {
			notSubmitted[s.DisplayName] = true
		}
	}
	var out []Participant
	for _, p := range roster {
		if notSubmitted[p.Name] {
			out = append(out, p)
		}
	}
	return out
}

func voterLabel(v meet.Voter) string {
	if v.Priority > 0 {
		return fmt.Sprintf("%s(%d)", v.Name, v.Priority)
	}
	return v.Name
}

func medal(rank int) string {
	switch rank {
	case 1:
		return "🥇"
	case 2:
		return "🥈"
	case 3:
		return "🥉"
	default:
		return "　"
	}
}
