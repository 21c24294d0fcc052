package remind

import (
	"context"
	"fmt"
	"strings"

	"wendybot/internal/kit"
	"wendybot/internal/session"
	"wendybot/pkg/logx"
)

// runStep executes one fired callback. Live state is re-resolved here, not
// captured at arm time: a session that ended or revoted since arming shows
// up as a missing vote linkage and the step becomes a logged no-op.
func (s *Service) runStep(ctx context.Context, key string, step Step) error {
	voteID, shareURL, ok := s.deps.Sessions.VoteRef(key)
	if !ok {
		s.log.Debug("no active vote; skipping step",
			logx.String("key", key), logx.String("step", step.Name))
		return nil
	}
	target, ok := s.deps.Target(key)
	if !ok {
		s.log.Warn("no chat target for session", logx.String("key", key))
		return nil
	}

	switch step.Kind {
	case StepStatus:
		return s.shareStatus(ctx, key, step, voteID, shareURL, target)
	case StepRemind, StepFinal:
		return s.remindNonVoters(ctx, key, step, voteID, target)
	default:
		return fmt.Errorf("unknown step kind %d", step.Kind)
	}
}

func (s *Service) shareStatus(ctx context.Context, key string, step Step, voteID int64, shareURL string, target kit.ChatTarget) error {
	rankings, err := s.deps.Gateway.RankedResult(ctx, voteID)
	if err != nil {
		return fmt.Errorf("ranked result: %w", err)
	}
	text := session.FormatStatus(rankings, shareURL)
	return s.deps.Notifier.Notify(ctx, kit.Notification{
		Channel: step.Name,
		Target:  target,
		Text:    text,
		Options: &kit.SendOptions{DisablePreview: true},
	})
}

func (s *Service) remindNonVoters(ctx context.Context, key string, step Step, voteID int64, target kit.ChatTarget) error {
	statuses, err := s.deps.Gateway.ParticipantStatuses(ctx, voteID)
	if err != nil {
		return fmt.Errorf("participant statuses: %w", err)
	}
	roster := s.deps.Sessions.Roster(key)
	nonVoters := session.NonVoters(roster, statuses)
	if len(nonVoters) == 0 {
		s.log.Debug("everyone voted; reminder suppressed",
			logx.String("key", key), logx.String("step", step.Name))
		return nil
	}

	mentions := make([]string, 0, len(nonVoters))
	for _, p := range nonVoters {
		mentions = append(mentions, s.deps.Mention(p.ID, p.Name))
	}
	joined := strings.Join(mentions, " ")

	var text string
	if step.Kind == StepFinal {
		top := session.PlaceholderTopRank
		if rankings, err := s.deps.Gateway.RankedResult(ctx, voteID); err == nil {
			top = session.TopRankedLabel(rankings)
		} else {
			s.log.Warn("ranked result unavailable for final reminder",
				logx.String("key", key), logx.Err(err))
		}
		deadline := "00:00"
		if at, ok := s.deps.Sessions.VoteDeadline(key); ok {
			deadline = session.FormatDeadline(at)
		}
		text = finalText(joined, deadline, top)
	} else {
		text = reminderText(step.Stage, joined)
	}

	return s.deps.Notifier.Notify(ctx, kit.Notification{
		Channel: step.Name,
		Target:  target,
		Text:    text,
		Options: &kit.SendOptions{ParseMode: "Markdown", DisablePreview: true},
	})
}

func reminderText(stage Stage, mentions string) string {
	switch stage {
	case StageWaiting:
		return "다들 " + mentions + " 님의 투표를 기다리고 있어요🙌"
	case StageExhausted:
		return mentions + " 웬디 기다리다 지쳐버림…🥹 대머리신가요?"
	default:
		return mentions + " 투표가 시작됐어요! 다른 분들을 위해 빠른 참여 부탁드려요 :D"
	}
}

func finalText(mentions, deadline, top string) string {
	return "최후통첩✉️\n" + mentions + "\n\n" + deadline + "까지 투표 불참 시, " + top + " 일정으로 확정됩니다"
}
