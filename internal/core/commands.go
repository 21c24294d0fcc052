package core

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"wendybot/internal/kit"
	"wendybot/internal/meet"
	"wendybot/internal/session"
	"wendybot/internal/storage"
	"wendybot/pkg/logx"
	"wendybot/pkg/tgui"
)

const cbScope = "wendy"

// guestPrefix marks roster identities that were added by name instead of
// by a platform user id. Guests never get mention tokens.
const guestPrefix = "guest:"

// SessionKey maps a chat to its session key. The reverse mapping lives in
// ParseSessionKey; both sides of the scheduler wiring use these.
func SessionKey(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}

func ParseSessionKey(key string) (kit.ChatTarget, bool) {
	id, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return kit.ChatTarget{}, false
	}
	return kit.ChatTarget{ChatID: id}, true
}

// MentionMarkdown renders a roster member as a Telegram Markdown mention.
// Guests (and anything else without a numeric id) fall back to plain text.
func MentionMarkdown(id, name string) string {
	if uid, err := strconv.ParseInt(id, 10, 64); err == nil {
		return fmt.Sprintf("[%s](tg://user?id=%d)", name, uid)
	}
	return name
}

// Dispatcher routes incoming updates to session engine operations and
// renders the replies. Handlers run on a small bounded worker pool so a
// slow vote-service call cannot stall the update loop.
type Dispatcher struct {
	log     logx.Logger
	adapter kit.Adapter
	engine  *session.Engine
	gw      meet.Gateway
	store   storage.Store // nil = no delivery history in /wendy status

	jobs chan func()
}

func NewDispatcher(log logx.Logger, adapter kit.Adapter, engine *session.Engine, gw meet.Gateway, store storage.Store) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		log:     log,
		adapter: adapter,
		engine:  engine,
		gw:      gw,
		store:   store,
		jobs:    make(chan func(), 256),
	}
}

// MenuCommands is the command list registered with the platform menu.
func (d *Dispatcher) MenuCommands() []kit.BotCommand {
	return []kit.BotCommand{
		{Command: "wendy", Description: "모임 일정 조율 시작"},
		{Command: "wendy_result", Description: "투표 현황 보기"},
		{Command: "wendy_help", Description: "사용법 안내"},
	}
}

func (d *Dispatcher) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}
	d.log.Info("dispatcher started", logx.Int("workers", workers), logx.Int("queue_cap", cap(d.jobs)))

	var (
		wg        sync.WaitGroup
		closeOnce sync.Once
	)
	closeJobs := func() { closeOnce.Do(func() { close(d.jobs) }) }

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					d.log.Error("panic in dispatch worker", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				}
			}()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-d.jobs:
					if !ok {
						return
					}
					if job != nil {
						job()
					}
				}
			}
		}()
	}

	defer func() {
		closeJobs()
		wg.Wait()
		d.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			d.route(ctx, up)
		}
	}
}

func (d *Dispatcher) route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		d.routeMessage(ctx, up)
	case kit.UpdateCallback:
		d.routeCallback(ctx, up)
	case kit.UpdateJoin:
		d.routeJoin(ctx, up)
	case kit.UpdateLeave:
		d.routeLeave(ctx, up)
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, chat kit.ChatTarget, job func()) {
	select {
	case d.jobs <- job:
	default:
		d.log.Warn("dispatch queue full; dropping update", logx.Int64("chat_id", chat.ChatID))
		_, _ = d.adapter.SendText(ctx, chat, "지금 너무 바빠요, 잠시 뒤 다시 시도해주세요!", nil)
	}
}

func (d *Dispatcher) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}

	parts := strings.Fields(text)
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	args := parts[1:]

	// Menu shortcuts: /wendy_result -> /wendy result
	if strings.HasPrefix(word, "wendy_") {
		args = append([]string{strings.TrimPrefix(word, "wendy_")}, args...)
		word = "wendy"
	}
	if word != "wendy" {
		return
	}

	sub := "start"
	if len(args) > 0 {
		sub = strings.ToLower(args[0])
		args = args[1:]
	}

	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	key := SessionKey(msg.ChatID)

	d.enqueue(ctx, chat, func() {
		hctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()

		switch sub {
		case "start":
			d.cmdStart(hctx, chat, key)
		case "join":
			d.cmdJoin(hctx, chat, key, msg.FromID, msg.FromName, args)
		case "leave":
			d.cmdLeave(hctx, chat, key, msg.FromID, args)
		case "weeks":
			d.cmdWeeks(hctx, chat, key, args)
		case "result":
			d.cmdResult(hctx, chat, key)
		case "revote":
			d.cmdRevote(hctx, chat, key)
		case "end":
			d.cmdEnd(hctx, chat, key)
		case "status":
			d.cmdStatus(hctx, chat, key)
		case "help":
			d.reply(hctx, chat, helpText, nil)
		default:
			d.replyPhasePrompt(hctx, chat, key)
		}
	})
}

func (d *Dispatcher) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	scope, action, payload, ok := tgui.Parse(cb.Data)
	if !ok || scope != cbScope {
		return
	}

	chat := kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}
	key := SessionKey(cb.ChatID)

	d.enqueue(ctx, chat, func() {
		hctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()

		switch action {
		case "join":
			d.cmdJoin(hctx, chat, key, cb.FromID, cb.FromName, nil)
		case "weeks":
			d.cmdWeeks(hctx, chat, key, []string{payload})
		}
		// best-effort to stop the "loading" UI
		_ = d.adapter.AnswerCallback(hctx, cb.ID, "")
	})
}

// routeJoin greets newcomers while a roster is being collected.
func (d *Dispatcher) routeJoin(ctx context.Context, up kit.Update) {
	ev := up.Member
	if ev == nil {
		return
	}
	key := SessionKey(ev.ChatID)
	if d.engine.Phase(key) != session.PhaseWaitingParticipants {
		return
	}
	chat := kit.ChatTarget{ChatID: ev.ChatID}
	d.enqueue(ctx, chat, func() {
		hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		d.reply(hctx, chat, fmt.Sprintf("%s님, 마침 일정 조율 중이에요! 아래 버튼으로 참여할 수 있어요 :)", ev.UserName), joinMarkup())
	})
}

// routeLeave drops members who leave the chat from the roster.
func (d *Dispatcher) routeLeave(ctx context.Context, up kit.Update) {
	ev := up.Member
	if ev == nil {
		return
	}
	key := SessionKey(ev.ChatID)
	d.enqueue(ctx, kit.ChatTarget{ChatID: ev.ChatID}, func() {
		removed, err := d.engine.RemoveParticipant(key, strconv.FormatInt(ev.UserID, 10))
		if err == nil && removed {
			d.log.Info("left member removed from roster",
				logx.String("key", key), logx.Int64("user_id", ev.UserID))
		}
	})
}

func (d *Dispatcher) cmdStart(ctx context.Context, chat kit.ChatTarget, key string) {
	d.engine.Start(key)
	text := "언제 만날까요? 일정 조율을 시작할게요! 🗓\n" +
		"참여할 사람은 아래 버튼을 눌러주세요.\n" +
		"직접 이름을 적으려면 `/wendy join 이름`, 다 모이면 `/wendy weeks` 로 주차를 골라요!"
	d.reply(ctx, chat, text, joinMarkup())
}

func (d *Dispatcher) cmdJoin(ctx context.Context, chat kit.ChatTarget, key string, fromID int64, fromName string, args []string) {
	id := strconv.FormatInt(fromID, 10)
	name := fromName
	if len(args) > 0 {
		name = strings.Join(args, " ")
		id = guestPrefix + name
	}

	added, err := d.engine.AddParticipant(ctx, key, id, name)
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		d.reply(ctx, chat, notActiveText, nil)
	case err != nil:
		d.replyError(ctx, chat, err)
	case added:
		d.reply(ctx, chat, fmt.Sprintf("%s님이 참여했어요! (현재 %d명)", name, len(d.engine.Roster(key))), nil)
	default:
		d.reply(ctx, chat, fmt.Sprintf("%s님은 이미 참여하고 있어요 :)", name), nil)
	}
}

func (d *Dispatcher) cmdLeave(ctx context.Context, chat kit.ChatTarget, key string, fromID int64, args []string) {
	id := strconv.FormatInt(fromID, 10)
	if len(args) > 0 {
		id = guestPrefix + strings.Join(args, " ")
	}

	removed, err := d.engine.RemoveParticipant(key, id)
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		d.reply(ctx, chat, notActiveText, nil)
	case err != nil:
		d.replyError(ctx, chat, err)
	case removed:
		d.reply(ctx, chat, fmt.Sprintf("빠졌어요! (현재 %d명)", len(d.engine.Roster(key))), nil)
	default:
		d.reply(ctx, chat, "참여 목록에 없는 이름이에요!", nil)
	}
}

func (d *Dispatcher) cmdWeeks(ctx context.Context, chat kit.ChatTarget, key string, args []string) {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		d.promptWeeks(ctx, chat, key)
		return
	}
	weeks, err := strconv.Atoi(strings.TrimSpace(args[0]))
	if err != nil {
		d.reply(ctx, chat, "몇 주 뒤인지 숫자로 알려주세요! (0 = 이번 주)", nil)
		return
	}

	info, err := d.engine.SelectWeeks(ctx, key, weeks)
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		d.reply(ctx, chat, notActiveText, nil)
		return
	case errors.Is(err, session.ErrInvalidWeeks):
		d.reply(ctx, chat, "0에서 6 사이로 골라주세요! (0 = 이번 주)", nil)
		return
	case errors.Is(err, session.ErrBusy):
		d.reply(ctx, chat, "투표를 만드는 중이에요, 잠시만요!", nil)
		return
	case err != nil:
		d.replyError(ctx, chat, err)
		return
	}

	text := fmt.Sprintf("투표가 만들어졌어요! 🗳\n기간: %s ~ %s\n참여 인원: %d명",
		windowLabel(info.Start), windowLabel(info.End), len(info.Participants))
	d.reply(ctx, chat, text, shareMarkup(info.ShareURL))
}

func (d *Dispatcher) promptWeeks(ctx context.Context, chat kit.ChatTarget, key string) {
	if d.engine.Phase(key) == session.PhaseIdle {
		d.reply(ctx, chat, notActiveText, nil)
		return
	}
	d.reply(ctx, chat, "몇 주 뒤 일정인가요?", weeksMarkup(d.engine.MaxWeeks()))
}

func (d *Dispatcher) cmdResult(ctx context.Context, chat kit.ChatTarget, key string) {
	voteID, shareURL, ok := d.engine.VoteRef(key)
	if !ok {
		d.reply(ctx, chat, "아직 진행 중인 투표가 없어요!", nil)
		return
	}

	rankings, err := d.gw.RankedResult(ctx, voteID)
	if err != nil {
		d.replyError(ctx, chat, fmt.Errorf("%w: %v", session.ErrGatewayUnavailable, err))
		return
	}
	statuses, err := d.gw.ParticipantStatuses(ctx, voteID)
	if err != nil {
		d.replyError(ctx, chat, fmt.Errorf("%w: %v", session.ErrGatewayUnavailable, err))
		return
	}

	nonVoters := session.NonVoters(d.engine.Roster(key), statuses)
	d.reply(ctx, chat, session.FormatResult(rankings, nonVoters, shareURL), nil)
}

func (d *Dispatcher) cmdRevote(ctx context.Context, chat kit.ChatTarget, key string) {
	err := d.engine.Revote(key)
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		d.reply(ctx, chat, notActiveText, nil)
	case errors.Is(err, session.ErrNoPreviousVote):
		d.reply(ctx, chat, "다시 투표할 이전 투표가 없어요!", nil)
	case err != nil:
		d.replyError(ctx, chat, err)
	default:
		d.reply(ctx, chat, "좋아요, 다시 골라봐요! 몇 주 뒤 일정인가요?", weeksMarkup(d.engine.MaxWeeks()))
	}
}

func (d *Dispatcher) cmdEnd(ctx context.Context, chat kit.ChatTarget, key string) {
	if err := d.engine.End(key); errors.Is(err, session.ErrSessionNotFound) {
		d.reply(ctx, chat, notActiveText, nil)
		return
	}
	d.reply(ctx, chat, "일정 조율을 마칠게요! 다음에 또 불러주세요 👋", nil)
}

// cmdStatus reports the session phase and, when the audit store is on,
// the latest delivery attempts for this chat.
func (d *Dispatcher) cmdStatus(ctx context.Context, chat kit.ChatTarget, key string) {
	var b strings.Builder
	b.WriteString("📊 현재 상태: ")
	b.WriteString(phaseLabel(d.engine.Phase(key)))
	if roster := d.engine.Roster(key); len(roster) > 0 {
		fmt.Fprintf(&b, "\n참여 인원: %d명", len(roster))
	}
	if url, ok := d.engine.ShareURL(key); ok {
		b.WriteString("\n투표 링크: " + url)
	}

	if d.store != nil {
		entries, err := d.store.RecentDeliveries(ctx, 50)
		if err != nil {
			d.log.Warn("delivery history read failed", logx.Err(err))
		}
		shown := 0
		for _, e := range entries {
			if e.ChatID != chat.ChatID {
				continue
			}
			if shown == 0 {
				b.WriteString("\n\n최근 알림:")
			}
			mark := "✅"
			if e.Error != "" {
				mark = "⚠️"
			}
			fmt.Fprintf(&b, "\n%s %s %s", e.At.Format("01/02 15:04"), mark, e.Channel)
			if shown++; shown == 5 {
				break
			}
		}
	}
	d.reply(ctx, chat, b.String(), nil)
}

func phaseLabel(p session.Phase) string {
	switch p {
	case session.PhaseWaitingParticipants:
		return "참여자 모집 중"
	case session.PhaseWaitingWeeks:
		return "일정 선택 대기 중"
	case session.PhaseVoteActive:
		return "투표 진행 중"
	default:
		return "진행 중인 일정 조율 없음"
	}
}

// replyPhasePrompt answers unrecognized input with a hint that fits the
// current phase of the session.
func (d *Dispatcher) replyPhasePrompt(ctx context.Context, chat kit.ChatTarget, key string) {
	switch d.engine.Phase(key) {
	case session.PhaseWaitingParticipants:
		d.reply(ctx, chat, "지금은 참여자를 모으고 있어요! 아래 버튼이나 `/wendy join` 으로 참여해주세요 :)", joinMarkup())
	case session.PhaseWaitingWeeks:
		d.reply(ctx, chat, "몇 주 뒤 일정인지 골라주세요!", weeksMarkup(d.engine.MaxWeeks()))
	case session.PhaseVoteActive:
		if url, ok := d.engine.ShareURL(key); ok {
			d.reply(ctx, chat, "투표가 진행 중이에요! 여기서 투표해주세요:\n"+url, nil)
			return
		}
		d.reply(ctx, chat, helpText, nil)
	default:
		d.reply(ctx, chat, helpText, nil)
	}
}

func (d *Dispatcher) reply(ctx context.Context, chat kit.ChatTarget, text string, markup any) {
	opt := &kit.SendOptions{DisablePreview: true}
	if markup != nil {
		opt.ReplyMarkupAdapter = markup
	}
	if _, err := d.adapter.SendText(ctx, chat, text, opt); err != nil {
		d.log.Warn("reply failed", logx.Int64("chat_id", chat.ChatID), logx.Err(err))
	}
}

func (d *Dispatcher) replyError(ctx context.Context, chat kit.ChatTarget, err error) {
	if errors.Is(err, session.ErrGatewayUnavailable) {
		d.reply(ctx, chat, "투표 서비스에 연결하지 못했어요 😢 잠시 뒤 다시 시도해주세요!", nil)
		return
	}
	d.log.Warn("command failed", logx.Int64("chat_id", chat.ChatID), logx.Err(err))
	d.reply(ctx, chat, "앗, 뭔가 잘못됐어요. 다시 시도해주세요!", nil)
}

func joinMarkup() any {
	return tgui.NewInline().
		Row(tgui.Btn("참여할래요 🙋", tgui.Data(cbScope, "join", ""))).
		Markup()
}

func shareMarkup(url string) any {
	if url == "" {
		return nil
	}
	return tgui.NewInline().
		Row(tgui.URLBtn("투표하러 가기 🗳", url)).
		Markup()
}

func weeksMarkup(maxWeeks int) any {
	btns := make([]tele.Btn, 0, maxWeeks+1)
	btns = append(btns, tgui.Btn("이번 주", tgui.Data(cbScope, "weeks", "0")))
	for n := 1; n <= maxWeeks; n++ {
		btns = append(btns, tgui.Btn(fmt.Sprintf("%d주 뒤", n), tgui.Data(cbScope, "weeks", strconv.Itoa(n))))
	}
	return tgui.Grid2(btns)
}

func windowLabel(t time.Time) string {
	return fmt.Sprintf("%02d/%02d(%s)", int(t.Month()), t.Day(), session.DayLabel(t.Weekday()))
}

const notActiveText = "진행 중인 일정 조율이 없어요! `/wendy` 로 시작해주세요 :)"

const helpText = "🗓 웬디 사용법\n" +
	"/wendy - 일정 조율 시작 (다시 하면 처음부터)\n" +
	"/wendy join [이름] - 참여하기 (이름을 적으면 그 이름으로)\n" +
	"/wendy leave [이름] - 빠지기\n" +
	"/wendy weeks [n] - 몇 주 뒤 일정인지 고르고 투표 만들기\n" +
	"/wendy result - 투표 현황 보기\n" +
	"/wendy revote - 같은 멤버로 다시 투표\n" +
	"/wendy status - 진행 상태와 최근 알림 보기\n" +
	"/wendy end - 조율 끝내기"
