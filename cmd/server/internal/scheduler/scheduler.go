// Package scheduler decides when bots join meetings. A periodic tick scans
// upcoming AI-enabled meetings and dispatches a bot shortly before each start
// time; the join-attempted CAS on the meeting row guarantees at most one
// dispatch per meeting even with overlapping ticks or multiple instances.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/houzhh15/meeting-proxy/cmd/server/internal/metrics"
	"github.com/houzhh15/meeting-proxy/cmd/server/internal/remote"
	"github.com/houzhh15/meeting-proxy/cmd/server/internal/session"
	"github.com/houzhh15/meeting-proxy/cmd/server/internal/store"
)

// scanLookback tick 扫描窗口向过去延伸的时长
// 服务停机期间错过的会议也要被发现并标记 missed
const scanLookback = 24 * time.Hour

// Clock 可注入时钟，测试用
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// Config 调度参数
type Config struct {
	TickInterval    time.Duration
	JoinLeadTime    time.Duration
	MissGracePeriod time.Duration
	DispatchTimeout time.Duration
	MaxRetries      int
	MaxConcurrent   int
	BotName         string
}

// Scheduler 入会调度器
type Scheduler struct {
	st         store.Store
	tracker    *session.Tracker
	dispatcher remote.Dispatcher
	clock      Clock
	cfg        Config
	logger     *slog.Logger
	cron       *cron.Cron
}

// New creates a scheduler. clock may be nil for the system clock.
func New(st store.Store, tracker *session.Tracker, dispatcher remote.Dispatcher, clock Clock, cfg Config, logger *slog.Logger) *Scheduler {
	if clock == nil {
		clock = systemClock{}
	}
	return &Scheduler{
		st:         st,
		tracker:    tracker,
		dispatcher: dispatcher,
		clock:      clock,
		cfg:        cfg,
		logger:     logger.With("component", "scheduler"),
	}
}

// Start 按配置周期运行 RunTick
func (s *Scheduler) Start() error {
	s.cron = cron.New()
	spec := fmt.Sprintf("@every %s", s.cfg.TickInterval)
	if _, err := s.cron.AddFunc(spec, func() {
		if err := s.RunTick(context.Background()); err != nil {
			s.logger.Error("tick failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("registering tick schedule: %w", err)
	}
	s.cron.Start()
	s.logger.Info("scheduler started", "interval", s.cfg.TickInterval)
	return nil
}

// Stop 停止周期调度；进行中的 tick 跑完为止
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// RunTick 执行一次调度扫描
// 只有会议列表查询失败会返回错误；单个会议的 dispatch 失败不影响其它会议。
func (s *Scheduler) RunTick(ctx context.Context) error {
	now := s.clock.Now()
	meetings, err := s.st.ListAIEnabledMeetingsInWindow(ctx, now.Add(-scanLookback), now.Add(s.cfg.JoinLeadTime))
	if err != nil {
		return fmt.Errorf("listing meetings: %w", err)
	}

	g := new(errgroup.Group)
	g.SetLimit(s.cfg.MaxConcurrent)
	for _, meeting := range meetings {
		meeting := meeting
		g.Go(func() error {
			s.processMeeting(ctx, &meeting, now)
			return nil
		})
	}
	return g.Wait()
}

// processMeeting 处理单个会议：missed 判定 → dispatch-once CAS → 派出或重试
func (s *Scheduler) processMeeting(ctx context.Context, meeting *store.Meeting, now time.Time) {
	// 错过窗口：超过宽限期仍未入会的会议只标记，绝不 dispatch
	// 此前 dispatch 失败遗留的 failed 会话也在这里收敛到 abandoned
	if now.After(meeting.StartTime.Add(s.cfg.MissGracePeriod)) {
		s.markMissed(ctx, meeting, now)
		s.abandonStalled(ctx, meeting, now)
		return
	}

	won, err := s.st.MarkJoinAttempted(ctx, meeting.ID)
	if err != nil {
		s.logger.Error("mark join attempted failed", "meeting_id", meeting.ID, "error", err)
		return
	}
	if won {
		sess, err := s.tracker.Create(ctx, meeting.ID, store.StateJoining, now)
		if err != nil {
			s.logger.Error("create session failed", "meeting_id", meeting.ID, "error", err)
			return
		}
		s.dispatch(ctx, meeting, sess, now)
		return
	}

	// CAS 落败：别的 tick 已处理，或此前 dispatch 失败等待重试
	s.maybeRetry(ctx, meeting, now)
}

// markMissed 标记错过的会议；CAS 保证只产生一条 missed 会话
func (s *Scheduler) markMissed(ctx context.Context, meeting *store.Meeting, now time.Time) {
	won, err := s.st.MarkJoinAttempted(ctx, meeting.ID)
	if err != nil || !won {
		return
	}
	if _, err := s.tracker.Create(ctx, meeting.ID, store.StateMissed, now); err != nil {
		s.logger.Error("create missed session failed", "meeting_id", meeting.ID, "error", err)
		return
	}
	metrics.RecordDispatch("missed")
	s.logger.Warn("meeting missed join window",
		"meeting_id", meeting.ID,
		"start_time", meeting.StartTime,
		"grace", s.cfg.MissGracePeriod,
	)
}

// maybeRetry 对处于 failed 状态的会话做有界重试
func (s *Scheduler) maybeRetry(ctx context.Context, meeting *store.Meeting, now time.Time) {
	sess, err := s.tracker.ActiveForMeeting(ctx, meeting.ID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Error("lookup active session failed", "meeting_id", meeting.ID, "error", err)
		}
		return
	}
	if sess.State != store.StateFailed {
		return
	}

	retries, err := s.st.IncrementDispatchRetries(ctx, meeting.ID)
	if err != nil {
		s.logger.Error("increment retries failed", "meeting_id", meeting.ID, "error", err)
		return
	}
	if retries > s.cfg.MaxRetries {
		if _, err := s.tracker.Apply(ctx, sess.ID, store.StateAbandoned, now, "dispatch retries exhausted"); err != nil {
			s.logger.Error("abandon session failed", "session_id", sess.ID, "error", err)
			return
		}
		metrics.RecordDispatch("abandoned")
		s.logger.Warn("dispatch abandoned", "meeting_id", meeting.ID, "session_id", sess.ID, "retries", retries-1)
		return
	}

	requeued, err := s.tracker.Apply(ctx, sess.ID, store.StateJoining, now, "")
	if err != nil {
		s.logger.Error("requeue session failed", "session_id", sess.ID, "error", err)
		return
	}
	s.logger.Info("retrying dispatch", "meeting_id", meeting.ID, "session_id", requeued.ID, "attempt", retries)
	s.dispatch(ctx, meeting, requeued, now)
}

// abandonStalled 把窗口已过期仍停在 failed 的会话落到 abandoned
// missed 的 CAS 总是落败，重试路径不再可达，必须在这里收尾。
func (s *Scheduler) abandonStalled(ctx context.Context, meeting *store.Meeting, now time.Time) {
	sess, err := s.tracker.ActiveForMeeting(ctx, meeting.ID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Error("lookup active session failed", "meeting_id", meeting.ID, "error", err)
		}
		return
	}
	if sess.State != store.StateFailed {
		return
	}
	if _, err := s.tracker.Apply(ctx, sess.ID, store.StateAbandoned, now, "join window expired"); err != nil {
		s.logger.Error("abandon stalled session failed", "session_id", sess.ID, "error", err)
		return
	}
	metrics.RecordDispatch("abandoned")
	s.logger.Warn("dispatch abandoned, join window expired", "meeting_id", meeting.ID, "session_id", sess.ID)
}

// dispatch 带超时调用平台派出机器人
func (s *Scheduler) dispatch(ctx context.Context, meeting *store.Meeting, sess *store.BotSession, now time.Time) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.DispatchTimeout)
	defer cancel()

	botID, err := s.dispatcher.CreateBot(callCtx, meeting.MeetingURL, s.cfg.BotName)
	if err != nil {
		metrics.RecordDispatch("failed")
		s.logger.Error("dispatch failed", "meeting_id", meeting.ID, "session_id", sess.ID, "error", err)
		if _, applyErr := s.tracker.Apply(ctx, sess.ID, store.StateFailed, now, err.Error()); applyErr != nil {
			s.logger.Error("mark session failed errored", "session_id", sess.ID, "error", applyErr)
		}
		return
	}

	s.tracker.BindBot(sess.ID, botID)
	if _, err := s.tracker.Apply(ctx, sess.ID, store.StateDispatched, now, ""); err != nil {
		s.logger.Error("mark session dispatched errored", "session_id", sess.ID, "error", err)
		return
	}
	metrics.RecordDispatch("dispatched")
	s.logger.Info("bot dispatched", "meeting_id", meeting.ID, "session_id", sess.ID, "bot_id", botID)
}
