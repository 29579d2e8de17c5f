package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jouleflow/jouleflow/pkg/controller"
	"github.com/jouleflow/jouleflow/pkg/log"
)

const maxPollBackoff = time.Minute

// pollLoop drives the controller: every interval it refreshes the plan,
// fetches the latest tick and steps the engine. Feed failures back off
// exponentially and never kill the loop. Returns when ctx is canceled,
// always between ticks, never mid-tick.
func (s *Server) pollLoop(ctx context.Context) {
	// run immediately, then on the ticker
	backoff := s.pollInterval
	if err := s.pollOnce(ctx); err != nil {
		backoff = s.bumpBackoff(ctx, backoff, err)
	} else {
		backoff = s.pollInterval
	}

	ticker := time.NewTicker(backoff)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.pollOnce(ctx); err != nil {
				backoff = s.bumpBackoff(ctx, backoff, err)
			} else {
				backoff = s.pollInterval
			}
			ticker.Reset(backoff)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) bumpBackoff(ctx context.Context, current time.Duration, err error) time.Duration {
	if ctx.Err() != nil {
		return current
	}
	next := current * 2
	if next > maxPollBackoff {
		next = maxPollBackoff
	}
	log.Ctx(ctx).WarnContext(ctx, "poll failed, backing off",
		slog.Duration("backoff", next),
		slog.Any("error", err))
	return next
}

// pollOnce runs one full poll cycle: plan refresh, tick fetch, engine step,
// persistence and broadcast.
func (s *Server) pollOnce(ctx context.Context) error {
	ticks, err := s.feed.GetDay(ctx)
	if err != nil {
		return err
	}
	// Deferrables failing is not fatal; plan with what we have.
	tasks, err := s.feed.GetDeferrables(ctx)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to fetch deferrables", slog.Any("error", err))
		tasks = nil
	}
	newSlots, err := s.controller.Plan(ctx, ticks, tasks)
	if err != nil {
		return err
	}
	if len(newSlots) > 0 {
		if err := s.storage.UpsertSchedule(ctx, s.controller.Schedule()); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to persist schedule", slog.Any("error", err))
		}
		s.hub.BroadcastEvent("schedule", s.controller.Schedule())
	}

	tick, err := s.feed.GetLatest(ctx)
	if err != nil {
		return err
	}

	res, err := s.controller.Step(ctx, tick)
	if errors.Is(err, controller.ErrDuplicateTick) {
		// the feed hasn't advanced yet
		return nil
	}
	if errors.Is(err, controller.ErrOutOfOrderTick) {
		log.Ctx(ctx).WarnContext(ctx, "feed served an old tick",
			slog.Int("tick", tick.ID),
			slog.Int("lastTick", s.controller.LastTick()))
		return nil
	}
	if err != nil {
		return err
	}

	for _, e := range res.Entries {
		if err := s.storage.InsertLedgerEntry(ctx, e); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to persist ledger entry",
				slog.Int("tick", e.Tick),
				slog.String("action", string(e.Action)),
				slog.Any("error", err))
		}
	}
	if err := s.storage.InsertTickRecord(ctx, res.Record); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to persist tick record",
			slog.Int("tick", res.Record.Tick),
			slog.Any("error", err))
	}
	if err := s.storage.PutSummary(ctx, s.controller.Summary()); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to persist summary", slog.Any("error", err))
	}

	s.hub.BroadcastEvent("tick", res)
	return nil
}
