package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/eduzayn/conversa-insights-dash-sub001/internal/adapters/botconversa"
	"github.com/eduzayn/conversa-insights-dash-sub001/internal/services"
)

// RemoteAccount is the slice of the BotConversa client one sync run needs.
type RemoteAccount interface {
	Account() string
	ListSubscribers(ctx context.Context) ([]botconversa.Subscriber, error)
	ListMessages(ctx context.Context, subscriberID int64) ([]botconversa.RemoteMessage, error)
}

// Scheduler periodically walks every subscriber of every configured account
// and re-runs reconciliation plus a full message sync, backfilling whatever
// lost or delayed webhooks left behind. It never pushes state back to the
// platform; push-back is a webhook-path concern.
type Scheduler struct {
	accounts   []RemoteAccount
	reconciler *services.Reconciler
	syncer     *services.MessageSyncer
	interval   time.Duration
	workers    int
	staleAfter time.Duration
	cron       *cron.Cron
}

// New creates a Scheduler.
func New(
	accounts []RemoteAccount,
	reconciler *services.Reconciler,
	syncer *services.MessageSyncer,
	interval time.Duration,
	workers int,
	staleAfter time.Duration,
) (*Scheduler, error) {
	if len(accounts) == 0 {
		return nil, fmt.Errorf("at least one remote account is required")
	}
	if reconciler == nil {
		return nil, fmt.Errorf("reconciler cannot be nil")
	}
	if syncer == nil {
		return nil, fmt.Errorf("message syncer cannot be nil")
	}
	if workers <= 0 {
		workers = 1
	}
	return &Scheduler{
		accounts:   accounts,
		reconciler: reconciler,
		syncer:     syncer,
		interval:   interval,
		workers:    workers,
		staleAfter: staleAfter,
	}, nil
}

// Start schedules periodic runs until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		if err := s.RunOnce(ctx); err != nil {
			log.Error().Err(err).Msg("Periodic sync run failed")
		}
	})
	if err != nil {
		return fmt.Errorf("error scheduling periodic sync: %w", err)
	}
	s.cron.Start()
	log.Info().Dur("interval", s.interval).Int("workers", s.workers).Msg("Periodic sync scheduler started")

	go func() {
		<-ctx.Done()
		stopCtx := s.cron.Stop()
		<-stopCtx.Done()
		log.Info().Msg("Periodic sync scheduler stopped")
	}()
	return nil
}

// RunOnce executes one full sync run across all accounts. A failure for one
// subscriber is logged and skipped; a failure to list an account's
// subscribers (for example an unauthenticated account) aborts the run and is
// reported. Cancellation is honored between subscribers, never mid-way
// through one, so no partial reconciliation states are left behind.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	runID := uuid.NewString()
	start := time.Now()
	logger := log.With().Str("runID", runID).Logger()
	logger.Info().Msg("Periodic sync run starting")

	for _, account := range s.accounts {
		if err := ctx.Err(); err != nil {
			return err
		}

		subscribers, err := account.ListSubscribers(ctx)
		if err != nil {
			return fmt.Errorf("listing subscribers for account %s: %w", account.Account(), err)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.workers)
		synced := 0
		for _, sub := range subscribers {
			if gctx.Err() != nil {
				break
			}
			sub := sub
			g.Go(func() error {
				// Shutdown only stops new dispatches; a subscriber already in
				// flight runs to completion so no partial reconciliation state
				// is left behind.
				if err := s.syncSubscriber(context.WithoutCancel(gctx), account, sub); err != nil {
					logger.Error().
						Err(err).
						Str("account", account.Account()).
						Str("phone", sub.Phone).
						Int64("subscriberID", sub.ID).
						Msg("Subscriber sync failed, skipped")
				}
				// Per-subscriber failures never abort the batch.
				return nil
			})
			synced++
		}
		if err := g.Wait(); err != nil {
			return err
		}
		logger.Info().
			Str("account", account.Account()).
			Int("subscribers", synced).
			Msg("Account sync finished")
	}

	if err := ctx.Err(); err != nil {
		logger.Info().Msg("Periodic sync run interrupted by shutdown")
		return err
	}

	if s.staleAfter > 0 {
		if _, err := s.syncer.CloseStale(ctx, s.staleAfter); err != nil {
			logger.Error().Err(err).Msg("Stale conversation close failed")
		}
	}

	logger.Info().Dur("took", time.Since(start)).Msg("Periodic sync run finished")
	return nil
}

// syncSubscriber reconciles one subscriber and replays its full message
// history. The reconciler takes the same per-phone lock webhook handling
// uses, so the two paths cannot race.
func (s *Scheduler) syncSubscriber(ctx context.Context, account RemoteAccount, sub botconversa.Subscriber) error {
	result, err := s.reconciler.Reconcile(ctx, services.Contact{
		Phone:        sub.Phone,
		Name:         sub.FullName,
		Email:        sub.Email,
		Tags:         sub.Tags,
		CustomFields: sub.CustomFields,
	})
	if err != nil {
		if errors.Is(err, botconversa.ErrInvalidPhoneFormat) {
			log.Warn().Str("phone", sub.Phone).Msg("Subscriber with malformed phone, skipped")
			return nil
		}
		return err
	}

	messages, err := account.ListMessages(ctx, sub.ID)
	if err != nil {
		return err
	}

	batch := make([]services.InboundMessage, 0, len(messages))
	for _, m := range messages {
		batch = append(batch, services.InboundMessage{
			RemoteID:  m.ID,
			Content:   m.Content,
			Type:      m.Type,
			Direction: m.Direction,
			Timestamp: m.Timestamp,
		})
	}
	_, err = s.syncer.SyncMessages(ctx, result.Conversation.ID, batch)
	return err
}
