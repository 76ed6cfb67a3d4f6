package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"skylift/internal/config"
	"skylift/internal/models"
)

// PassResult reports one due post's outcome for the trigger response.
type PassResult struct {
	ID       uint `json:"id"`
	Success  bool `json:"success"`
	Attempts int  `json:"attempts"`
}

// Scheduler drives due posts through the publisher. RunPass can be invoked
// from the HTTP trigger at any time; the optional ticker runs the same pass
// periodically. Overlapping passes are serialized per post through an
// advisory claim on the store.
type Scheduler struct {
	config    *config.SchedulerConfig
	logger    *zap.Logger
	store     PostStore
	publisher Publisher
	notifier  Notifier
	now       func() time.Time
	ticker    *time.Ticker
	stopCh    chan struct{}
}

func NewScheduler(cfg *config.SchedulerConfig, store PostStore, publisher Publisher, notifier Notifier, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		config:    cfg,
		logger:    logger,
		store:     store,
		publisher: publisher,
		notifier:  notifier,
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
}

// RunPass selects every due post and attempts publication with bounded
// immediate retries. A failure to list due posts aborts the whole pass; no
// partial work happens in that case.
func (s *Scheduler) RunPass(ctx context.Context) ([]PassResult, error) {
	maxAttempts := s.config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	due, err := s.store.DuePosts(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to list due posts: %w", err)
	}

	results := make([]PassResult, 0, len(due))
	for _, post := range due {
		claimed, err := s.store.ClaimPost(ctx, post.ID, s.now())
		if err != nil {
			s.logger.Error("Failed to claim post", zap.Uint("post_id", post.ID), zap.Error(err))
			continue
		}
		if !claimed {
			s.logger.Info("Post already claimed by another pass, skipping",
				zap.Uint("post_id", post.ID))
			continue
		}

		result := s.processPost(ctx, post, maxAttempts)

		if err := s.store.ReleasePost(ctx, post.ID); err != nil {
			s.logger.Error("Failed to release post claim",
				zap.Uint("post_id", post.ID), zap.Error(err))
		}
		results = append(results, result)
	}

	s.logger.Info("Scheduler pass completed", zap.Int("due", len(due)))
	return results, nil
}

func (s *Scheduler) processPost(ctx context.Context, post models.ScheduledPost, maxAttempts int) PassResult {
	var (
		attempts  int
		success   bool
		lastError string
	)

	for attempts < maxAttempts {
		attempts++
		err := s.publisher.Publish(ctx, post.ID)
		if err == nil {
			success = true
			break
		}
		lastError = err.Error()
		s.logger.Warn("Publish attempt failed",
			zap.Uint("post_id", post.ID),
			zap.Int("attempt", attempts),
			zap.Error(err))
	}

	status := models.AttemptStatusFailed
	message := lastError
	if success {
		status = models.AttemptStatusSuccess
		message = "Posted successfully"
	}

	// One audit row per post per pass, not per retry.
	if err := s.store.AppendAttempt(ctx, &models.AttemptLog{
		PostID:   post.ID,
		Status:   status,
		Message:  message,
		Attempts: attempts,
	}); err != nil {
		s.logger.Error("Failed to record attempt log",
			zap.Uint("post_id", post.ID),
			zap.Error(err))
	}

	if success {
		if err := s.store.MarkPosted(ctx, post.ID); err != nil {
			s.logger.Error("Failed to mark post as posted",
				zap.Uint("post_id", post.ID),
				zap.Error(err))
		}
		return PassResult{ID: post.ID, Success: true, Attempts: attempts}
	}

	// The post stays unposted and will be retried on the next pass. The
	// escalation only signals the operator; its failure changes nothing.
	if s.notifier != nil {
		if err := s.notifier.NotifyFailure(post.ID, attempts, lastError); err != nil {
			s.logger.Error("Failed to send failure notification",
				zap.Uint("post_id", post.ID),
				zap.Error(err))
		}
	}

	return PassResult{ID: post.ID, Success: false, Attempts: attempts}
}

// Start launches the periodic pass loop when enabled in config.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("Scheduler ticker is disabled; passes run on HTTP trigger only")
		return nil
	}

	interval, err := time.ParseDuration(s.config.Interval)
	if err != nil {
		s.logger.Error("Invalid scheduler interval", zap.String("interval", s.config.Interval), zap.Error(err))
		return err
	}

	s.logger.Info("Starting scheduler", zap.String("interval", s.config.Interval))

	s.ticker = time.NewTicker(interval)

	go func() {
		for {
			select {
			case <-s.ticker.C:
				if _, err := s.RunPass(ctx); err != nil {
					s.logger.Error("Scheduled pass failed", zap.Error(err))
				}
			case <-s.stopCh:
				s.logger.Info("Scheduler stopped")
				return
			case <-ctx.Done():
				s.logger.Info("Scheduler context cancelled")
				return
			}
		}
	}()

	return nil
}

func (s *Scheduler) Stop() {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
	s.logger.Info("Scheduler shutdown completed")
}
