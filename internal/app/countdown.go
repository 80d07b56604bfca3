package app

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// startCountdown launches the single cooperative tick loop for a session.
func (s *SessionService) startCountdown(es *ExamSession) {
	ctx, cancel := context.WithCancel(s.baseCtx)
	rec := es.Record()

	s.mu.Lock()
	if old, ok := s.countdowns[rec.ID]; ok {
		old()
	}
	s.countdowns[rec.ID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runCountdown(ctx, es)
}

func (s *SessionService) stopCountdown(sessionID string) {
	s.mu.Lock()
	cancel, ok := s.countdowns[sessionID]
	if ok {
		delete(s.countdowns, sessionID)
	}
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// runCountdown drives the timer by wall clock. Ticks are never blocked by
// persistence: a slow or failing checkpoint write delays durability only, and
// is retried on the next interval. Cancellation flushes a best-effort final
// checkpoint; reconciliation on the next resume covers any gap.
func (s *SessionService) runCountdown(ctx context.Context, es *ExamSession) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()

	rec := es.Record()
	lastFlush := s.opts.Clock()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.checkpoints.SaveCheckpoint(flushCtx, es.checkpoint(s.opts.Clock())); err != nil {
				s.log.Warn("final checkpoint flush failed", zap.String("sessionId", rec.ID), zap.Error(err))
			}
			cancel()
			return

		case <-ticker.C:
			now := s.opts.Clock()
			_, fired := es.tick(now)

			if fired {
				s.log.Info("timer expired", zap.String("sessionId", rec.ID))
				s.expire(es)
				return
			}
			if es.Record().Status.Terminal() {
				return
			}

			if now.Sub(lastFlush) >= s.opts.CheckpointInterval {
				if err := s.checkpoints.SaveCheckpoint(ctx, es.checkpoint(now)); err != nil {
					// Keep ticking; the next interval retries the write.
					s.log.Warn("checkpoint write failed", zap.String("sessionId", rec.ID), zap.Error(err))
				} else {
					lastFlush = now
				}
				s.flushPendingAnswers(ctx, es)
			}
		}
	}
}

// expire routes a fired timer through the same submission path as a user
// submit. The begin-submit swap guarantees a racing user submission and this
// expiry cannot both finalize.
func (s *SessionService) expire(es *ExamSession) {
	ok, _ := es.beginSubmit()
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := s.finalize(ctx, es); err != nil {
		s.log.Error("expiry submission failed, will retry on next submit or resume",
			zap.String("sessionId", es.Record().ID), zap.Error(err))
	}
}
