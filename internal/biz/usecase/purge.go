package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/domain"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/repo"
)

// MaxPurgeMessages is the largest amount a single purge may remove
const MaxPurgeMessages = 1000

// PurgeResult summarizes a purge run
type PurgeResult struct {
	Bulk       int
	Individual int
	Failed     int
}

// PurgeUsecase removes recent messages from a channel
type PurgeUsecase struct {
	delay time.Duration // Pause between individual deletes
	log   logrus.FieldLogger
	now   func() time.Time
}

// NewPurgeUsecase creates a new purge usecase
func NewPurgeUsecase(delay time.Duration, log logrus.FieldLogger) *PurgeUsecase {
	return &PurgeUsecase{delay: delay, log: log, now: time.Now}
}

// Purge deletes up to limit messages. Messages younger than the gateway's
// bulk horizon go in bulk calls; older ones are deleted one at a time.
func (uc *PurgeUsecase) Purge(ctx context.Context, gw repo.GatewaySession, channelID string, limit int) (*PurgeResult, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("purge limit must be positive")
	}
	if limit > MaxPurgeMessages {
		limit = MaxPurgeMessages
	}
	msgs, err := gw.FetchMessages(ctx, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	recent, old := domain.SplitAtHorizon(msgs, uc.now(), gw.BulkDeleteHorizon())

	result := &PurgeResult{}
	log := uc.log.WithField("channel_id", channelID)

	// Bulk endpoints take between 2 and 100 ids
	for start := 0; start < len(recent); start += 100 {
		end := start + 100
		if end > len(recent) {
			end = len(recent)
		}
		chunk := recent[start:end]
		if len(chunk) == 1 {
			old = append(old, chunk[0])
			continue
		}
		ids := make([]string, len(chunk))
		for i, m := range chunk {
			ids[i] = m.ID
		}
		if err := gw.BulkDeleteMessages(ctx, channelID, ids); err != nil {
			remaining := chunk
			var partial *repo.BulkDeleteError
			if errors.As(err, &partial) {
				remaining = withoutIDs(chunk, partial.Deleted)
				result.Bulk += len(chunk) - len(remaining)
			} else {
				log.Debug("bulk result unknown, failures may include messages the bulk call removed")
			}
			log.WithError(err).WithField("remaining", len(remaining)).Warn("bulk delete failed, deleting individually")
			old = append(old, remaining...)
			continue
		}
		result.Bulk += len(ids)
	}

	limiter := rate.NewLimiter(rate.Every(uc.delay), 1)
	for _, m := range old {
		if uc.delay > 0 {
			if err := limiter.Wait(ctx); err != nil {
				return result, err
			}
		}
		if err := gw.DeleteMessage(ctx, channelID, m.ID); err != nil {
			log.WithError(err).WithField("message_id", m.ID).Debug("delete failed")
			result.Failed++
			continue
		}
		result.Individual++
	}

	log.WithFields(logrus.Fields{
		"bulk":       result.Bulk,
		"individual": result.Individual,
		"failed":     result.Failed,
	}).Info("purge finished")
	return result, nil
}

func withoutIDs(msgs []domain.Message, ids []string) []domain.Message {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	out := make([]domain.Message, 0, len(msgs))
	for _, m := range msgs {
		if !drop[m.ID] {
			out = append(out, m)
		}
	}
	return out
}
