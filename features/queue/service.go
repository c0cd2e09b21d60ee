package queue

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/balaji119/local-mail-forwarder-graph/internal/config"
)

// EventPublisher pushes job lifecycle events onto the NSQ stream.
type EventPublisher interface {
	Publish(topic string, body []byte) error
}

// Service exposes the operator-facing queue operations. The dispatcher talks
// to the Repository directly; this layer exists for the admin HTTP surface.
type Service struct {
	repo   Repository
	pub    EventPublisher
	logger *slog.Logger
}

func NewService(repo Repository, pub EventPublisher, logger *slog.Logger) *Service {
	return &Service{repo: repo, pub: pub, logger: logger}
}

func (s *Service) ListByStatus(ctx context.Context, status Status) ([]Job, error) {
	return s.repo.ListByStatus(ctx, status)
}

func (s *Service) ListFailed(ctx context.Context) ([]Job, error) {
	return s.repo.ListByStatus(ctx, StatusError)
}

// Retry resets an errored job to pending so the next dispatch tick can claim
// it. The attempt count is preserved.
func (s *Service) Retry(ctx context.Context, id string) error {
	if err := s.repo.Reset(ctx, id); err != nil {
		return err
	}

	s.publish(config.TopicJobRetried, id)
	return nil
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	return s.repo.CountByStatus(ctx)
}

func (s *Service) publish(topic, jobID string) {
	if s.pub == nil {
		return
	}
	body, _ := json.Marshal(map[string]string{"job_id": jobID})
	if err := s.pub.Publish(topic, body); err != nil {
		s.logger.Warn("failed to publish job event", "topic", topic, "job_id", jobID, "error", err)
	}
}
