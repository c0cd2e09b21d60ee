package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/balaji119/local-mail-forwarder-graph/features/queue"
	"github.com/balaji119/local-mail-forwarder-graph/internal/adapter/extractor"
	"github.com/balaji119/local-mail-forwarder-graph/internal/adapter/mailapi"
	"github.com/balaji119/local-mail-forwarder-graph/internal/config"
)

// MailSource is the remote mailbox fetch collaborator.
type MailSource interface {
	FetchUnread(ctx context.Context, folder string) ([]mailapi.Message, error)
}

// Poller converts unread remote messages into jobs. The remote message id is
// the job id, so a message that stays unread across polls (because delivery
// has not yet confirmed) is re-discovered and re-inserted as a no-op.
type Poller struct {
	source        MailSource
	extract       Extractor
	jobs          JobStore
	pub           queue.EventPublisher
	folder        string
	attachmentDir string
	logger        *slog.Logger
}

func NewPoller(source MailSource, extract Extractor, jobs JobStore, pub queue.EventPublisher, folder, attachmentDir string, logger *slog.Logger) *Poller {
	return &Poller{
		source:        source,
		extract:       extract,
		jobs:          jobs,
		pub:           pub,
		folder:        folder,
		attachmentDir: attachmentDir,
		logger:        logger,
	}
}

// Poll runs one ingestion pass. A fetch failure aborts the pass; a failure
// on an individual message is logged and skipped, leaving that message
// unread so the next pass sees it again.
func (p *Poller) Poll(ctx context.Context) error {
	messages, err := p.source.FetchUnread(ctx, p.folder)
	if err != nil {
		return fmt.Errorf("poll mailbox: %w", err)
	}

	for _, msg := range messages {
		if err := p.ingest(ctx, msg); err != nil {
			p.logger.ErrorContext(ctx, "failed to ingest message", "message_id", msg.ID, "error", err)
		}
	}
	return nil
}

func (p *Poller) ingest(ctx context.Context, msg mailapi.Message) error {
	text := msg.BodyText
	if text == "" {
		text = msg.BodyHTML
	}

	quote, err := p.extract.Extract(ctx, text)
	if err != nil {
		if errors.Is(err, extractor.ErrExtraction) {
			return fmt.Errorf("message %s not extractable: %w", msg.ID, err)
		}
		return err
	}

	var paths []string
	for _, a := range msg.Attachments {
		path, err := saveAttachment(p.attachmentDir, a.Name, a.Content)
		if err != nil {
			return err
		}
		paths = append(paths, path)
	}

	payload := QuotePayload{
		MessageID:   msg.ID,
		From:        msg.From,
		Subject:     msg.Subject,
		Text:        msg.BodyText,
		HTML:        msg.BodyHTML,
		Attachments: paths,
		Quote:       quote,
	}
	body, err := payload.Marshal()
	if err != nil {
		return err
	}

	created, err := p.jobs.Insert(ctx, &queue.Job{ID: msg.ID, Payload: body})
	if err != nil {
		return err
	}
	if !created {
		p.logger.DebugContext(ctx, "message already enqueued", "message_id", msg.ID)
		return nil
	}

	p.logger.InfoContext(ctx, "enqueued job from mailbox", "message_id", msg.ID, "from", msg.From)
	p.publishEnqueued(msg.ID)
	return nil
}

func (p *Poller) publishEnqueued(jobID string) {
	if p.pub == nil {
		return
	}
	body, _ := json.Marshal(map[string]string{"job_id": jobID, "source": "poller"})
	if err := p.pub.Publish(config.TopicJobEnqueued, body); err != nil {
		p.logger.Warn("failed to publish enqueued event", "job_id", jobID, "error", err)
	}
}
