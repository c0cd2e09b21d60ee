// Package quote is the built-in delivery target: it receives a captured
// request payload, prices it against the pricing backend and mails the
// quote back to the sender. Deployments that route jobs elsewhere simply
// point the delivery webhook at their own endpoint instead.
package quote

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/balaji119/local-mail-forwarder-graph/features/ingest"
	"github.com/balaji119/local-mail-forwarder-graph/internal/adapter/extractor"
	"github.com/balaji119/local-mail-forwarder-graph/internal/adapter/pricing"
	"github.com/balaji119/local-mail-forwarder-graph/internal/mappings"
)

// Pricer is the pricing backend collaborator.
type Pricer interface {
	Authenticate(ctx context.Context) (string, error)
	Quote(ctx context.Context, token string, q *extractor.StructuredQuote) (*pricing.PriceResult, error)
}

// MailSender sends the quote reply through the mail API.
type MailSender interface {
	SendMail(ctx context.Context, to, subject, body string) error
}

type Service struct {
	pricer      Pricer
	mail        MailSender
	stock       *mappings.Store
	operations  *mappings.ListStore
	fromAddress string
	logger      *slog.Logger
}

func NewService(pricer Pricer, mail MailSender, stock *mappings.Store, operations *mappings.ListStore, fromAddress string, logger *slog.Logger) *Service {
	return &Service{
		pricer:      pricer,
		mail:        mail,
		stock:       stock,
		operations:  operations,
		fromAddress: fromAddress,
		logger:      logger,
	}
}

// Respond prices the payload and mails the quote to the original sender.
// A nil return means the reply went out; any error means the caller must
// not acknowledge the job.
func (s *Service) Respond(ctx context.Context, payload *ingest.QuotePayload) error {
	if payload.Quote == nil {
		return fmt.Errorf("payload has no structured quote")
	}
	if payload.From == "" {
		return fmt.Errorf("payload has no sender address")
	}

	req := s.prepare(ctx, payload.Quote)

	token, err := s.pricer.Authenticate(ctx)
	if err != nil {
		return fmt.Errorf("pricing auth: %w", err)
	}
	result, err := s.pricer.Quote(ctx, token, req)
	if err != nil {
		return fmt.Errorf("pricing: %w", err)
	}

	subject := "Re: " + payload.Subject
	if payload.Subject == "" {
		subject = "Your quote request"
	}
	if err := s.mail.SendMail(ctx, payload.From, subject, s.renderReply(req, result)); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}

	s.logger.InfoContext(ctx, "quote sent",
		"to", payload.From, "reference", result.Reference, "price", result.Price, "currency", result.Currency)
	return nil
}

// prepare maps the extracted material onto the stock catalogue and drops
// operations the shop does not offer. The original quote in the payload is
// left untouched.
func (s *Service) prepare(ctx context.Context, q *extractor.StructuredQuote) *extractor.StructuredQuote {
	req := *q

	if code, ok := s.stock.Get(strings.ToLower(strings.TrimSpace(q.Material))); ok {
		req.Material = code
	}

	if len(q.Operations) > 0 && len(s.operations.List()) > 0 {
		var kept []string
		for _, op := range q.Operations {
			if s.operations.Contains(op) {
				kept = append(kept, op)
			} else {
				s.logger.WarnContext(ctx, "dropping unknown operation", "operation", op)
			}
		}
		req.Operations = kept
	}
	return &req
}

func (s *Service) renderReply(req *extractor.StructuredQuote, result *pricing.PriceResult) string {
	var b strings.Builder
	b.WriteString("Hello,\n\nThank you for your request. Our quote:\n\n")
	fmt.Fprintf(&b, "  Material:  %s\n", req.Material)
	fmt.Fprintf(&b, "  Quantity:  %d\n", req.Quantity)
	if req.Dimensions != "" {
		fmt.Fprintf(&b, "  Dimensions: %s\n", req.Dimensions)
	}
	if len(req.Operations) > 0 {
		fmt.Fprintf(&b, "  Operations: %s\n", strings.Join(req.Operations, ", "))
	}
	fmt.Fprintf(&b, "  Price:     %.2f %s\n", result.Price, result.Currency)
	if result.Reference != "" {
		fmt.Fprintf(&b, "  Reference: %s\n", result.Reference)
	}
	if result.ValidDays > 0 {
		fmt.Fprintf(&b, "\nThis quote is valid for %d days.\n", result.ValidDays)
	}
	b.WriteString("\nBest regards,\n")
	b.WriteString(s.fromAddress)
	b.WriteString("\n")
	return b.String()
}
