package gateway

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Martian-dev/crm-mail-gateway/internal/email"
	"github.com/Martian-dev/crm-mail-gateway/internal/metrics"
)

// instrumented bounds, times and logs every call into an adapter.
type instrumented struct {
	provider email.ProviderType
	next     email.Service
	timeout  time.Duration
	log      *logrus.Logger
	metrics  *metrics.Metrics
}

func (s *instrumented) call(ctx context.Context, op string, fn func(context.Context) error) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(ctx)
	took := time.Since(start)

	entry := s.log.WithFields(logrus.Fields{
		"provider":  s.provider,
		"operation": op,
		"took_ms":   took.Milliseconds(),
	})
	if err != nil {
		outcome := "error"
		if ee, ok := email.AsEmailError(err); ok && ee.StatusCode != 0 {
			entry = entry.WithField("status", ee.StatusCode)
		}
		if ctx.Err() != nil {
			outcome = "timeout"
		}
		s.metrics.ProviderCall(string(s.provider), op, outcome, took)
		entry.WithError(err).Warn("provider call failed")
		return err
	}

	s.metrics.ProviderCall(string(s.provider), op, "ok", took)
	entry.Debug("provider call")
	return nil
}

func (s *instrumented) GetMessageByID(ctx context.Context, id string) (*email.Message, error) {
	var out *email.Message
	err := s.call(ctx, "get_message", func(ctx context.Context) (err error) {
		out, err = s.next.GetMessageByID(ctx, id)
		return err
	})
	return out, err
}

func (s *instrumented) GetFolders(ctx context.Context) ([]email.Folder, error) {
	var out []email.Folder
	err := s.call(ctx, "get_folders", func(ctx context.Context) (err error) {
		out, err = s.next.GetFolders(ctx)
		return err
	})
	return out, err
}

func (s *instrumented) GetMessageAttachments(ctx context.Context, id string, includeContent bool) ([]email.Attachment, error) {
	var out []email.Attachment
	err := s.call(ctx, "get_attachments", func(ctx context.Context) (err error) {
		out, err = s.next.GetMessageAttachments(ctx, id, includeContent)
		return err
	})
	return out, err
}

func (s *instrumented) PerformAction(ctx context.Context, action email.Action) error {
	return s.call(ctx, "action_"+string(action.Type), func(ctx context.Context) error {
		return s.next.PerformAction(ctx, action)
	})
}

func (s *instrumented) ReplyToEmail(ctx context.Context, id, content string, replyAll bool) (string, error) {
	var out string
	err := s.call(ctx, "reply", func(ctx context.Context) (err error) {
		out, err = s.next.ReplyToEmail(ctx, id, content, replyAll)
		return err
	})
	return out, err
}

func (s *instrumented) ForwardEmail(ctx context.Context, id string, recipients []string, content string) (string, error) {
	var out string
	err := s.call(ctx, "forward", func(ctx context.Context) (err error) {
		out, err = s.next.ForwardEmail(ctx, id, recipients, content)
		return err
	})
	return out, err
}
