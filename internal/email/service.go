package email

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Service is the capability set every provider adapter implements in full.
type Service interface {
	GetMessageByID(ctx context.Context, id string) (*Message, error)
	GetFolders(ctx context.Context) ([]Folder, error)
	GetMessageAttachments(ctx context.Context, id string, includeContent bool) ([]Attachment, error)
	PerformAction(ctx context.Context, action Action) error
	ReplyToEmail(ctx context.Context, id, content string, replyAll bool) (string, error)
	ForwardEmail(ctx context.Context, id string, recipients []string, content string) (string, error)
}

// Validating wraps next so that input is validated before any provider call
// and every failure surfaces as *ValidationError or *EmailError.
func Validating(provider ProviderType, next Service) Service {
	return &validating{provider: provider, next: next}
}

type validating struct {
	provider ProviderType
	next     Service
}

func (v *validating) GetMessageByID(ctx context.Context, id string) (*Message, error) {
	if err := Validate(messageRef{MessageID: id}); err != nil {
		return nil, err
	}
	m, err := v.next.GetMessageByID(ctx, id)
	if err != nil {
		return nil, v.normalize(err)
	}
	return m, nil
}

func (v *validating) GetFolders(ctx context.Context) ([]Folder, error) {
	folders, err := v.next.GetFolders(ctx)
	if err != nil {
		return nil, v.normalize(err)
	}
	return folders, nil
}

func (v *validating) GetMessageAttachments(ctx context.Context, id string, includeContent bool) ([]Attachment, error) {
	if err := Validate(messageRef{MessageID: id}); err != nil {
		return nil, err
	}
	atts, err := v.next.GetMessageAttachments(ctx, id, includeContent)
	if err != nil {
		return nil, v.normalize(err)
	}
	return atts, nil
}

func (v *validating) PerformAction(ctx context.Context, action Action) error {
	if err := Validate(action); err != nil {
		return err
	}
	return v.normalize(v.next.PerformAction(ctx, action))
}

func (v *validating) ReplyToEmail(ctx context.Context, id, content string, replyAll bool) (string, error) {
	if err := Validate(replyInput{MessageID: id, Content: content}); err != nil {
		return "", err
	}
	newID, err := v.next.ReplyToEmail(ctx, id, content, replyAll)
	if err != nil {
		return "", v.normalize(err)
	}
	return newID, nil
}

func (v *validating) ForwardEmail(ctx context.Context, id string, recipients []string, content string) (string, error) {
	trimmed := make([]string, len(recipients))
	for i, r := range recipients {
		trimmed[i] = strings.TrimSpace(r)
	}
	if err := Validate(forwardInput{MessageID: id, Recipients: trimmed}); err != nil {
		return "", err
	}
	newID, err := v.next.ForwardEmail(ctx, id, trimmed, content)
	if err != nil {
		return "", v.normalize(err)
	}
	return newID, nil
}

func (v *validating) normalize(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := AsEmailError(err); ok {
		return err
	}
	if _, ok := AsValidationError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewEmailError(v.provider, http.StatusGatewayTimeout, "provider request timed out", err)
	case errors.Is(err, context.Canceled):
		return NewEmailError(v.provider, 0, "request cancelled", err)
	}
	return NewEmailError(v.provider, 0, "provider request failed", err)
}
