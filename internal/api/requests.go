package api

import "github.com/Martian-dev/crm-mail-gateway/internal/email"

// credentials selects the provider. An empty AccessToken is filled from the
// caller's connected account when possible.
type credentials struct {
	Provider    email.ProviderType `json:"provider" validate:"required,oneof=microsoft google"`
	AccessToken string             `json:"accessToken"`
}

func (c *credentials) creds() *credentials { return c }

type request interface {
	creds() *credentials
}

type foldersRequest struct {
	credentials
}

type messageRequest struct {
	credentials
	MessageID string `json:"messageId" validate:"required"`
}

type attachmentsRequest struct {
	credentials
	MessageID      string `json:"messageId" validate:"required"`
	IncludeContent bool   `json:"includeContent"`
}

type actionRequest struct {
	credentials
	email.Action
}

type replyRequest struct {
	credentials
	MessageID string `json:"messageId" validate:"required"`
	Content   string `json:"content" validate:"required"`
	ReplyAll  bool   `json:"replyAll"`
}

type forwardRequest struct {
	credentials
	MessageID  string   `json:"messageId" validate:"required"`
	Recipients []string `json:"recipients" validate:"required,min=1,dive,required,email"`
	Content    string   `json:"content"`
}
