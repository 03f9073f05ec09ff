package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/Martian-dev/crm-mail-gateway/internal/email"
)

const me = "me"

// Adapter implements email.Service for Gmail
type Adapter struct {
	svc *gmail.Service
	now func() time.Time
}

// New creates a Gmail adapter authorized with the caller's access token.
func New(ctx context.Context, accessToken string) (*Adapter, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	return NewWithOptions(ctx, option.WithHTTPClient(oauth2.NewClient(ctx, ts)))
}

// NewWithOptions creates an adapter with explicit client options.
func NewWithOptions(ctx context.Context, opts ...option.ClientOption) (*Adapter, error) {
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return &Adapter{svc: svc, now: time.Now}, nil
}

// GetMessageByID fetches and normalizes a single message
func (a *Adapter) GetMessageByID(ctx context.Context, id string) (*email.Message, error) {
	m, err := a.svc.Users.Messages.Get(me, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, wrap(err, "get message")
	}
	return normalize(m), nil
}

// GetFolders lists labels; system labels first, then user labels by name
func (a *Adapter) GetFolders(ctx context.Context) ([]email.Folder, error) {
	resp, err := a.svc.Users.Labels.List(me).Context(ctx).Do()
	if err != nil {
		return nil, wrap(err, "list labels")
	}

	folders := make([]email.Folder, 0, len(resp.Labels))
	for _, l := range resp.Labels {
		kind := email.FolderUser
		if l.Type == "system" {
			kind = email.FolderSystem
		}
		folders = append(folders, email.Folder{
			ID:          l.Id,
			Name:        l.Name,
			Kind:        kind,
			UnreadCount: l.MessagesUnread,
			TotalCount:  l.MessagesTotal,
		})
	}
	return email.OrderFolders(folders), nil
}

// GetMessageAttachments lists attachments; content is fetched only on request
func (a *Adapter) GetMessageAttachments(ctx context.Context, id string, includeContent bool) ([]email.Attachment, error) {
	m, err := a.svc.Users.Messages.Get(me, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, wrap(err, "get message")
	}

	parts := attachmentParts(m.Payload)
	out := make([]email.Attachment, 0, len(parts))
	for _, p := range parts {
		att := email.Attachment{
			MessageID: m.Id,
			Filename:  p.Filename,
			MimeType:  p.MimeType,
			Inline:    isInline(p),
		}
		if p.Body != nil {
			att.ID = p.Body.AttachmentId
			att.Size = p.Body.Size
		}

		if includeContent {
			content, err := a.attachmentContent(ctx, m.Id, p)
			if err != nil {
				return nil, err
			}
			att.Content = content
		}
		out = append(out, att)
	}
	return out, nil
}

func (a *Adapter) attachmentContent(ctx context.Context, messageID string, p *gmail.MessagePart) ([]byte, error) {
	if p.Body == nil {
		return nil, nil
	}
	data := p.Body.Data
	if data == "" && p.Body.AttachmentId != "" {
		body, err := a.svc.Users.Messages.Attachments.Get(me, messageID, p.Body.AttachmentId).Context(ctx).Do()
		if err != nil {
			return nil, wrap(err, "get attachment")
		}
		data = body.Data
	}
	if data == "" {
		return nil, nil
	}
	b, err := decodeData(data)
	if err != nil {
		return nil, fmt.Errorf("decode attachment %s: %w", p.Filename, err)
	}
	return b, nil
}

// PerformAction applies a mutating action. Folders are labels on Gmail,
// so move adds the target label and takes the message out of the inbox.
func (a *Adapter) PerformAction(ctx context.Context, action email.Action) error {
	id := action.MessageID
	switch action.Type {
	case email.ActionMarkRead:
		return a.modify(ctx, id, nil, []string{"UNREAD"})
	case email.ActionMarkUnread:
		return a.modify(ctx, id, []string{"UNREAD"}, nil)
	case email.ActionDelete:
		if _, err := a.svc.Users.Messages.Trash(me, id).Context(ctx).Do(); err != nil {
			return wrap(err, "trash message")
		}
		return nil
	case email.ActionMove:
		if action.FolderID == "INBOX" {
			return a.modify(ctx, id, []string{"INBOX"}, nil)
		}
		return a.modify(ctx, id, []string{action.FolderID}, []string{"INBOX"})
	case email.ActionAddLabel:
		return a.modify(ctx, id, action.LabelIDs, nil)
	case email.ActionRemoveLabel:
		return a.modify(ctx, id, nil, action.LabelIDs)
	default:
		return email.Unsupported(email.ProviderGoogle, "action "+string(action.Type))
	}
}

func (a *Adapter) modify(ctx context.Context, id string, add, remove []string) error {
	req := &gmail.ModifyMessageRequest{
		AddLabelIds:    add,
		RemoveLabelIds: remove,
	}
	if _, err := a.svc.Users.Messages.Modify(me, id, req).Context(ctx).Do(); err != nil {
		return wrap(err, "modify labels")
	}
	return nil
}

// ReplyToEmail sends a reply in the original thread and returns its id
func (a *Adapter) ReplyToEmail(ctx context.Context, id, content string, replyAll bool) (string, error) {
	orig, err := a.svc.Users.Messages.Get(me, id).Format("metadata").
		MetadataHeaders("Subject", "From", "Reply-To", "To", "Cc", "Message-ID", "References").
		Context(ctx).Do()
	if err != nil {
		return "", wrap(err, "get original")
	}

	var self string
	if replyAll {
		profile, err := a.svc.Users.GetProfile(me).Context(ctx).Do()
		if err != nil {
			return "", wrap(err, "get profile")
		}
		self = profile.EmailAddress
	}

	out, err := buildReply(orig, content, replyAll, self, a.now())
	if err != nil {
		return "", err
	}
	return a.send(ctx, out)
}

// ForwardEmail sends the original text with content above it to recipients
func (a *Adapter) ForwardEmail(ctx context.Context, id string, recipients []string, content string) (string, error) {
	orig, err := a.svc.Users.Messages.Get(me, id).Format("full").Context(ctx).Do()
	if err != nil {
		return "", wrap(err, "get original")
	}

	out, err := buildForward(orig, recipients, content, a.now())
	if err != nil {
		return "", err
	}
	return a.send(ctx, out)
}

func (a *Adapter) send(ctx context.Context, out *outgoing) (string, error) {
	raw, err := out.compose()
	if err != nil {
		return "", fmt.Errorf("compose message: %w", err)
	}
	msg := &gmail.Message{
		Raw:      base64.URLEncoding.EncodeToString(raw),
		ThreadId: out.threadID,
	}
	sent, err := a.svc.Users.Messages.Send(me, msg).Context(ctx).Do()
	if err != nil {
		return "", wrap(err, "send message")
	}
	return sent.Id, nil
}

// wrap converts Gmail API errors into email.EmailError
func wrap(err error, op string) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = http.StatusText(apiErr.Code)
		}
		return email.NewEmailError(email.ProviderGoogle, apiErr.Code, msg, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// normalize converts a Gmail message to email.Message
func normalize(m *gmail.Message) *email.Message {
	out := &email.Message{
		ID:         m.Id,
		ThreadID:   m.ThreadId,
		Snippet:    m.Snippet,
		LabelIDs:   m.LabelIds,
		IsRead:     !hasLabel(m.LabelIds, "UNREAD"),
		FolderID:   primaryFolder(m.LabelIds),
		ReceivedAt: time.UnixMilli(m.InternalDate).UTC(),
	}
	if m.Payload == nil {
		return out
	}

	headers := m.Payload.Headers
	out.Subject = header(headers, "Subject")
	if from := parseAddresses(header(headers, "From")); len(from) > 0 {
		out.From = from[0]
	}
	out.To = parseAddresses(header(headers, "To"))
	out.Cc = parseAddresses(header(headers, "Cc"))
	out.Bcc = parseAddresses(header(headers, "Bcc"))
	out.BodyText, out.BodyHTML = extractBody(m.Payload)
	out.HasAttachments = len(attachmentParts(m.Payload)) > 0
	return out
}

var systemFolders = []string{"INBOX", "SENT", "DRAFT", "SPAM", "TRASH"}

func primaryFolder(labels []string) string {
	for _, f := range systemFolders {
		if hasLabel(labels, f) {
			return f
		}
	}
	return ""
}

func hasLabel(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}

func header(headers []*gmail.MessagePartHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func extractBody(part *gmail.MessagePart) (text, html string) {
	if part == nil {
		return "", ""
	}
	if part.Filename == "" && part.Body != nil && part.Body.Data != "" {
		switch part.MimeType {
		case "text/plain":
			if b, err := decodeData(part.Body.Data); err == nil {
				text = string(b)
			}
		case "text/html":
			if b, err := decodeData(part.Body.Data); err == nil {
				html = string(b)
			}
		}
	}
	for _, p := range part.Parts {
		t, h := extractBody(p)
		if text == "" {
			text = t
		}
		if html == "" {
			html = h
		}
	}
	return text, html
}

func attachmentParts(part *gmail.MessagePart) []*gmail.MessagePart {
	if part == nil {
		return nil
	}
	var out []*gmail.MessagePart
	if part.Filename != "" {
		out = append(out, part)
	}
	for _, p := range part.Parts {
		out = append(out, attachmentParts(p)...)
	}
	return out
}

func isInline(p *gmail.MessagePart) bool {
	for _, h := range p.Headers {
		if strings.EqualFold(h.Name, "Content-Disposition") && strings.HasPrefix(strings.ToLower(h.Value), "inline") {
			return true
		}
	}
	return false
}

// decodeData accepts both padded and unpadded base64url.
func decodeData(s string) ([]byte, error) {
	if b, err := base64.URLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
