package outlook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	abstractions "github.com/microsoft/kiota-abstractions-go"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/models/odataerrors"
	"github.com/microsoftgraph/msgraph-sdk-go/users"

	"github.com/Martian-dev/crm-mail-gateway/internal/email"
)

var graphScopes = []string{"https://graph.microsoft.com/.default"}

// Adapter implements email.Service for Outlook/Microsoft Graph
type Adapter struct {
	client *msgraphsdk.GraphServiceClient
}

// New creates a Graph adapter authorized with the caller's access token.
func New(_ context.Context, accessToken string) (*Adapter, error) {
	cred := &staticTokenCredential{token: accessToken}

	client, err := msgraphsdk.NewGraphServiceClientWithCredentials(cred, graphScopes)
	if err != nil {
		return nil, fmt.Errorf("failed to create Graph client: %w", err)
	}
	return NewWithClient(client), nil
}

// NewWithClient wraps an existing Graph client.
func NewWithClient(client *msgraphsdk.GraphServiceClient) *Adapter {
	return &Adapter{client: client}
}

// GetMessageByID fetches and normalizes a single message
func (a *Adapter) GetMessageByID(ctx context.Context, id string) (*email.Message, error) {
	msg, err := a.client.Me().Messages().ByMessageId(id).Get(ctx, nil)
	if err != nil {
		return nil, wrap(err, "get message")
	}
	return normalize(msg), nil
}

// GetFolders lists top-level mail folders; well-known folders come first
func (a *Adapter) GetFolders(ctx context.Context) ([]email.Folder, error) {
	top := int32(100)
	cfg := &users.ItemMailFoldersRequestBuilderGetRequestConfiguration{
		QueryParameters: &users.ItemMailFoldersRequestBuilderGetQueryParameters{
			Top: &top,
		},
	}
	resp, err := a.client.Me().MailFolders().Get(ctx, cfg)
	if err != nil {
		return nil, wrap(err, "list folders")
	}

	folders := make([]email.Folder, 0, len(resp.GetValue()))
	for _, f := range resp.GetValue() {
		name := deref(f.GetDisplayName())
		kind := email.FolderUser
		if wellKnownFolders[strings.ToLower(name)] {
			kind = email.FolderSystem
		}
		folders = append(folders, email.Folder{
			ID:          deref(f.GetId()),
			Name:        name,
			Kind:        kind,
			UnreadCount: int64(derefInt(f.GetUnreadItemCount())),
			TotalCount:  int64(derefInt(f.GetTotalItemCount())),
		})
	}
	return email.OrderFolders(folders), nil
}

var wellKnownFolders = map[string]bool{
	"inbox":                true,
	"drafts":               true,
	"sent items":           true,
	"deleted items":        true,
	"junk email":           true,
	"archive":              true,
	"outbox":               true,
	"conversation history": true,
}

// GetMessageAttachments lists attachments; content bytes only when asked
func (a *Adapter) GetMessageAttachments(ctx context.Context, id string, includeContent bool) ([]email.Attachment, error) {
	var cfg *users.ItemMessagesItemAttachmentsRequestBuilderGetRequestConfiguration
	if !includeContent {
		cfg = &users.ItemMessagesItemAttachmentsRequestBuilderGetRequestConfiguration{
			QueryParameters: &users.ItemMessagesItemAttachmentsRequestBuilderGetQueryParameters{
				Select: []string{"id", "name", "contentType", "size", "isInline"},
			},
		}
	}
	resp, err := a.client.Me().Messages().ByMessageId(id).Attachments().Get(ctx, cfg)
	if err != nil {
		return nil, wrap(err, "list attachments")
	}

	out := make([]email.Attachment, 0, len(resp.GetValue()))
	for _, att := range resp.GetValue() {
		item := email.Attachment{
			ID:        deref(att.GetId()),
			MessageID: id,
			Filename:  deref(att.GetName()),
			MimeType:  deref(att.GetContentType()),
			Size:      int64(derefInt(att.GetSize())),
			Inline:    att.GetIsInline() != nil && *att.GetIsInline(),
		}
		if includeContent {
			if file, ok := att.(models.FileAttachmentable); ok {
				item.Content = file.GetContentBytes()
			}
		}
		out = append(out, item)
	}
	return out, nil
}

// PerformAction applies a mutating action. Labels are Outlook categories.
func (a *Adapter) PerformAction(ctx context.Context, action email.Action) error {
	item := a.client.Me().Messages().ByMessageId(action.MessageID)

	switch action.Type {
	case email.ActionMarkRead, email.ActionMarkUnread:
		read := action.Type == email.ActionMarkRead
		patch := models.NewMessage()
		patch.SetIsRead(&read)
		if _, err := item.Patch(ctx, patch, nil); err != nil {
			return wrap(err, "update read state")
		}
		return nil

	case email.ActionDelete:
		if err := item.Delete(ctx, nil); err != nil {
			return wrap(err, "delete message")
		}
		return nil

	case email.ActionMove:
		body := users.NewItemMessagesItemMovePostRequestBody()
		dest := action.FolderID
		body.SetDestinationId(&dest)
		if _, err := item.Move().Post(ctx, body, nil); err != nil {
			return wrap(err, "move message")
		}
		return nil

	case email.ActionAddLabel, email.ActionRemoveLabel:
		msg, err := item.Get(ctx, nil)
		if err != nil {
			return wrap(err, "get categories")
		}
		categories := applyCategories(msg.GetCategories(), action.LabelIDs, action.Type == email.ActionAddLabel)
		patch := models.NewMessage()
		patch.SetCategories(categories)
		if _, err := item.Patch(ctx, patch, nil); err != nil {
			return wrap(err, "update categories")
		}
		return nil

	default:
		return email.Unsupported(email.ProviderMicrosoft, "action "+string(action.Type))
	}
}

func applyCategories(current, labels []string, add bool) []string {
	out := make([]string, 0, len(current)+len(labels))
	seen := make(map[string]bool, len(current)+len(labels))
	drop := make(map[string]bool, len(labels))
	if !add {
		for _, l := range labels {
			drop[l] = true
		}
	}
	for _, c := range current {
		if !drop[c] && !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	if add {
		for _, l := range labels {
			if !seen[l] {
				seen[l] = true
				out = append(out, l)
			}
		}
	}
	return out
}

// ReplyToEmail creates a reply draft with content as its comment, sends it
// and returns the draft id.
func (a *Adapter) ReplyToEmail(ctx context.Context, id, content string, replyAll bool) (string, error) {
	item := a.client.Me().Messages().ByMessageId(id)

	var (
		draft models.Messageable
		err   error
	)
	if replyAll {
		body := users.NewItemMessagesItemCreateReplyAllPostRequestBody()
		body.SetComment(&content)
		draft, err = item.CreateReplyAll().Post(ctx, body, nil)
	} else {
		body := users.NewItemMessagesItemCreateReplyPostRequestBody()
		body.SetComment(&content)
		draft, err = item.CreateReply().Post(ctx, body, nil)
	}
	if err != nil {
		return "", wrap(err, "create reply")
	}
	return a.sendDraft(ctx, draft)
}

// ForwardEmail creates a forward draft addressed to recipients and sends it.
func (a *Adapter) ForwardEmail(ctx context.Context, id string, recipients []string, content string) (string, error) {
	body := users.NewItemMessagesItemCreateForwardPostRequestBody()
	body.SetToRecipients(toRecipients(recipients))
	if content != "" {
		body.SetComment(&content)
	}

	draft, err := a.client.Me().Messages().ByMessageId(id).CreateForward().Post(ctx, body, nil)
	if err != nil {
		return "", wrap(err, "create forward")
	}
	return a.sendDraft(ctx, draft)
}

func (a *Adapter) sendDraft(ctx context.Context, draft models.Messageable) (string, error) {
	if draft == nil || draft.GetId() == nil {
		return "", email.NewEmailError(email.ProviderMicrosoft, http.StatusBadGateway, "draft was not created", nil)
	}
	draftID := *draft.GetId()
	if err := a.client.Me().Messages().ByMessageId(draftID).Send().Post(ctx, nil); err != nil {
		return "", wrap(err, "send draft")
	}
	return draftID, nil
}

func toRecipients(addrs []string) []models.Recipientable {
	out := make([]models.Recipientable, 0, len(addrs))
	for _, addr := range addrs {
		ea := models.NewEmailAddress()
		ea.SetAddress(&addr)
		r := models.NewRecipient()
		r.SetEmailAddress(ea)
		out = append(out, r)
	}
	return out
}

// wrap converts Graph OData errors into email.EmailError
func wrap(err error, op string) error {
	var odataErr *odataerrors.ODataError
	if errors.As(err, &odataErr) {
		msg := ""
		if main := odataErr.GetErrorEscaped(); main != nil {
			msg = deref(main.GetMessage())
		}
		status := odataErr.GetStatusCode()
		if msg == "" {
			msg = http.StatusText(status)
		}
		return email.NewEmailError(email.ProviderMicrosoft, status, msg, err)
	}
	// Error statuses without a body arrive as a bare ApiError.
	var apiErr *abstractions.ApiError
	if errors.As(err, &apiErr) && apiErr.ResponseStatusCode != 0 {
		status := apiErr.ResponseStatusCode
		return email.NewEmailError(email.ProviderMicrosoft, status, http.StatusText(status), err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// normalize converts a Graph message to email.Message
func normalize(m models.Messageable) *email.Message {
	out := &email.Message{
		ID:             deref(m.GetId()),
		ThreadID:       deref(m.GetConversationId()),
		Subject:        deref(m.GetSubject()),
		Snippet:        deref(m.GetBodyPreview()),
		IsRead:         m.GetIsRead() != nil && *m.GetIsRead(),
		LabelIDs:       m.GetCategories(),
		FolderID:       deref(m.GetParentFolderId()),
		HasAttachments: m.GetHasAttachments() != nil && *m.GetHasAttachments(),
	}

	if from := m.GetFrom(); from != nil {
		if addrs := extractAddresses([]models.Recipientable{from}); len(addrs) > 0 {
			out.From = addrs[0]
		}
	}
	out.To = extractAddresses(m.GetToRecipients())
	out.Cc = extractAddresses(m.GetCcRecipients())
	out.Bcc = extractAddresses(m.GetBccRecipients())

	if body := m.GetBody(); body != nil && body.GetContent() != nil {
		if ct := body.GetContentType(); ct != nil && *ct == models.HTML_BODYTYPE {
			out.BodyHTML = *body.GetContent()
		} else {
			out.BodyText = *body.GetContent()
		}
	}

	if rcvd := m.GetReceivedDateTime(); rcvd != nil {
		out.ReceivedAt = rcvd.UTC()
	}
	return out
}

// extractAddresses extracts addresses from recipients
func extractAddresses(recipients []models.Recipientable) []email.Address {
	var addrs []email.Address
	for _, r := range recipients {
		if r == nil {
			continue
		}
		if ea := r.GetEmailAddress(); ea != nil && ea.GetAddress() != nil {
			addrs = append(addrs, email.Address{
				Name:  deref(ea.GetName()),
				Email: *ea.GetAddress(),
			})
		}
	}
	return addrs
}

// staticTokenCredential implements azcore.TokenCredential over a caller
// supplied bearer token
type staticTokenCredential struct {
	token string
}

func (c *staticTokenCredential) GetToken(ctx context.Context, options policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{
		Token:     c.token,
		ExpiresOn: time.Now().Add(1 * time.Hour),
	}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(i *int32) int32 {
	if i == nil {
		return 0
	}
	return *i
}
