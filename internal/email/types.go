package email

import "time"

// ProviderType selects the mail backend.
type ProviderType string

const (
	ProviderMicrosoft ProviderType = "microsoft"
	ProviderGoogle    ProviderType = "google"
)

// Provider binds a backend to the caller's bearer credential. It is built per
// request and never stored.
type Provider struct {
	Type        ProviderType `json:"provider" validate:"required,oneof=microsoft google"`
	AccessToken string       `json:"accessToken" validate:"required"`
}

// ActionType enumerates the mutating actions.
type ActionType string

const (
	ActionMarkRead    ActionType = "mark_read"
	ActionMarkUnread  ActionType = "mark_unread"
	ActionDelete      ActionType = "delete"
	ActionMove        ActionType = "move"
	ActionAddLabel    ActionType = "add_label"
	ActionRemoveLabel ActionType = "remove_label"
)

// Action is a single mutation of one message. FolderID is required for move
// and LabelIDs for the label actions; both are ignored otherwise.
type Action struct {
	Type      ActionType `json:"type" validate:"required,oneof=mark_read mark_unread delete move add_label remove_label"`
	MessageID string     `json:"messageId" validate:"required"`
	FolderID  string     `json:"folderId,omitempty"`
	LabelIDs  []string   `json:"labelIds,omitempty"`
}

type Address struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// Message is the provider-neutral view of a single mail message.
type Message struct {
	ID             string    `json:"id"`
	ThreadID       string    `json:"threadId,omitempty"`
	Subject        string    `json:"subject"`
	From           Address   `json:"from"`
	To             []Address `json:"to,omitempty"`
	Cc             []Address `json:"cc,omitempty"`
	Bcc            []Address `json:"bcc,omitempty"`
	Snippet        string    `json:"snippet,omitempty"`
	BodyText       string    `json:"bodyText,omitempty"`
	BodyHTML       string    `json:"bodyHtml,omitempty"`
	IsRead         bool      `json:"isRead"`
	LabelIDs       []string  `json:"labelIds,omitempty"`
	FolderID       string    `json:"folderId,omitempty"`
	HasAttachments bool      `json:"hasAttachments"`
	ReceivedAt     time.Time `json:"receivedAt"`
}

type FolderKind string

const (
	FolderSystem FolderKind = "system"
	FolderUser   FolderKind = "user"
)

// Folder describes an Outlook mail folder or a Gmail label.
type Folder struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Kind        FolderKind `json:"kind"`
	UnreadCount int64      `json:"unreadCount"`
	TotalCount  int64      `json:"totalCount"`
}

// Attachment describes one attachment. Content is only populated when the
// caller asked for it.
type Attachment struct {
	ID        string `json:"id"`
	MessageID string `json:"messageId"`
	Filename  string `json:"filename"`
	MimeType  string `json:"mimeType"`
	Size      int64  `json:"size"`
	Inline    bool   `json:"inline"`
	Content   []byte `json:"content,omitempty"`
}
