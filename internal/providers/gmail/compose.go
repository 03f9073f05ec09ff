package gmail

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"google.golang.org/api/gmail/v1"

	"github.com/Martian-dev/crm-mail-gateway/internal/email"
)

// outgoing is a plain-text message ready to be composed as RFC 5322.
type outgoing struct {
	threadID   string
	to         []*mail.Address
	cc         []*mail.Address
	subject    string
	inReplyTo  []string
	references []string
	body       string
	date       time.Time
}

func (o *outgoing) compose() ([]byte, error) {
	var h mail.Header
	h.SetDate(o.date)
	h.SetSubject(o.subject)
	h.SetAddressList("To", o.to)
	if len(o.cc) > 0 {
		h.SetAddressList("Cc", o.cc)
	}
	if len(o.inReplyTo) > 0 {
		h.SetMsgIDList("In-Reply-To", o.inReplyTo)
		h.SetMsgIDList("References", o.references)
	}
	if err := h.GenerateMessageID(); err != nil {
		return nil, err
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(w, o.body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// buildReply addresses a reply to Reply-To, or From when absent. Reply-all
// adds the original To and Cc recipients except self and the primary
// recipient.
func buildReply(orig *gmail.Message, content string, replyAll bool, self string, now time.Time) (*outgoing, error) {
	var headers []*gmail.MessagePartHeader
	if orig.Payload != nil {
		headers = orig.Payload.Headers
	}

	to := mailAddresses(header(headers, "Reply-To"))
	if len(to) == 0 {
		to = mailAddresses(header(headers, "From"))
	}
	if len(to) == 0 {
		return nil, email.NewEmailError(email.ProviderGoogle, 422, "original message has no sender to reply to", nil)
	}

	out := &outgoing{
		threadID: orig.ThreadId,
		to:       to,
		subject:  prefixSubject("Re:", header(headers, "Subject")),
		body:     content,
		date:     now,
	}

	if replyAll {
		seen := map[string]bool{strings.ToLower(self): true}
		for _, a := range to {
			seen[strings.ToLower(a.Address)] = true
		}
		for _, a := range append(mailAddresses(header(headers, "To")), mailAddresses(header(headers, "Cc"))...) {
			key := strings.ToLower(a.Address)
			if seen[key] {
				continue
			}
			seen[key] = true
			out.cc = append(out.cc, a)
		}
	}

	if msgID := trimMsgID(header(headers, "Message-ID")); msgID != "" {
		out.inReplyTo = []string{msgID}
		out.references = append(msgIDList(header(headers, "References")), msgID)
	}
	return out, nil
}

func buildForward(orig *gmail.Message, recipients []string, content string, now time.Time) (*outgoing, error) {
	to := make([]*mail.Address, 0, len(recipients))
	for _, r := range recipients {
		list, err := mail.ParseAddressList(r)
		if err != nil {
			return nil, email.Invalid("recipients", "must be a valid email address")
		}
		to = append(to, list...)
	}

	var headers []*gmail.MessagePartHeader
	if orig.Payload != nil {
		headers = orig.Payload.Headers
	}
	text, _ := extractBody(orig.Payload)

	var b strings.Builder
	if content != "" {
		b.WriteString(content)
		b.WriteString("\n\n")
	}
	b.WriteString("---------- Forwarded message ---------\n")
	fmt.Fprintf(&b, "From: %s\n", header(headers, "From"))
	fmt.Fprintf(&b, "Date: %s\n", header(headers, "Date"))
	fmt.Fprintf(&b, "Subject: %s\n", header(headers, "Subject"))
	fmt.Fprintf(&b, "To: %s\n\n", header(headers, "To"))
	b.WriteString(text)

	return &outgoing{
		to:      to,
		subject: prefixSubject("Fwd:", header(headers, "Subject")),
		body:    b.String(),
		date:    now,
	}, nil
}

func prefixSubject(prefix, subject string) string {
	if strings.HasPrefix(strings.ToLower(subject), strings.ToLower(prefix)) {
		return subject
	}
	if subject == "" {
		return prefix
	}
	return prefix + " " + subject
}

func mailAddresses(s string) []*mail.Address {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	list, err := mail.ParseAddressList(s)
	if err != nil {
		return nil
	}
	return list
}

func parseAddresses(s string) []email.Address {
	list := mailAddresses(s)
	if list == nil {
		if s = strings.TrimSpace(s); s != "" {
			return []email.Address{{Email: s}}
		}
		return nil
	}
	out := make([]email.Address, len(list))
	for i, a := range list {
		out[i] = email.Address{Name: a.Name, Email: a.Address}
	}
	return out
}

func trimMsgID(s string) string {
	return strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(s), "<"), ">")
}

func msgIDList(s string) []string {
	var ids []string
	for _, f := range strings.Fields(s) {
		if id := trimMsgID(f); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
