package worker

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"notifygate/internal/models"
)

// ErrMissingRecipient marks a message whose channel prerequisite is
// absent (no email address, no push token). Never retryable: the
// payload is immutable once published.
var ErrMissingRecipient = errors.New("missing channel recipient")

// Renderer shapes a queued message into the channel's outbound
// payload. One implementation per channel, selected when the worker is
// built.
type Renderer interface {
	Render(msg models.QueuedMessage) (Outbound, error)
}

var placeholderPattern = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Substitute replaces {{variable}} placeholders with their values.
// Placeholders with no matching variable are left as literal text.
func Substitute(template string, variables map[string]any) string {
	if template == "" {
		return ""
	}
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		if value, ok := variables[name]; ok {
			return fmt.Sprint(value)
		}
		return match
	})
}

type EmailRenderer struct{}

func (EmailRenderer) Render(msg models.QueuedMessage) (Outbound, error) {
	if msg.UserEmail == "" {
		return Outbound{}, fmt.Errorf("email for %s: %w", msg.UserID, ErrMissingRecipient)
	}
	subject := Substitute(msg.TemplateSubject, msg.Variables)
	if subject == "" {
		subject = "Notification"
	}
	return Outbound{
		Recipient: msg.UserEmail,
		Subject:   subject,
		Body:      Substitute(msg.TemplateContent, msg.Variables),
	}, nil
}

type PushRenderer struct{}

func (PushRenderer) Render(msg models.QueuedMessage) (Outbound, error) {
	if msg.PushToken == "" {
		return Outbound{}, fmt.Errorf("push for %s: %w", msg.UserID, ErrMissingRecipient)
	}

	title, body := splitPushContent(Substitute(msg.TemplateContent, msg.Variables))
	// Explicit title/body variables override whatever the template
	// yields.
	if v, ok := msg.Variables["title"]; ok {
		title = fmt.Sprint(v)
	}
	if v, ok := msg.Variables["body"]; ok {
		body = fmt.Sprint(v)
	}

	data := map[string]string{
		"template_id":    msg.TemplateID,
		"user_id":        msg.UserID,
		"correlation_id": msg.CorrelationID,
	}
	for k, v := range msg.Variables {
		data[k] = fmt.Sprint(v)
	}

	return Outbound{
		Recipient: msg.PushToken,
		Subject:   title,
		Body:      body,
		Data:      data,
	}, nil
}

var (
	titlePattern = regexp.MustCompile(`(?i)title:\s*(.+)`)
	bodyPattern  = regexp.MustCompile(`(?is)body:\s*(.+)`)
)

// splitPushContent derives a title and body from rendered template
// content. "Title:"/"Body:" prefixed lines win; otherwise the first
// line becomes the title.
func splitPushContent(content string) (title, body string) {
	title = "Notification"
	body = content

	if titleMatch := titlePattern.FindStringSubmatch(content); titleMatch != nil {
		title = strings.TrimSpace(firstLine(titleMatch[1]))
		if bodyMatch := bodyPattern.FindStringSubmatch(content); bodyMatch != nil {
			body = strings.TrimSpace(bodyMatch[1])
		}
		return title, body
	}

	lines := strings.Split(content, "\n")
	if len(lines) > 1 {
		if head := strings.TrimSpace(lines[0]); head != "" {
			title = head
		}
		if rest := strings.TrimSpace(strings.Join(lines[1:], "\n")); rest != "" {
			body = rest
		}
	}
	return title, body
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
