package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// defaultSendTimeout bounds one provider call; a timed-out send is a
// per-recipient failure, never a stuck batch.
const defaultSendTimeout = 15 * time.Second

// MailgunSender delivers email through the Mailgun messages API.
type MailgunSender struct {
	client  *resty.Client
	baseURL string
	domain  string
	from    string
}

func NewMailgunSender(baseURL, domain, apiKey, from string) (*MailgunSender, error) {
	client := resty.New()
	client.SetTimeout(defaultSendTimeout)
	client.SetRetryCount(0)
	client.SetBasicAuth("api", apiKey)

	return NewMailgunSenderWithClient(baseURL, domain, from, client)
}

func NewMailgunSenderWithClient(baseURL, domain, from string, client *resty.Client) (*MailgunSender, error) {
	trimmedBase := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmedBase == "" {
		return nil, fmt.Errorf("mailgun base url is required")
	}
	trimmedDomain := strings.TrimSpace(domain)
	if trimmedDomain == "" {
		return nil, fmt.Errorf("mailgun sending domain is required")
	}
	trimmedFrom := strings.TrimSpace(from)
	if trimmedFrom == "" {
		return nil, fmt.Errorf("from address is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultSendTimeout)
	}
	client.SetRetryCount(0)

	return &MailgunSender{
		client:  client,
		baseURL: trimmedBase,
		domain:  trimmedDomain,
		from:    trimmedFrom,
	}, nil
}

func (s *MailgunSender) Send(ctx context.Context, msg Message) (*SendResult, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("sender is not initialized")
	}
	if strings.TrimSpace(msg.To) == "" {
		return nil, fmt.Errorf("recipient is required")
	}

	form := map[string]string{
		"from":    s.from,
		"to":      msg.To,
		"subject": msg.Subject,
		"text":    msg.Body,
	}
	if msg.ReplyTo != "" {
		form["h:Reply-To"] = msg.ReplyTo
	}

	response, err := s.client.R().
		SetContext(ctx).
		SetFormData(form).
		Post(fmt.Sprintf("%s/%s/messages", s.baseURL, s.domain))
	if err != nil {
		return nil, &ProviderError{
			Message: "mailgun request failed",
			Cause:   err,
		}
	}
	if response == nil {
		return nil, &ProviderError{Message: "mailgun returned empty response"}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &SendResult{
			StatusCode: statusCode,
			MessageID:  mailgunMessageID(response.Body()),
		}, nil
	}

	return nil, &ProviderError{
		StatusCode: statusCode,
		Message:    mailgunErrorMessage(statusCode, responseBody),
	}
}

func mailgunErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("mailgun returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

// mailgunMessageID parses the accepted-message id, trimming the angle
// brackets Mailgun wraps it in.
func mailgunMessageID(body []byte) string {
	var payload struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return strings.Trim(payload.ID, "<>")
}
