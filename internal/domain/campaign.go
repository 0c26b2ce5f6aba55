package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a campaign.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusReady    Status = "ready"
	StatusAudience Status = "audience"
	StatusSent     Status = "sent"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusReady, StatusAudience, StatusSent:
		return true
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool { return s == StatusSent }

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Campaign is the core entity tracked through draft, ready, audience and
// sent. Subject and body are set together by the content-owner; recipient
// count is derived from the token registry.
type Campaign struct {
	ID             string
	Name           string
	Status         Status
	Subject        *string
	Body           *string
	RecipientCount int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasContent reports whether both subject and body are set and non-empty.
func (c *Campaign) HasContent() bool {
	if c == nil || c.Subject == nil || c.Body == nil {
		return false
	}
	return strings.TrimSpace(*c.Subject) != "" && strings.TrimSpace(*c.Body) != ""
}

func (c *Campaign) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if !c.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, c.Status)
	}
	if (c.Subject == nil) != (c.Body == nil) {
		return fmt.Errorf("%w: subject and body must be set together", ErrValidation)
	}
	if c.RecipientCount < 0 {
		return fmt.Errorf("%w: recipient count cannot be negative", ErrValidation)
	}
	return nil
}

// CanSetContent guards the content-set transition. Sent campaigns are
// immutable.
func (c *Campaign) CanSetContent() error {
	if c.Status.IsTerminal() {
		return ErrAlreadySent
	}
	return nil
}

// CanReplaceAudience guards the audience-upload transition.
func (c *Campaign) CanReplaceAudience() error {
	if c.Status.IsTerminal() {
		return ErrAlreadySent
	}
	return nil
}

// CanSend guards the send transition: not already sent, content present,
// at least one recipient registered.
func (c *Campaign) CanSend() error {
	if c.Status.IsTerminal() {
		return ErrAlreadySent
	}
	if !c.HasContent() {
		return ErrNotReady
	}
	if c.RecipientCount == 0 {
		return ErrNoRecipients
	}
	return nil
}

// StatusAfterContentSet derives the status once subject/body are stored.
func (c *Campaign) StatusAfterContentSet() Status {
	if c.RecipientCount > 0 {
		return StatusAudience
	}
	return StatusReady
}

// StatusAfterAudienceReplace derives the status once the recipient set has
// been replaced. A fully-filtered upload (count zero) with content present
// falls back to ready.
func StatusAfterAudienceReplace(hasContent bool, count int) Status {
	switch {
	case hasContent && count > 0:
		return StatusAudience
	case hasContent:
		return StatusReady
	default:
		return StatusDraft
	}
}
