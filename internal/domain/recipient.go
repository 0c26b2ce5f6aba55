package domain

import "time"

// RecipientToken correlates one issued token with its campaign and the
// recipient mailbox address. The address is write-once and only ever
// readable through the data-owner surface.
type RecipientToken struct {
	Token      string
	CampaignID string
	Email      string
	CreatedAt  time.Time
}
