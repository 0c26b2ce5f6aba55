package domain

import "time"

// Reply is an inbound message stored by ingestion. MessageID is the
// provider-assigned id and is unique across replies; CampaignID is nil when
// the token could not be resolved against the registry.
type Reply struct {
	ID         string
	MessageID  string
	Token      *string
	CampaignID *string
	Subject    *string
	Body       string
	ReceivedAt time.Time
}
