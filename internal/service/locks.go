package service

import "sync"

// CampaignLocks serializes mutating operations per campaign. Audience
// replacement and dispatch both take the campaign's lock, so a replace
// cannot interleave with an in-flight send.
type CampaignLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewCampaignLocks() *CampaignLocks {
	return &CampaignLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for a campaign id and returns its unlock func.
// Locks are never evicted; the per-campaign footprint is one mutex.
func (l *CampaignLocks) Lock(campaignID string) func() {
	l.mu.Lock()
	m, ok := l.locks[campaignID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[campaignID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
