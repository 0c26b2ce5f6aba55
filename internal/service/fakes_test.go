package service

import (
	"context"
	"errors"
	"sync"

	"github.com/blindrelay/blindrelay/internal/domain"
	"github.com/blindrelay/blindrelay/internal/provider"
)

var errUniqueViolation = errors.New(`duplicate key value violates unique constraint "campaign_tokens_pkey"`)

type fakeCampaignRepo struct {
	CreateFunc       func(ctx context.Context, c *domain.Campaign) error
	GetByIDFunc      func(ctx context.Context, id string) (*domain.Campaign, error)
	ListFunc         func(ctx context.Context) ([]domain.Campaign, error)
	SetContentFunc   func(ctx context.Context, id string, subject, body string, status domain.Status) error
	SetAudienceFunc  func(ctx context.Context, id string, recipientCount int, status domain.Status) error
	UpdateStatusFunc func(ctx context.Context, id string, status domain.Status) error
}

func (f *fakeCampaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	return f.CreateFunc(ctx, c)
}

func (f *fakeCampaignRepo) GetByID(ctx context.Context, id string) (*domain.Campaign, error) {
	return f.GetByIDFunc(ctx, id)
}

func (f *fakeCampaignRepo) List(ctx context.Context) ([]domain.Campaign, error) {
	return f.ListFunc(ctx)
}

func (f *fakeCampaignRepo) SetContent(ctx context.Context, id string, subject, body string, status domain.Status) error {
	return f.SetContentFunc(ctx, id, subject, body, status)
}

func (f *fakeCampaignRepo) SetAudience(ctx context.Context, id string, recipientCount int, status domain.Status) error {
	return f.SetAudienceFunc(ctx, id, recipientCount, status)
}

func (f *fakeCampaignRepo) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	return f.UpdateStatusFunc(ctx, id, status)
}

type fakeTokenRepo struct {
	InsertFunc            func(ctx context.Context, t *domain.RecipientToken) error
	DeleteForCampaignFunc func(ctx context.Context, campaignID string) error
	ListForCampaignFunc   func(ctx context.Context, campaignID string) ([]domain.RecipientToken, error)
	GetByTokenFunc        func(ctx context.Context, token string) (*domain.RecipientToken, error)
}

func (f *fakeTokenRepo) Insert(ctx context.Context, t *domain.RecipientToken) error {
	return f.InsertFunc(ctx, t)
}

func (f *fakeTokenRepo) DeleteForCampaign(ctx context.Context, campaignID string) error {
	return f.DeleteForCampaignFunc(ctx, campaignID)
}

func (f *fakeTokenRepo) ListForCampaign(ctx context.Context, campaignID string) ([]domain.RecipientToken, error) {
	return f.ListForCampaignFunc(ctx, campaignID)
}

func (f *fakeTokenRepo) GetByToken(ctx context.Context, token string) (*domain.RecipientToken, error) {
	return f.GetByTokenFunc(ctx, token)
}

type fakeReplyRepo struct {
	CreateIfAbsentFunc func(ctx context.Context, reply *domain.Reply) (bool, error)
	ListFunc           func(ctx context.Context, limit int) ([]domain.Reply, error)
}

func (f *fakeReplyRepo) CreateIfAbsent(ctx context.Context, reply *domain.Reply) (bool, error) {
	return f.CreateIfAbsentFunc(ctx, reply)
}

func (f *fakeReplyRepo) List(ctx context.Context, limit int) ([]domain.Reply, error) {
	return f.ListFunc(ctx, limit)
}

type fakeSender struct {
	mu       sync.Mutex
	messages []provider.Message
	SendFunc func(ctx context.Context, msg provider.Message) (*provider.SendResult, error)
}

func (f *fakeSender) Send(ctx context.Context, msg provider.Message) (*provider.SendResult, error) {
	f.mu.Lock()
	f.messages = append(f.messages, msg)
	f.mu.Unlock()

	if f.SendFunc != nil {
		return f.SendFunc(ctx, msg)
	}
	return &provider.SendResult{StatusCode: 200}, nil
}

func (f *fakeSender) sent() []provider.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]provider.Message, len(f.messages))
	copy(out, f.messages)
	return out
}

type fakeLimiter struct {
	AllowFunc func(ctx context.Context, domain string) (bool, error)
	WaitFunc  func(ctx context.Context, domain string) error
}

func (f *fakeLimiter) Allow(ctx context.Context, domain string) (bool, error) {
	if f.AllowFunc != nil {
		return f.AllowFunc(ctx, domain)
	}
	return true, nil
}

func (f *fakeLimiter) Wait(ctx context.Context, domain string) error {
	if f.WaitFunc != nil {
		return f.WaitFunc(ctx, domain)
	}
	return nil
}

// memoryTokenRepo backs audience-replacement tests with a real uniqueness
// constraint on the token column.
type memoryTokenRepo struct {
	mu      sync.Mutex
	rows    []domain.RecipientToken
	byToken map[string]int
	deletes int
}

func newMemoryTokenRepo() *memoryTokenRepo {
	return &memoryTokenRepo{byToken: make(map[string]int)}
}

func (m *memoryTokenRepo) Insert(_ context.Context, t *domain.RecipientToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byToken[t.Token]; exists {
		return errUniqueViolation
	}
	m.byToken[t.Token] = len(m.rows)
	m.rows = append(m.rows, *t)
	return nil
}

func (m *memoryTokenRepo) DeleteForCampaign(_ context.Context, campaignID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deletes++
	kept := m.rows[:0]
	for _, row := range m.rows {
		if row.CampaignID != campaignID {
			kept = append(kept, row)
		}
	}
	m.rows = kept
	m.byToken = make(map[string]int, len(m.rows))
	for i, row := range m.rows {
		m.byToken[row.Token] = i
	}
	return nil
}

func (m *memoryTokenRepo) ListForCampaign(_ context.Context, campaignID string) ([]domain.RecipientToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.RecipientToken
	for _, row := range m.rows {
		if row.CampaignID == campaignID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (m *memoryTokenRepo) GetByToken(_ context.Context, token string) (*domain.RecipientToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.byToken[token]
	if !ok {
		return nil, domain.ErrNotFound
	}
	row := m.rows[idx]
	return &row, nil
}
