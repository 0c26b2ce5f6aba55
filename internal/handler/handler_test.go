package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/blindrelay/blindrelay/internal/auth"
	"github.com/blindrelay/blindrelay/internal/domain"
	"github.com/blindrelay/blindrelay/internal/provider"
	"github.com/blindrelay/blindrelay/internal/service"
	"github.com/blindrelay/blindrelay/internal/transport"
)

const (
	testDataKey    = "m-secret"
	testContentKey = "c-secret"
)

type memCampaignRepo struct {
	mu   sync.Mutex
	rows map[string]*domain.Campaign
	seq  []string
}

func newMemCampaignRepo() *memCampaignRepo {
	return &memCampaignRepo{rows: map[string]*domain.Campaign{}}
}

func (m *memCampaignRepo) Create(_ context.Context, c *domain.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.rows[c.ID] = &cp
	m.seq = append(m.seq, c.ID)
	return nil
}

func (m *memCampaignRepo) GetByID(_ context.Context, id string) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (m *memCampaignRepo) List(_ context.Context) ([]domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Campaign, 0, len(m.seq))
	for i := len(m.seq) - 1; i >= 0; i-- {
		out = append(out, *m.rows[m.seq[i]])
	}
	return out, nil
}

func (m *memCampaignRepo) SetContent(_ context.Context, id string, subject, body string, status domain.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	row.Subject = &subject
	row.Body = &body
	row.Status = status
	return nil
}

func (m *memCampaignRepo) SetAudience(_ context.Context, id string, recipientCount int, status domain.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	row.RecipientCount = recipientCount
	row.Status = status
	return nil
}

func (m *memCampaignRepo) UpdateStatus(_ context.Context, id string, status domain.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	row.Status = status
	return nil
}

type memTokenRepo struct {
	mu   sync.Mutex
	rows []domain.RecipientToken
}

func (m *memTokenRepo) Insert(_ context.Context, t *domain.RecipientToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.Token == t.Token {
			return errors.New("duplicate key value violates unique constraint")
		}
	}
	m.rows = append(m.rows, *t)
	return nil
}

func (m *memTokenRepo) DeleteForCampaign(_ context.Context, campaignID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.rows[:0]
	for _, row := range m.rows {
		if row.CampaignID != campaignID {
			kept = append(kept, row)
		}
	}
	m.rows = kept
	return nil
}

func (m *memTokenRepo) ListForCampaign(_ context.Context, campaignID string) ([]domain.RecipientToken, error) {
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

func (m *memTokenRepo) GetByToken(_ context.Context, token string) (*domain.RecipientToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.Token == token {
			cp := row
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

type memReplyRepo struct {
	mu   sync.Mutex
	rows []domain.Reply
}

func (m *memReplyRepo) CreateIfAbsent(_ context.Context, reply *domain.Reply) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.MessageID == reply.MessageID {
			return false, nil
		}
	}
	// Deep-copy strings: a real repository serializes these bytes, but
	// inputs lifted from fiber form values alias a reused request buffer.
	row := *reply
	row.ID = strings.Clone(reply.ID)
	row.MessageID = strings.Clone(reply.MessageID)
	row.Body = strings.Clone(reply.Body)
	if reply.Token != nil {
		token := strings.Clone(*reply.Token)
		row.Token = &token
	}
	if reply.Subject != nil {
		subject := strings.Clone(*reply.Subject)
		row.Subject = &subject
	}
	if reply.CampaignID != nil {
		campaignID := strings.Clone(*reply.CampaignID)
		row.CampaignID = &campaignID
	}
	m.rows = append(m.rows, row)
	return true, nil
}

func (m *memReplyRepo) List(_ context.Context, limit int) ([]domain.Reply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Reply, 0, len(m.rows))
	for i := len(m.rows) - 1; i >= 0; i-- {
		out = append(out, m.rows[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

type recordingSender struct {
	mu       sync.Mutex
	messages []provider.Message
	fail     func(msg provider.Message) error
}

func (s *recordingSender) Send(_ context.Context, msg provider.Message) (*provider.SendResult, error) {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	if s.fail != nil {
		if err := s.fail(msg); err != nil {
			return nil, err
		}
	}
	return &provider.SendResult{StatusCode: 200}, nil
}

type testEnv struct {
	app    *fiber.App
	sender *recordingSender
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	campaigns := newMemCampaignRepo()
	tokens := &memTokenRepo{}
	replies := &memReplyRepo{}
	sender := &recordingSender{}

	locks := service.NewCampaignLocks()
	campaignSvc := service.NewCampaignService(campaigns, tokens, locks, nil)
	dispatchSvc, err := service.NewDispatchService(
		campaigns, tokens, sender, nil, locks, nil, nil, 2, "relay.example.com", "mg.example.com",
	)
	if err != nil {
		t.Fatalf("NewDispatchService() error = %v", err)
	}
	replySvc := service.NewReplyService(replies, tokens, nil, nil)

	authn, err := auth.NewAuthenticator(testDataKey, testContentKey)
	if err != nil {
		t.Fatalf("NewAuthenticator() error = %v", err)
	}

	app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(nil)})
	NewHealthHandler(nil, nil, nil).RegisterRoutes(app)
	NewWebhookHandler(replySvc, nil).RegisterRoutes(app)
	NewCampaignHandler(campaignSvc, dispatchSvc, replySvc, nil).RegisterRoutes(app, authn)

	return &testEnv{app: app, sender: sender}
}

func (e *testEnv) doJSON(t *testing.T, method, path string, headers map[string]string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}

	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}

	var decoded map[string]any
	if len(raw) > 0 && strings.Contains(resp.Header.Get("Content-Type"), "json") {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("decode response %q: %v", raw, err)
		}
	}
	return resp, decoded
}

func (e *testEnv) getList(t *testing.T, path string, headers map[string]string) []any {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s status = %d, want 200", path, resp.StatusCode)
	}

	var decoded []any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode %s response as array: %v", path, err)
	}
	return decoded
}

func (e *testEnv) postWebhook(t *testing.T, form url.Values) *http.Response {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/mailgun", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	resp.Body.Close()
	return resp
}

func dataHeaders() map[string]string {
	return map[string]string{auth.HeaderDataKey: testDataKey}
}

func contentHeaders() map[string]string {
	return map[string]string{auth.HeaderContentKey: testContentKey}
}

func TestRootIsPublic(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	resp, _ := env.doJSON(t, http.MethodGet, "/", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET / status = %d, want 200", resp.StatusCode)
	}
}

func TestAuthRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		method  string
		path    string
		headers map[string]string
	}{
		{name: "no key", method: http.MethodGet, path: "/campaigns"},
		{
			name:    "wrong key value",
			method:  http.MethodGet,
			path:    "/campaigns",
			headers: map[string]string{auth.HeaderDataKey: "nope"},
		},
		{
			name:    "data key on content endpoint",
			method:  http.MethodPost,
			path:    "/campaigns",
			headers: dataHeaders(),
		},
		{
			name:    "content key on data endpoint",
			method:  http.MethodGet,
			path:    "/campaigns/some-id/token-map",
			headers: contentHeaders(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := newTestEnv(t)
			resp, body := env.doJSON(t, tt.method, tt.path, tt.headers, nil)
			if resp.StatusCode != http.StatusForbidden {
				t.Errorf("status = %d, want 403", resp.StatusCode)
			}
			if body["code"] != "forbidden" {
				t.Errorf("code = %v, want forbidden", body["code"])
			}
		})
	}
}

func TestCampaignLifecycle(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	// Create.
	resp, created := env.doJSON(t, http.MethodPost, "/campaigns", contentHeaders(), fiber.Map{"name": "Q1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	if created["status"] != "draft" {
		t.Fatalf("created status = %v, want draft", created["status"])
	}
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatal("created campaign has no id")
	}

	// Set content before any audience: ready.
	resp, content := env.doJSON(t, http.MethodPost, "/campaigns/"+id+"/content", contentHeaders(),
		fiber.Map{"subject": "Hi", "body": "Hello there"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("content status = %d", resp.StatusCode)
	}
	if content["campaign_status"] != "ready" {
		t.Errorf("campaign_status = %v, want ready", content["campaign_status"])
	}

	// Upload 3 valid + 1 invalid: count 3, status audience.
	resp, upload := env.doJSON(t, http.MethodPost, "/campaigns/"+id+"/upload-emails", dataHeaders(),
		fiber.Map{"emails": []string{"a@x.io", "b@x.io", "c@x.io", "bad"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}
	if upload["count"] != float64(3) {
		t.Errorf("count = %v, want 3", upload["count"])
	}
	if upload["status"] != "audience" {
		t.Errorf("status = %v, want audience", upload["status"])
	}

	// Token map shows the three accepted addresses.
	resp, tm := env.doJSON(t, http.MethodGet, "/campaigns/"+id+"/token-map", dataHeaders(), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("token-map status = %d", resp.StatusCode)
	}
	entries, _ := tm["map"].([]any)
	if len(entries) != 3 {
		t.Fatalf("token map entries = %d, want 3", len(entries))
	}

	// Send: all three delivered, campaign sent.
	resp, send := env.doJSON(t, http.MethodPost, "/campaigns/"+id+"/send", contentHeaders(), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("send status = %d", resp.StatusCode)
	}
	if send["sent"] != float64(3) || send["failed"] != float64(0) {
		t.Errorf("send result = %v, want 3 sent / 0 failed", send)
	}
	if send["status"] != "sent" {
		t.Errorf("status = %v, want sent", send["status"])
	}

	env.sender.mu.Lock()
	for _, msg := range env.sender.messages {
		if !strings.HasPrefix(msg.ReplyTo, "reply+") || !strings.HasSuffix(msg.ReplyTo, "@relay.example.com") {
			t.Errorf("reply-to = %q", msg.ReplyTo)
		}
	}
	env.sender.mu.Unlock()

	// Second send is a conflict.
	resp, second := env.doJSON(t, http.MethodPost, "/campaigns/"+id+"/send", contentHeaders(), nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("second send status = %d, want 400", resp.StatusCode)
	}
	if second["code"] != "already_sent" {
		t.Errorf("code = %v, want already_sent", second["code"])
	}

	// Sent campaign rejects content and audience changes too.
	resp, _ = env.doJSON(t, http.MethodPost, "/campaigns/"+id+"/content", contentHeaders(),
		fiber.Map{"subject": "x", "body": "y"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("content on sent campaign status = %d, want 400", resp.StatusCode)
	}
	resp, _ = env.doJSON(t, http.MethodPost, "/campaigns/"+id+"/upload-emails", dataHeaders(),
		fiber.Map{"emails": []string{"z@x.io"}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("upload on sent campaign status = %d, want 400", resp.StatusCode)
	}
}

func TestListEndpointsReturnBareArrays(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.doJSON(t, http.MethodPost, "/campaigns", contentHeaders(), fiber.Map{"name": "Q1"})
	env.doJSON(t, http.MethodPost, "/campaigns", contentHeaders(), fiber.Map{"name": "Q2"})

	campaigns := env.getList(t, "/campaigns", dataHeaders())
	if len(campaigns) != 2 {
		t.Fatalf("campaigns = %d, want 2", len(campaigns))
	}
	if campaigns[0].(map[string]any)["name"] != "Q2" {
		t.Errorf("first campaign = %v, want newest first", campaigns[0])
	}

	if replies := env.getList(t, "/replies", contentHeaders()); len(replies) != 0 {
		t.Errorf("replies = %v, want empty array", replies)
	}
}

func TestCreateCampaignMissingName(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	resp, body := env.doJSON(t, http.MethodPost, "/campaigns", contentHeaders(), fiber.Map{"name": "  "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if body["code"] != "invalid_input" {
		t.Errorf("code = %v, want invalid_input", body["code"])
	}
}

func TestSendUnknownCampaign(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	resp, body := env.doJSON(t, http.MethodPost, "/campaigns/unknown/send", contentHeaders(), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	if body["code"] != "not_found" {
		t.Errorf("code = %v, want not_found", body["code"])
	}
}

func TestSendWithoutContent(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, created := env.doJSON(t, http.MethodPost, "/campaigns", contentHeaders(), fiber.Map{"name": "Q1"})
	id := created["id"].(string)

	resp, body := env.doJSON(t, http.MethodPost, "/campaigns/"+id+"/send", contentHeaders(), nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if body["code"] != "not_ready" {
		t.Errorf("code = %v, want not_ready", body["code"])
	}
}

func TestUploadOversizedAudience(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, created := env.doJSON(t, http.MethodPost, "/campaigns", contentHeaders(), fiber.Map{"name": "Q1"})
	id := created["id"].(string)

	if _, upload := env.doJSON(t, http.MethodPost, "/campaigns/"+id+"/upload-emails", dataHeaders(),
		fiber.Map{"emails": []string{"keep@x.io"}}); upload["count"] != float64(1) {
		t.Fatalf("seed upload = %v", upload)
	}

	emails := make([]string, 1001)
	for i := range emails {
		emails[i] = fmt.Sprintf("user%d@example.com", i)
	}
	resp, _ := env.doJSON(t, http.MethodPost, "/campaigns/"+id+"/upload-emails", dataHeaders(),
		fiber.Map{"emails": emails})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	// Prior registry untouched.
	_, tm := env.doJSON(t, http.MethodGet, "/campaigns/"+id+"/token-map", dataHeaders(), nil)
	entries, _ := tm["map"].([]any)
	if len(entries) != 1 {
		t.Errorf("token map entries = %d, want the original upload intact", len(entries))
	}
}

func TestSendCountsPartialFailures(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.sender.fail = func(msg provider.Message) error {
		if msg.To == "b@x.io" {
			return &provider.ProviderError{StatusCode: 400, Message: "rejected"}
		}
		return nil
	}

	_, created := env.doJSON(t, http.MethodPost, "/campaigns", contentHeaders(), fiber.Map{"name": "Q1"})
	id := created["id"].(string)
	env.doJSON(t, http.MethodPost, "/campaigns/"+id+"/content", contentHeaders(),
		fiber.Map{"subject": "Hi", "body": "Hello"})
	env.doJSON(t, http.MethodPost, "/campaigns/"+id+"/upload-emails", dataHeaders(),
		fiber.Map{"emails": []string{"a@x.io", "b@x.io", "c@x.io"}})

	resp, send := env.doJSON(t, http.MethodPost, "/campaigns/"+id+"/send", contentHeaders(), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("send status = %d", resp.StatusCode)
	}
	if send["sent"] != float64(2) || send["failed"] != float64(1) {
		t.Errorf("send result = %v, want 2 sent / 1 failed", send)
	}
	if send["status"] != "sent" {
		t.Errorf("status = %v, want sent despite failure", send["status"])
	}
}

func TestWebhookAlwaysAcknowledges(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	forms := []url.Values{
		{}, // empty form
		{"recipient": {"not-a-reply@x.io"}, "Message-Id": {"<m@x>"}, "body-plain": {"hi"}},
		{"recipient": {"reply+deadbeefdeadbeef@relay.example.com"}, "body-plain": {"hi"}},
		{"recipient": {"reply+deadbeefdeadbeef@relay.example.com"}, "Message-Id": {"<m@x>"}, "body-plain": {"hi"}},
	}
	for i, form := range forms {
		if resp := env.postWebhook(t, form); resp.StatusCode != http.StatusOK {
			t.Errorf("form %d: status = %d, want 200", i, resp.StatusCode)
		}
	}
}

func TestWebhookUnknownTokenStoredUnattributed(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	resp := env.postWebhook(t, url.Values{
		"recipient":  {"reply+abcd1234abcd1234@mg.x.com"},
		"Message-Id": {"<scenario-c@mail.x.com>"},
		"body-plain": {"Reply text\nOn Mon, wrote:\nquoted"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("webhook status = %d", resp.StatusCode)
	}

	replies := env.getList(t, "/replies", dataHeaders())
	if len(replies) != 1 {
		t.Fatalf("replies = %d, want 1", len(replies))
	}
	reply := replies[0].(map[string]any)
	if reply["campaign_id"] != nil {
		t.Errorf("campaign_id = %v, want null for unknown token", reply["campaign_id"])
	}
	if reply["body"] != "Reply text" {
		t.Errorf("body = %v, want sanitized top reply", reply["body"])
	}
}

func TestWebhookDeduplicatesByMessageID(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	form := url.Values{
		"recipient":  {"reply+abcd1234abcd1234@mg.x.com"},
		"Message-Id": {"<dup@mail.x.com>"},
		"body-plain": {"first"},
	}
	env.postWebhook(t, form)
	form.Set("body-plain", "second, different")
	env.postWebhook(t, form)

	replies := env.getList(t, "/replies", contentHeaders())
	if len(replies) != 1 {
		t.Fatalf("replies = %d, want exactly 1 after duplicate delivery", len(replies))
	}
	if replies[0].(map[string]any)["body"] != "first" {
		t.Errorf("body = %v, want the first delivery retained", replies[0])
	}
}

func TestReplyCorrelatedToCampaign(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	_, created := env.doJSON(t, http.MethodPost, "/campaigns", contentHeaders(), fiber.Map{"name": "Q1"})
	id := created["id"].(string)
	env.doJSON(t, http.MethodPost, "/campaigns/"+id+"/upload-emails", dataHeaders(),
		fiber.Map{"emails": []string{"a@x.io"}})

	_, tm := env.doJSON(t, http.MethodGet, "/campaigns/"+id+"/token-map", dataHeaders(), nil)
	entries, _ := tm["map"].([]any)
	token := entries[0].(map[string]any)["token"].(string)

	env.postWebhook(t, url.Values{
		"recipient":  {"reply+" + token + "@relay.example.com"},
		"Message-Id": {"<corr@mail.x.com>"},
		"body-plain": {"count me in"},
	})

	replies := env.getList(t, "/replies", dataHeaders())
	if len(replies) != 1 {
		t.Fatalf("replies = %d, want 1", len(replies))
	}
	if replies[0].(map[string]any)["campaign_id"] != id {
		t.Errorf("campaign_id = %v, want %s", replies[0].(map[string]any)["campaign_id"], id)
	}
}
