package scripts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"scriptgenius-backend/migrations"
	"scriptgenius-backend/plans"
	"scriptgenius-backend/quota"

	"github.com/gin-gonic/gin"
)

type memStore struct {
	mu      sync.Mutex
	scripts map[string]*Script
}

func newMemStore() *memStore { return &memStore{scripts: map[string]*Script{}} }

func (m *memStore) Create(ctx context.Context, s *Script) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.scripts[s.ID] = &cp
	return nil
}

func (m *memStore) GetByID(ctx context.Context, id string) (*Script, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scripts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) ListByUser(ctx context.Context, userID int) ([]Script, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Script{}
	for _, s := range m.scripts {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memStore) UpdateText(ctx context.Context, id, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scripts[id]
	if !ok {
		return ErrNotFound
	}
	s.GeneratedText = text
	return nil
}

func (m *memStore) ReplaceGenerated(ctx context.Context, id, text string) error {
	return m.UpdateText(ctx, id, text)
}

func (m *memStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.scripts, id)
	return nil
}

type mockAI struct {
	text string
	err  error
}

func (m *mockAI) GenerateScript(ctx context.Context, topic string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.text, nil
}

func (m *mockAI) StreamScript(ctx context.Context, topic string) (<-chan string, error) {
	if m.err != nil {
		return nil, m.err
	}
	ch := make(chan string, 2)
	ch <- m.text
	close(ch)
	return ch, nil
}

type mockQuota struct {
	mu        sync.Mutex
	exhausted bool
	remaining int
	consumed  int
	released  int
	limitType plans.LimitType
}

func (m *mockQuota) limit() quota.Limit {
	lt := m.limitType
	if lt == "" {
		lt = plans.LimitTotal
	}
	return quota.Limit{
		CanGenerate: !m.exhausted,
		Remaining:   m.remaining,
		Total:       5,
		LimitType:   lt,
		PlanName:    "Free",
	}
}

func (m *mockQuota) CheckLimit(ctx context.Context, userID int) quota.Limit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limit()
}

func (m *mockQuota) Consume(ctx context.Context, userID int) (quota.Limit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exhausted {
		return m.limit(), quota.ErrQuotaExhausted
	}
	m.consumed++
	if m.remaining > 0 {
		m.remaining--
	}
	return m.limit(), nil
}

func (m *mockQuota) Release(ctx context.Context, userID int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released++
	m.remaining++
}

type mockLimiter struct {
	deny      bool
	remaining int
}

func (m *mockLimiter) Allow(ctx context.Context, ip string) bool { return !m.deny }

func (m *mockLimiter) Remaining(ctx context.Context, ip string) int { return m.remaining }

func asUser(u *migrations.User) func() {
	prev := currentUser
	currentUser = func(c *gin.Context) *migrations.User { return u }
	return func() { currentUser = prev }
}

func setupRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.RegisterRoutes(r)
	return r
}

func postJSON(r *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGenerate_ok(t *testing.T) {
	defer asUser(&migrations.User{ID: 1, Role: "user"})()
	store := newMemStore()
	q := &mockQuota{remaining: 5}
	h := NewHandler(store, &mockAI{text: "Generated script body"}, q, &mockLimiter{remaining: 9})
	r := setupRouter(h)

	w := postJSON(r, "/generate-script", map[string]any{"input": "space travel", "category": "science", "tags": []string{"space"}})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Script   string `json:"script"`
		ScriptID string `json:"script_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.Script != "Generated script body" {
		t.Fatalf("unexpected script: %q", resp.Script)
	}
	if resp.ScriptID == "" {
		t.Fatalf("missing script_id")
	}
	if w.Header().Get("X-Scripts-Remaining") != "4" {
		t.Fatalf("expected 4 remaining, got %q", w.Header().Get("X-Scripts-Remaining"))
	}
	if w.Header().Get("X-RateLimit-Remaining") != "9" {
		t.Fatalf("expected 9 rate slots, got %q", w.Header().Get("X-RateLimit-Remaining"))
	}
	saved, err := store.GetByID(context.Background(), resp.ScriptID)
	if err != nil {
		t.Fatalf("script not persisted: %v", err)
	}
	if saved.UserID != 1 || saved.PromptText != "space travel" || saved.Tags != "space" {
		t.Fatalf("persisted record wrong: %+v", saved)
	}
}

func TestGenerate_rateLimited(t *testing.T) {
	defer asUser(&migrations.User{ID: 1})()
	h := NewHandler(newMemStore(), &mockAI{text: "x"}, &mockQuota{remaining: 5}, &mockLimiter{deny: true})
	r := setupRouter(h)

	w := postJSON(r, "/generate-script", map[string]any{"input": "anything"})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("denied request should report zero slots, got %q", w.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestGenerate_emptyInput(t *testing.T) {
	defer asUser(&migrations.User{ID: 1})()
	h := NewHandler(newMemStore(), &mockAI{text: "x"}, &mockQuota{remaining: 5}, &mockLimiter{})
	r := setupRouter(h)

	w := postJSON(r, "/generate-script", map[string]any{"input": "   "})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGenerate_unauthenticated(t *testing.T) {
	defer asUser(nil)()
	h := NewHandler(newMemStore(), &mockAI{text: "x"}, &mockQuota{remaining: 5}, &mockLimiter{})
	r := setupRouter(h)

	w := postJSON(r, "/generate-script", map[string]any{"input": "topic"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestGenerate_limitReached(t *testing.T) {
	defer asUser(&migrations.User{ID: 1})()
	q := &mockQuota{exhausted: true, limitType: plans.LimitDaily}
	h := NewHandler(newMemStore(), &mockAI{text: "x"}, q, &mockLimiter{})
	r := setupRouter(h)

	w := postJSON(r, "/generate-script", map[string]any{"input": "topic"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "Daily script limit reached") {
		t.Fatalf("expected daily limit message, got %s", w.Body.String())
	}
	var resp struct {
		Limits quota.Limit `json:"limits"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.Limits.CanGenerate {
		t.Fatalf("limits should report exhausted")
	}
}

func TestGenerate_failureReleasesReservation(t *testing.T) {
	defer asUser(&migrations.User{ID: 1})()
	q := &mockQuota{remaining: 3}
	h := NewHandler(newMemStore(), &mockAI{err: errors.New("upstream down")}, q, &mockLimiter{})
	r := setupRouter(h)

	w := postJSON(r, "/generate-script", map[string]any{"input": "topic"})
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if q.consumed != 1 || q.released != 1 {
		t.Fatalf("expected consume+release, got consumed=%d released=%d", q.consumed, q.released)
	}
	if q.remaining != 3 {
		t.Fatalf("remaining should be restored, got %d", q.remaining)
	}
}

func TestGet_ownership(t *testing.T) {
	store := newMemStore()
	store.Create(context.Background(), &Script{ID: "s1", UserID: 2, PromptText: "p", GeneratedText: "g"})
	h := NewHandler(store, &mockAI{text: "x"}, &mockQuota{remaining: 5}, &mockLimiter{})
	r := setupRouter(h)

	restore := asUser(&migrations.User{ID: 1, Role: "user"})
	req := httptest.NewRequest(http.MethodGet, "/scripts/s1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	restore()
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign script, got %d", w.Code)
	}

	restore = asUser(&migrations.User{ID: 9, Role: "admin"})
	req = httptest.NewRequest(http.MethodGet, "/scripts/s1", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	restore()
	if w.Code != http.StatusOK {
		t.Fatalf("admin should read any script, got %d", w.Code)
	}
}

func TestGet_notFound(t *testing.T) {
	defer asUser(&migrations.User{ID: 1})()
	h := NewHandler(newMemStore(), &mockAI{text: "x"}, &mockQuota{remaining: 5}, &mockLimiter{})
	r := setupRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/scripts/missing", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestRegenerate_consumesQuota(t *testing.T) {
	defer asUser(&migrations.User{ID: 1, Role: "user"})()
	store := newMemStore()
	store.Create(context.Background(), &Script{ID: "s1", UserID: 1, PromptText: "topic", GeneratedText: "old"})
	q := &mockQuota{remaining: 2}
	h := NewHandler(store, &mockAI{text: "new text"}, q, &mockLimiter{})
	r := setupRouter(h)

	w := postJSON(r, "/scripts/s1/regenerate", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if q.consumed != 1 {
		t.Fatalf("expected one consume, got %d", q.consumed)
	}
	s, _ := store.GetByID(context.Background(), "s1")
	if s.GeneratedText != "new text" {
		t.Fatalf("text not replaced: %q", s.GeneratedText)
	}
}

func TestDelete_ok(t *testing.T) {
	defer asUser(&migrations.User{ID: 1, Role: "user"})()
	store := newMemStore()
	store.Create(context.Background(), &Script{ID: "s1", UserID: 1})
	h := NewHandler(store, &mockAI{text: "x"}, &mockQuota{remaining: 5}, &mockLimiter{})
	r := setupRouter(h)

	req := httptest.NewRequest(http.MethodDelete, "/scripts/s1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if _, err := store.GetByID(context.Background(), "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("script should be gone, err=%v", err)
	}
}

func TestLimitMessage_total(t *testing.T) {
	msg := limitMessage(quota.Limit{Total: 5, PlanName: "Free", LimitType: plans.LimitTotal})
	if !strings.Contains(msg, "all 5 scripts") || !strings.Contains(msg, "Free") {
		t.Fatalf("unexpected message: %q", msg)
	}
}
