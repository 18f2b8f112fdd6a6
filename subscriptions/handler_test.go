package subscriptions

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"scriptgenius-backend/migrations"

	"github.com/gin-gonic/gin"
	stripe "github.com/stripe/stripe-go/v78"
)

func setupRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.RegisterRoutes(r)
	return r
}

func asUser(u *migrations.User) func() {
	prev := currentUser
	currentUser = func(c *gin.Context) *migrations.User { return u }
	return func() { currentUser = prev }
}

// stripeSignature builds a Stripe-Signature header the webhook package
// accepts: t=<unix>,v1=hex(hmac_sha256(secret, "<unix>.<payload>")).
func stripeSignature(secret string, payload []byte, at time.Time) string {
	ts := fmt.Sprintf("%d", at.Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func postWebhook(r *gin.Engine, payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhook_invalidSignatureRejected(t *testing.T) {
	svc := &StripeService{webhookSecret: "whsec_test"}
	r := setupRouter(NewHandler(nil, svc))

	payload := []byte(`{"type":"checkout.session.completed","data":{"object":{"metadata":{"user_id":"1","plan":"starter"}}}}`)
	w := postWebhook(r, payload, "t=1,v1=deadbeef")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "invalid signature") {
		t.Fatalf("expected signature error, got %s", w.Body.String())
	}
}

func TestWebhook_missingSignatureRejected(t *testing.T) {
	svc := &StripeService{webhookSecret: "whsec_test"}
	r := setupRouter(NewHandler(nil, svc))

	payload := []byte(`{"type":"checkout.session.completed","data":{"object":{}}}`)
	w := postWebhook(r, payload, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestWebhook_validSignatureUnknownEventIgnored(t *testing.T) {
	secret := "whsec_test"
	svc := &StripeService{webhookSecret: secret}
	r := setupRouter(NewHandler(nil, svc))

	payload := []byte(fmt.Sprintf(`{"id":"evt_1","object":"event","api_version":%q,"type":"payment_intent.created","data":{"object":{}}}`, stripe.APIVersion))
	w := postWebhook(r, payload, stripeSignature(secret, payload, time.Now()))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "ignored") {
		t.Fatalf("expected ignored, got %s", w.Body.String())
	}
}

func TestWebhook_paymentsNotConfigured(t *testing.T) {
	r := setupRouter(NewHandler(nil, nil))

	w := postWebhook(r, []byte(`{}`), "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestGetPlans(t *testing.T) {
	r := setupRouter(NewHandler(nil, nil))

	req := httptest.NewRequest(http.MethodGet, "/plans", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Data []struct {
			ID    string  `json:"id"`
			Name  string  `json:"name"`
			Price float64 `json:"price"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(resp.Data) != 3 {
		t.Fatalf("expected 3 plans, got %d", len(resp.Data))
	}
}

func TestGetSubscription_unauthenticated(t *testing.T) {
	defer asUser(nil)()
	r := setupRouter(NewHandler(nil, nil))

	req := httptest.NewRequest(http.MethodGet, "/subscription", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestCreateSubscription_planRequired(t *testing.T) {
	defer asUser(&migrations.User{ID: 1})()
	r := setupRouter(NewHandler(nil, nil))

	req := httptest.NewRequest(http.MethodPost, "/create-subscription", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCreateSubscription_paidPlanWithoutGateway(t *testing.T) {
	defer asUser(&migrations.User{ID: 1})()
	r := setupRouter(NewHandler(nil, nil))

	req := httptest.NewRequest(http.MethodPost, "/create-subscription", strings.NewReader(`{"plan":"starter"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestVerifyPayment_sessionRequired(t *testing.T) {
	r := setupRouter(NewHandler(nil, nil))

	req := httptest.NewRequest(http.MethodPost, "/verify-payment", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
