package subscriptions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"scriptgenius-backend/migrations"
	"scriptgenius-backend/plans"

	stripe "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

// StripeService creates checkout sessions and mirrors gateway state into the
// subscription store. If STRIPE_SECRET_KEY is not set the service is nil and
// only the Free plan works.
type StripeService struct {
	repo          *Repository
	secretKey     string
	webhookSecret string
	successURL    string
	cancelURL     string
	sc            *client.API

	mu         sync.Mutex
	productIDs map[plans.PlanID]string
	priceIDs   map[plans.PlanID]string
	invalidKey bool // once detected, short-circuit further remote calls
}

var (
	ErrStripeInvalidAPIKey = errors.New("stripe_invalid_api_key")
	ErrInvalidSignature    = errors.New("invalid webhook signature")
)

func maskKey(k string) string {
	if len(k) < 12 {
		return "****"
	}
	return k[:7] + "..." + k[len(k)-4:]
}

// NewStripeFromEnv returns a configured service or nil when missing env vars.
func NewStripeFromEnv(repo *Repository) *StripeService {
	key := os.Getenv("STRIPE_SECRET_KEY")
	if key == "" {
		return nil
	}
	success := os.Getenv("STRIPE_SUCCESS_URL")
	if success == "" {
		success = "https://scriptgenius.app/subscription?status=success"
	}
	cancel := os.Getenv("STRIPE_CANCEL_URL")
	if cancel == "" {
		cancel = "https://scriptgenius.app/pricing?status=cancelled"
	}
	sc := &client.API{}
	sc.Init(key, nil)
	return &StripeService{
		repo:          repo,
		secretKey:     key,
		webhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		successURL:    success,
		cancelURL:     cancel,
		sc:            sc,
		productIDs:    map[plans.PlanID]string{},
		priceIDs:      map[plans.PlanID]string{},
	}
}

func (s *StripeService) isInvalidKeyErr(err error) bool {
	var se *stripe.Error
	return errors.As(err, &se) && (se.HTTPStatusCode == 401 || strings.Contains(strings.ToLower(se.Msg), "invalid api key"))
}

// ensureStripePrice lazily creates the Stripe product and recurring price for
// a paid plan and caches the ids for the process lifetime.
func (s *StripeService) ensureStripePrice(p plans.Plan) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.priceIDs[p.ID]; ok {
		return id, nil
	}
	productID, ok := s.productIDs[p.ID]
	if !ok {
		prod, err := s.sc.Products.New(&stripe.ProductParams{Name: stripe.String("ScriptGenius " + p.Name)})
		if err != nil {
			return "", err
		}
		productID = prod.ID
		s.productIDs[p.ID] = productID
	}
	price, err := s.sc.Prices.New(&stripe.PriceParams{
		Product:    stripe.String(productID),
		Currency:   stripe.String(strings.ToLower(p.Currency)),
		UnitAmount: stripe.Int64(int64(p.Price * 100)),
		Recurring:  &stripe.PriceRecurringParams{Interval: stripe.String("month")},
	})
	if err != nil {
		return "", err
	}
	s.priceIDs[p.ID] = price.ID
	return price.ID, nil
}

// CreateCheckoutSessionWithID starts a subscription checkout for a plan and
// returns the hosted URL plus the session id the client later verifies.
// Selecting the Free plan activates immediately without touching Stripe.
func (s *StripeService) CreateCheckoutSessionWithID(ctx context.Context, userID int, planID plans.PlanID) (string, string, error) {
	if s == nil {
		return "", "", errors.New("stripe not configured")
	}
	plan := plans.Resolve(planID)
	if plan.Price == 0 {
		if err := s.repo.Activate(ctx, userID, plan.ID, "", nil, nil); err != nil {
			return "", "", err
		}
		return s.successURL, "", nil
	}
	if s.invalidKey {
		return "", "", ErrStripeInvalidAPIKey
	}
	priceID, err := s.ensureStripePrice(plan)
	if err != nil {
		if s.isInvalidKeyErr(err) {
			log.Printf("[STRIPE][price] invalid api key (%s): %v", maskKey(s.secretKey), err)
			s.invalidKey = true
			return "", "", ErrStripeInvalidAPIKey
		}
		return "", "", err
	}
	params := &stripe.CheckoutSessionParams{
		SuccessURL: stripe.String(s.successURL),
		CancelURL:  stripe.String(s.cancelURL),
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(priceID),
			Quantity: stripe.Int64(1),
		}},
		Metadata: map[string]string{
			"user_id": strconv.Itoa(userID),
			"plan":    string(plan.ID),
		},
	}
	sess, err := s.sc.CheckoutSessions.New(params)
	if err != nil {
		if s.isInvalidKeyErr(err) {
			log.Printf("[STRIPE][checkout] invalid api key (%s): %v", maskKey(s.secretKey), err)
			s.invalidKey = true
			return "", "", ErrStripeInvalidAPIKey
		}
		log.Printf("[STRIPE][checkout] error: %v", err)
		return "", "", err
	}
	return sess.URL, sess.ID, nil
}

// CancelAtGateway cancels the subscription on Stripe's side. Errors from the
// gateway are surfaced; local state is handled by the caller.
func (s *StripeService) CancelAtGateway(gatewaySubID string) error {
	if s == nil {
		return nil
	}
	_, err := s.sc.Subscriptions.Cancel(gatewaySubID, nil)
	return err
}

type webhookEvent struct {
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID           string            `json:"id"`
			Metadata     map[string]string `json:"metadata"`
			Subscription string            `json:"subscription"`
			PeriodEnd    int64             `json:"period_end"`
			Lines        struct {
				Data []struct {
					Subscription string `json:"subscription"`
					Period       struct {
						End int64 `json:"end"`
					} `json:"period"`
				} `json:"data"`
			} `json:"lines"`
		} `json:"object"`
	} `json:"data"`
}

// HandleWebhook verifies the signature and mirrors the gateway event into the
// store. Nothing is mutated before the signature check passes.
func (s *StripeService) HandleWebhook(w http.ResponseWriter, r *http.Request) error {
	if s == nil {
		return errors.New("stripe not configured")
	}
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	sig := r.Header.Get("Stripe-Signature")
	if s.webhookSecret != "" {
		if _, err := webhook.ConstructEvent(payload, sig, s.webhookSecret); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
	}

	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return err
	}
	ctx := r.Context()
	switch event.Type {
	case "checkout.session.completed":
		uid, _ := strconv.Atoi(event.Data.Object.Metadata["user_id"])
		planID := plans.ParsePlanID(event.Data.Object.Metadata["plan"])
		if uid == 0 {
			return fmt.Errorf("incomplete metadata")
		}
		now := time.Now()
		if err := s.repo.Activate(ctx, uid, planID, event.Data.Object.Subscription, &now, nil); err != nil {
			return err
		}
		s.notifyActivated(uid, planID)
	case "invoice.payment_succeeded":
		subID := event.Data.Object.Subscription
		end := event.Data.Object.PeriodEnd
		if subID == "" && len(event.Data.Object.Lines.Data) > 0 {
			subID = event.Data.Object.Lines.Data[0].Subscription
			end = event.Data.Object.Lines.Data[0].Period.End
		}
		if subID == "" {
			break // not a subscription invoice
		}
		if err := s.repo.RenewPeriod(ctx, subID, time.Unix(end, 0)); err != nil {
			if errors.Is(err, ErrSubscriptionNotFound) {
				log.Printf("[STRIPE][webhook] invoice for unknown subscription %s", subID)
				break
			}
			return err
		}
	case "customer.subscription.deleted":
		subID := event.Data.Object.ID
		if err := s.repo.SetSubscriptionStatus(ctx, subID, StatusCancelled, plans.Free, nil); err != nil {
			if errors.Is(err, ErrSubscriptionNotFound) {
				log.Printf("[STRIPE][webhook] delete for unknown subscription %s", subID)
				break
			}
			return err
		}
	default:
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ignored"))
		return nil
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
	return nil
}

// ConfirmSession checks the session on Stripe and activates the plan if
// completed. Idempotent: re-confirming an already-active plan is a no-op.
func (s *StripeService) ConfirmSession(ctx context.Context, sessionID string) (bool, error) {
	if s == nil {
		return false, errors.New("stripe not configured")
	}
	if sessionID == "" {
		return false, errors.New("empty session_id")
	}
	sess, err := s.sc.CheckoutSessions.Get(sessionID, nil)
	if err != nil {
		return false, err
	}
	if sess.Status != stripe.CheckoutSessionStatusComplete {
		return false, nil
	}
	uid, _ := strconv.Atoi(sess.Metadata["user_id"])
	planID := plans.ParsePlanID(sess.Metadata["plan"])
	if uid == 0 {
		return false, errors.New("incomplete metadata")
	}
	cur, _ := s.repo.GetCurrentSubscription(ctx, uid)
	if cur != nil && cur.Plan == planID && cur.Status == StatusActive && cur.GatewaySubscriptionID != "" {
		return false, nil
	}
	gatewaySubID := ""
	if sess.Subscription != nil {
		gatewaySubID = sess.Subscription.ID
	}
	now := time.Now()
	if err := s.repo.Activate(ctx, uid, planID, gatewaySubID, &now, nil); err != nil {
		return false, err
	}
	s.notifyActivated(uid, planID)
	return true, nil
}

func (s *StripeService) notifyActivated(userID int, planID plans.PlanID) {
	u := migrations.GetUserByID(userID)
	if u == nil {
		return
	}
	if err := sendActivatedEmail(u.Email, plans.Resolve(planID).Name); err != nil {
		log.Printf("[STRIPE][email] activation notice failed for %s: %v", u.Email, err)
	}
}
