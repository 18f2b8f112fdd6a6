package subscriptions

import (
	"errors"
	"log"
	"net/http"

	"scriptgenius-backend/email"
	"scriptgenius-backend/migrations"
	"scriptgenius-backend/plans"

	"github.com/gin-gonic/gin"
)

// email indirection so handler tests don't hit SMTP
var (
	sendActivatedEmail = email.SendSubscriptionActivated
	sendCancelledEmail = email.SendSubscriptionCancelled
)

// currentUser resolves the authenticated user; wired from main to avoid a
// dependency on the login package from here.
var currentUser = func(c *gin.Context) *migrations.User { return nil }

// RegisterUserResolver lets main provide the session-to-user resolver.
func RegisterUserResolver(fn func(c *gin.Context) *migrations.User) { currentUser = fn }

type Handler struct {
	repo   *Repository
	stripe *StripeService
}

func NewHandler(repo *Repository, stripe *StripeService) *Handler {
	return &Handler{repo: repo, stripe: stripe}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/plans", h.getPlans)
	r.GET("/subscription", h.getSubscription)
	r.POST("/create-subscription", h.createSubscription)
	r.POST("/cancel-subscription", h.cancelSubscription)
	r.POST("/verify-payment", h.verifyPayment)
	r.POST("/webhooks/stripe", h.webhook)
}

func (h *Handler) getPlans(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": plans.All()})
}

func (h *Handler) getSubscription(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	sub, _ := h.repo.GetCurrentSubscription(c.Request.Context(), user.ID)
	c.JSON(http.StatusOK, gin.H{"data": sub})
}

// createSubscription starts a checkout for the requested plan.
// Body: { "plan": "starter" } -> { "checkout_url", "session_id" }
func (h *Handler) createSubscription(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	var body struct {
		Plan string `json:"plan"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Plan == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "plan required"})
		return
	}
	planID := plans.ParsePlanID(body.Plan)
	if h.stripe == nil {
		// No gateway configured: only the Free plan can be selected.
		if planID != plans.Free {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "payments are not configured"})
			return
		}
		if err := h.repo.Activate(c.Request.Context(), user.ID, plans.Free, "", nil, nil); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"checkout_url": "", "session_id": ""})
		return
	}
	url, sessionID, err := h.stripe.CreateCheckoutSessionWithID(c.Request.Context(), user.ID, planID)
	if err != nil {
		if errors.Is(err, ErrStripeInvalidAPIKey) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "payment gateway misconfigured"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"checkout_url": url, "session_id": sessionID})
}

// cancelSubscription handles POST /cancel-subscription with body { subscription_id }
func (h *Handler) cancelSubscription(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	var body struct {
		SubscriptionID string `json:"subscription_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.SubscriptionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subscription_id required"})
		return
	}
	ownerID, err := h.repo.UserIDForGatewaySubscription(c.Request.Context(), body.SubscriptionID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if ownerID != user.ID && user.Role != "admin" {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your subscription"})
		return
	}
	if h.stripe != nil {
		if err := h.stripe.CancelAtGateway(body.SubscriptionID); err != nil {
			log.Printf("[subscriptions][cancel] gateway cancel failed id=%s err=%v", body.SubscriptionID, err)
		}
	}
	if err := h.repo.Cancel(c.Request.Context(), body.SubscriptionID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if owner := migrations.GetUserByID(ownerID); owner != nil {
		if err := sendCancelledEmail(owner.Email); err != nil {
			log.Printf("[subscriptions][email] cancel notice failed for %s: %v", owner.Email, err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// verifyPayment confirms a checkout session after the client returns from
// the hosted page. Body: { "session_id" }.
func (h *Handler) verifyPayment(c *gin.Context) {
	var body struct {
		SessionID string `json:"session_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.SessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id required"})
		return
	}
	if h.stripe == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "payments are not configured"})
		return
	}
	activated, err := h.stripe.ConfirmSession(c.Request.Context(), body.SessionID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payment not completed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "activated": activated})
}

func (h *Handler) webhook(c *gin.Context) {
	if h.stripe == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "payments are not configured"})
		return
	}
	if err := h.stripe.HandleWebhook(c.Writer, c.Request); err != nil {
		if errors.Is(err, ErrInvalidSignature) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
			return
		}
		log.Printf("[subscriptions][webhook] error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "webhook rejected"})
	}
}
