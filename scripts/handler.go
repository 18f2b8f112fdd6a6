package scripts

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"scriptgenius-backend/migrations"
	"scriptgenius-backend/openai"
	"scriptgenius-backend/plans"
	"scriptgenius-backend/quota"
	"scriptgenius-backend/sse"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Generator abstracts the AI client for easier mocking in unit tests.
type Generator interface {
	GenerateScript(ctx context.Context, topic string) (string, error)
	StreamScript(ctx context.Context, topic string) (<-chan string, error)
}

// Entitlements is the slice of the quota engine the handler needs.
type Entitlements interface {
	CheckLimit(ctx context.Context, userID int) quota.Limit
	Consume(ctx context.Context, userID int) (quota.Limit, error)
	Release(ctx context.Context, userID int)
}

// IPLimiter guards the generation routes against bursts from one address.
type IPLimiter interface {
	Allow(ctx context.Context, ip string) bool
	Remaining(ctx context.Context, ip string) int
}

// currentUser resolves the authenticated user; wired from main.
var currentUser = func(c *gin.Context) *migrations.User { return nil }

// RegisterUserResolver lets main provide the session-to-user resolver.
func RegisterUserResolver(fn func(c *gin.Context) *migrations.User) { currentUser = fn }

// Store is the persistence surface the handler needs; *Repository
// implements it.
type Store interface {
	Create(ctx context.Context, s *Script) error
	GetByID(ctx context.Context, id string) (*Script, error)
	ListByUser(ctx context.Context, userID int) ([]Script, error)
	UpdateText(ctx context.Context, id, text string) error
	ReplaceGenerated(ctx context.Context, id, text string) error
	Delete(ctx context.Context, id string) error
}

type Handler struct {
	repo    Store
	ai      Generator
	quota   Entitlements
	limiter IPLimiter
}

func NewHandler(repo Store, ai Generator, q Entitlements, limiter IPLimiter) *Handler {
	return &Handler{repo: repo, ai: ai, quota: q, limiter: limiter}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.POST("/generate-script", h.generate)
	r.POST("/generate-script/stream", h.generateStream)
	r.GET("/script-limits", h.limits)
	r.GET("/scripts", h.list)
	r.GET("/scripts/:id", h.get)
	r.PUT("/scripts/:id", h.update)
	r.POST("/scripts/:id/regenerate", h.regenerate)
	r.DELETE("/scripts/:id", h.remove)
}

type generateRequest struct {
	Input    string   `json:"input"`
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
}

func limitMessage(lim quota.Limit) string {
	if lim.LimitType == plans.LimitDaily {
		return fmt.Sprintf("Daily script limit reached. The %s plan allows %d scripts per day. Try again tomorrow.", lim.PlanName, lim.Total)
	}
	return fmt.Sprintf("Script limit reached. You've used all %d scripts included in the %s plan.", lim.Total, lim.PlanName)
}

// mapGenerationError turns an AI client failure into an HTTP status and a
// provider-agnostic message; raw upstream bodies stay in the server log.
func mapGenerationError(err error) (int, string) {
	switch {
	case errors.Is(err, openai.ErrAuth):
		return http.StatusUnauthorized, "Invalid API configuration"
	case errors.Is(err, openai.ErrRateLimit):
		return http.StatusTooManyRequests, "API rate limit exceeded"
	default:
		return http.StatusServiceUnavailable, "Failed to generate script. Please try again."
	}
}

// allowIP consumes one per-IP slot and reflects what is left in the
// X-RateLimit-Remaining header. On deny it writes the 429 itself.
func (h *Handler) allowIP(c *gin.Context) bool {
	ip := c.ClientIP()
	ctx := c.Request.Context()
	if !h.limiter.Allow(ctx, ip) {
		c.Header("X-RateLimit-Remaining", "0")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded. Please try again later."})
		return false
	}
	c.Header("X-RateLimit-Remaining", strconv.Itoa(h.limiter.Remaining(ctx, ip)))
	return true
}

// generate runs the full invocation sequence: rate limit, validate, reserve
// quota, call the generator, persist, respond. A failed generation releases
// the reservation so the attempt costs nothing.
func (h *Handler) generate(c *gin.Context) {
	if !h.allowIP(c) {
		return
	}
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Input) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input. Please provide a valid text prompt."})
		return
	}
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	lim, err := h.quota.Consume(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": limitMessage(lim), "limits": lim})
		return
	}

	text, err := h.ai.GenerateScript(c.Request.Context(), strings.TrimSpace(req.Input))
	if err != nil {
		h.quota.Release(c.Request.Context(), user.ID)
		log.Printf("[scripts][generate_failed] user_id=%d err=%v", user.ID, err)
		status, msg := mapGenerationError(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}

	s := &Script{
		ID:            uuid.NewString(),
		UserID:        user.ID,
		PromptText:    strings.TrimSpace(req.Input),
		GeneratedText: text,
		Category:      req.Category,
		Tags:          strings.Join(req.Tags, ","),
	}
	if err := h.repo.Create(c.Request.Context(), s); err != nil {
		h.quota.Release(c.Request.Context(), user.ID)
		log.Printf("[scripts][persist_failed] user_id=%d err=%v", user.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not save script"})
		return
	}
	c.Header("X-Scripts-Remaining", strconv.Itoa(lim.Remaining))
	c.JSON(http.StatusOK, gin.H{
		"script":     text,
		"script_id":  s.ID,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"request_id": uuid.NewString(),
		"limits":     lim,
	})
}

// generateStream is the SSE variant: same reservation, tokens forwarded as
// they arrive, record persisted once the stream completes.
func (h *Handler) generateStream(c *gin.Context) {
	if !h.allowIP(c) {
		return
	}
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Input) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input. Please provide a valid text prompt."})
		return
	}
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	lim, err := h.quota.Consume(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": limitMessage(lim), "limits": lim})
		return
	}
	topic := strings.TrimSpace(req.Input)
	stream, err := h.ai.StreamScript(c.Request.Context(), topic)
	if err != nil {
		h.quota.Release(c.Request.Context(), user.ID)
		log.Printf("[scripts][stream_failed] user_id=%d err=%v", user.ID, err)
		status, msg := mapGenerationError(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}

	// Tee the stream: forward tokens to the client while accumulating the
	// full text so the record can be persisted when the stream ends.
	out := make(chan string)
	userID := user.ID
	scriptID := uuid.NewString()
	category := req.Category
	tags := strings.Join(req.Tags, ",")
	go func() {
		var full strings.Builder
		for tok := range stream {
			full.WriteString(tok)
			out <- tok
		}
		close(out)
		text := strings.TrimSpace(full.String())
		if text == "" {
			h.quota.Release(context.Background(), userID)
			return
		}
		s := &Script{ID: scriptID, UserID: userID, PromptText: topic, GeneratedText: text, Category: category, Tags: tags}
		if err := h.repo.Create(context.Background(), s); err != nil {
			log.Printf("[scripts][persist_failed] user_id=%d err=%v", userID, err)
		}
	}()
	c.Header("X-Script-Id", scriptID)
	c.Header("X-Scripts-Remaining", strconv.Itoa(lim.Remaining))
	sse.Stream(c, out)
}

func (h *Handler) limits(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	c.JSON(http.StatusOK, h.quota.CheckLimit(c.Request.Context(), user.ID))
}

func (h *Handler) list(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	targetID := user.ID
	if q := c.Query("user_id"); q != "" && user.Role == "admin" {
		if id, err := strconv.Atoi(q); err == nil {
			targetID = id
		}
	}
	list, err := h.repo.ListByUser(c.Request.Context(), targetID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list})
}

// ownedScript loads the script and enforces ownership (admins may touch any).
func (h *Handler) ownedScript(c *gin.Context) *Script {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return nil
	}
	s, err := h.repo.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "script not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return nil
	}
	if s.UserID != user.ID && user.Role != "admin" {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your script"})
		return nil
	}
	return s
}

func (h *Handler) get(c *gin.Context) {
	s := h.ownedScript(c)
	if s == nil {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": s})
}

func (h *Handler) update(c *gin.Context) {
	s := h.ownedScript(c)
	if s == nil {
		return
	}
	var body struct {
		GeneratedText string `json:"generated_text"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.GeneratedText) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "generated_text required"})
		return
	}
	if err := h.repo.UpdateText(c.Request.Context(), s.ID, body.GeneratedText); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// regenerate re-runs the stored prompt through the generator, replacing the
// text in place. Counts against quota like any generation.
func (h *Handler) regenerate(c *gin.Context) {
	s := h.ownedScript(c)
	if s == nil {
		return
	}
	lim, err := h.quota.Consume(c.Request.Context(), s.UserID)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": limitMessage(lim), "limits": lim})
		return
	}
	text, err := h.ai.GenerateScript(c.Request.Context(), s.PromptText)
	if err != nil {
		h.quota.Release(c.Request.Context(), s.UserID)
		log.Printf("[scripts][regenerate_failed] user_id=%d script_id=%s err=%v", s.UserID, s.ID, err)
		status, msg := mapGenerationError(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}
	if err := h.repo.ReplaceGenerated(c.Request.Context(), s.ID, text); err != nil {
		h.quota.Release(c.Request.Context(), s.UserID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("X-Scripts-Remaining", strconv.Itoa(lim.Remaining))
	c.JSON(http.StatusOK, gin.H{"script": text, "script_id": s.ID, "limits": lim})
}

func (h *Handler) remove(c *gin.Context) {
	s := h.ownedScript(c)
	if s == nil {
		return
	}
	if err := h.repo.Delete(c.Request.Context(), s.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
