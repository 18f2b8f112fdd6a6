package profile

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"scriptgenius-backend/migrations"
	"scriptgenius-backend/quota"
	"scriptgenius-backend/subscriptions"
)

// currentUser resolves the authenticated user; wired from main to avoid
// importing the login package here.
var currentUser = func(c *gin.Context) *migrations.User { return nil }

// RegisterUserResolver lets main provide the session-to-user resolver.
func RegisterUserResolver(fn func(c *gin.Context) *migrations.User) { currentUser = fn }

type Handler struct {
	subs  *subscriptions.Repository
	quota *quota.Engine
}

func NewHandler(subs *subscriptions.Repository, q *quota.Engine) *Handler {
	return &Handler{subs: subs, quota: q}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/profile", h.get)
	r.PUT("/profile", h.update)
}

func userPayload(u *migrations.User) gin.H {
	return gin.H{
		"id":            u.ID,
		"first_name":    u.FirstName,
		"last_name":     u.LastName,
		"email":         u.Email,
		"role":          u.Role,
		"profile_image": u.ProfileImage,
		"created_at":    u.CreatedAt,
	}
}

// get returns the user record, the current subscription and the quota
// snapshot in one payload so the dashboard needs a single round trip.
func (h *Handler) get(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	sub, _ := h.subs.GetCurrentSubscription(c.Request.Context(), user.ID)
	lim := h.quota.CheckLimit(c.Request.Context(), user.ID)
	c.JSON(http.StatusOK, gin.H{
		"user":         userPayload(user),
		"subscription": sub,
		"limits":       lim,
	})
}

type updateRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (h *Handler) update(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	if req.FirstName == "" && req.LastName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nothing to update"})
		return
	}
	if err := migrations.UpdateUserProfile(user.ID, req.FirstName, req.LastName); err != nil {
		log.Printf("[profile][update] error user_id=%d err=%v", user.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update profile"})
		return
	}
	updated := migrations.GetUserByID(user.ID)
	if updated == nil {
		c.JSON(http.StatusOK, gin.H{"message": "profile updated"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "profile updated", "user": userPayload(updated)})
}
