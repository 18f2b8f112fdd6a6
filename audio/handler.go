package audio

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"scriptgenius-backend/migrations"
	"scriptgenius-backend/scripts"

	"github.com/gin-gonic/gin"
)

// Synthesizer abstracts the TTS client for tests.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
}

// ScriptStore is the slice of the script repository used to attach audio.
type ScriptStore interface {
	GetByID(ctx context.Context, id string) (*scripts.Script, error)
	AttachAudio(ctx context.Context, id, url, filename string) error
}

// currentUser resolves the authenticated user; wired from main.
var currentUser = func(c *gin.Context) *migrations.User { return nil }

// RegisterUserResolver lets main provide the session-to-user resolver.
func RegisterUserResolver(fn func(c *gin.Context) *migrations.User) { currentUser = fn }

type Handler struct {
	tts     Synthesizer
	store   BlobStore
	scripts ScriptStore
}

func NewHandler(tts Synthesizer, store BlobStore, scriptStore ScriptStore) *Handler {
	return &Handler{tts: tts, store: store, scripts: scriptStore}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.POST("/generate-audio", h.generate)
}

// generate converts text to speech, uploads the MP3 and optionally attaches
// it to a script. Body: { text, voice_id?, script_id? } -> { url, filename }.
func (h *Handler) generate(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	var req struct {
		Text     string `json:"text"`
		VoiceID  string `json:"voice_id"`
		ScriptID string `json:"script_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text required"})
		return
	}
	if h.tts == nil || h.store == nil {
		// Missing provider keys disable this route, not the process.
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audio generation is not configured"})
		return
	}

	data, err := h.tts.Synthesize(c.Request.Context(), req.Text, req.VoiceID)
	if err != nil {
		log.Printf("[audio][tts_failed] user_id=%d err=%v", user.ID, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Error generating audio"})
		return
	}

	filename := fmt.Sprintf("audio_%d.mp3", time.Now().UnixMilli())
	url, err := h.store.Upload(c.Request.Context(), filename, data)
	if err != nil {
		log.Printf("[audio][upload_failed] user_id=%d err=%v", user.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store audio"})
		return
	}

	if req.ScriptID != "" {
		s, err := h.scripts.GetByID(c.Request.Context(), req.ScriptID)
		switch {
		case errors.Is(err, scripts.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "script not found"})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		case s.UserID != user.ID && user.Role != "admin":
			c.JSON(http.StatusForbidden, gin.H{"error": "not your script"})
			return
		}
		if err := h.scripts.AttachAudio(c.Request.Context(), req.ScriptID, url, filename); err != nil {
			log.Printf("[audio][attach_failed] script_id=%s err=%v", req.ScriptID, err)
		}
	}

	c.JSON(http.StatusOK, gin.H{"url": url, "filename": filename})
}
