package login

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	mailer "scriptgenius-backend/email"
	"scriptgenius-backend/migrations"
	"scriptgenius-backend/subscriptions"

	"github.com/gin-gonic/gin"
)

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

// blacklist for manual logout (tokens -> expiry). Not persisted; acceptable
// for MVP. Guarded by blacklistMu: logout and refresh write while every
// request's token parse reads.
var (
	blacklistMu sync.Mutex
	blacklist   = map[string]int64{}
)

func blacklistToken(token string, exp int64) {
	blacklistMu.Lock()
	blacklist[token] = exp
	blacklistMu.Unlock()
}

func isBlacklisted(token string) bool {
	blacklistMu.Lock()
	exp, ok := blacklist[token]
	blacklistMu.Unlock()
	return ok && exp >= time.Now().Unix()
}

// subscription store used to bootstrap a Free record on signup; wired from main.
var subStore *subscriptions.Repository

// RegisterSubscriptionStore lets main provide the subscription repository.
func RegisterSubscriptionStore(repo *subscriptions.Repository) { subStore = repo }

// tokenPayload minimal JWT-like payload
type tokenPayload struct {
	Email string `json:"email"`
	Exp   int64  `json:"exp"`
	Rem   bool   `json:"rem"` // remember flag
	Jti   string `json:"jti"` // unique id
}

func sessionDurations(remember bool) time.Duration {
	defHours := 12
	if v := os.Getenv("SESSION_DEFAULT_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			defHours = n
		}
	}
	remDays := 30
	if v := os.Getenv("SESSION_REMEMBER_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			remDays = n
		}
	}
	if remember {
		return time.Hour * 24 * time.Duration(remDays)
	}
	return time.Hour * time.Duration(defHours)
}

func sessionSecret() []byte {
	s := os.Getenv("SESSION_SECRET")
	if s == "" {
		s = "dev-insecure-secret"
	}
	return []byte(s)
}

func signToken(email string, dur time.Duration, remember bool) (string, int64, error) {
	exp := time.Now().Add(dur).Unix()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payloadBytes, _ := json.Marshal(tokenPayload{Email: email, Exp: exp, Rem: remember, Jti: generateJTI()})
	payload := base64.RawURLEncoding.EncodeToString(payloadBytes)
	mac := hmac.New(sha256.New, sessionSecret())
	mac.Write([]byte(header + "." + payload))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return header + "." + payload + "." + sig, exp, nil
}

func parseToken(token string) (tokenPayload, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return tokenPayload{}, false
	}
	unsigned := parts[0] + "." + parts[1]
	mac := hmac.New(sha256.New, sessionSecret())
	mac.Write([]byte(unsigned))
	expected := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(parts[2])) {
		return tokenPayload{}, false
	}
	pb, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return tokenPayload{}, false
	}
	var tp tokenPayload
	if err := json.Unmarshal(pb, &tp); err != nil {
		return tokenPayload{}, false
	}
	if tp.Exp < time.Now().Unix() {
		return tokenPayload{}, false
	}
	if isBlacklisted(token) {
		return tokenPayload{}, false
	}
	return tp, true
}

func generateJTI() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return time.Now().Format("20060102150405")
	}
	return hex.EncodeToString(b)
}

// GetEmailFromToken validates signature + expiry and returns email
func GetEmailFromToken(token string) (string, bool) {
	tp, ok := parseToken(token)
	if !ok {
		return "", false
	}
	return tp.Email, true
}

// UserFromContext resolves the authenticated user from the Authorization
// header, or nil when the token is missing/invalid.
func UserFromContext(c *gin.Context) *migrations.User {
	auth := c.GetHeader("Authorization")
	token := strings.TrimPrefix(auth, "Bearer ")
	if token == "" {
		return nil
	}
	email, ok := GetEmailFromToken(token)
	if !ok {
		return nil
	}
	return migrations.GetUserByEmail(email)
}

func userResponse(u *migrations.User) gin.H {
	return gin.H{
		"id":            u.ID,
		"first_name":    u.FirstName,
		"last_name":     u.LastName,
		"email":         u.Email,
		"full_name":     u.FirstName + " " + u.LastName,
		"role":          u.Role,
		"created_at":    u.CreatedAt.Format(time.RFC3339),
		"updated_at":    u.UpdatedAt.Format(time.RFC3339),
		"profile_image": u.ProfileImage,
	}
}

func Handler(c *gin.Context) {
	var creds Credentials
	if err := c.ShouldBindJSON(&creds); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	// Normalize inputs
	creds.Email = strings.TrimSpace(strings.ToLower(creds.Email))
	creds.Password = strings.TrimSpace(creds.Password)

	user := migrations.GetUserByEmail(creds.Email)
	if user != nil && user.Password == creds.Password {
		dur := sessionDurations(creds.Remember)
		token, exp, _ := signToken(user.Email, dur, creds.Remember)
		c.JSON(http.StatusOK, gin.H{"token": token, "user": userResponse(user), "expires_at": exp, "remember": creds.Remember})
	} else {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
	}
}

func SessionHandler(c *gin.Context) {
	auth := c.GetHeader("Authorization")
	token := strings.TrimPrefix(auth, "Bearer ")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	tp, ok := parseToken(token)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	user := migrations.GetUserByEmail(tp.Email)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user": userResponse(user)})
}

// LogoutHandler invalidates the token
func LogoutHandler(c *gin.Context) {
	auth := c.GetHeader("Authorization")
	token := strings.TrimPrefix(auth, "Bearer ")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
		return
	}
	// Add to blacklist until its natural expiry (best effort)
	if tp, ok := parseToken(token); ok {
		blacklistToken(token, tp.Exp)
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

type RegisterPayload struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

func RegisterHandler(c *gin.Context) {
	var p RegisterPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	p.Email = strings.TrimSpace(strings.ToLower(p.Email))
	if p.Email == "" || p.Password == "" || p.FirstName == "" || p.LastName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing required fields"})
		return
	}
	if exists, err := migrations.EmailExists(p.Email); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not validate user"})
		return
	} else if exists {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "email already registered"})
		return
	}
	userID, err := migrations.CreateUser(p.FirstName, p.LastName, p.Email, p.Password, "user")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create user"})
		return
	}
	// Every account starts on the Free plan; the record is also synthesized
	// lazily on the first limit check if this write fails.
	if subStore != nil {
		if _, err := subStore.GetCurrentSubscription(c.Request.Context(), userID); err != nil {
			log.Printf("[login] bootstrap free subscription failed user_id=%d err=%v", userID, err)
		}
	}
	if err := mailer.SendWelcome(p.Email); err != nil {
		log.Printf("send welcome email failed for %s: %v", p.Email, err)
	}
	c.Status(http.StatusCreated)
}

type ChangePasswordPayload struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func ChangePasswordHandler(c *gin.Context) {
	var p ChangePasswordPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	user := UserFromContext(c)
	if user == nil || user.Password != p.OldPassword {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if err := migrations.UpdateUserPassword(user.ID, p.NewPassword); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update password"})
		return
	}
	if err := mailer.SendPasswordChanged(user.Email); err != nil {
		log.Printf("send password change email failed for %s: %v", user.Email, err)
	}
	c.JSON(http.StatusOK, gin.H{"message": "password updated"})
}

// RefreshHandler issues a new token preserving remember flag while previous token is blacklisted.
func RefreshHandler(c *gin.Context) {
	auth := c.GetHeader("Authorization")
	token := strings.TrimPrefix(auth, "Bearer ")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token required"})
		return
	}
	tp, ok := parseToken(token)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token invalid or expired"})
		return
	}
	dur := time.Until(time.Unix(tp.Exp, 0))
	// Extend to the full window once less than half of it remains
	baseDur := sessionDurations(tp.Rem)
	if dur < baseDur/2 {
		dur = baseDur
	}
	newToken, newExp, _ := signToken(tp.Email, dur, tp.Rem)
	blacklistToken(token, tp.Exp)
	c.JSON(http.StatusOK, gin.H{"token": newToken, "expires_at": newExp, "remember": tp.Rem})
}
