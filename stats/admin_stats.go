package stats

import (
	"database/sql"
	"log"
	"net/http"
	"strings"
	"time"

	"scriptgenius-backend/login"
	"scriptgenius-backend/migrations"
	"scriptgenius-backend/plans"

	"github.com/gin-gonic/gin"
)

var db *sql.DB

// Init sets the DB connection for stats queries
func Init(database *sql.DB) {
	db = database
}

// AdminStatsResponse is the payload for the admin dashboard.
type AdminStatsResponse struct {
	Users          UserStats            `json:"users"`
	Activity       ActivityStats        `json:"activity"`
	Plans          []PlanStats          `json:"plans"`
	RecentActivity []RecentActivityItem `json:"recent_activity"`
}

type UserStats struct {
	Total         int     `json:"total"`
	Paying        int     `json:"paying"`
	NewThisMonth  int     `json:"new_this_month"`
	GrowthPercent float64 `json:"growth_percent"`
}

type ActivityStats struct {
	ScriptsTotal    int `json:"scripts_total"`
	ScriptsToday    int `json:"scripts_today"`
	ScriptsThisWeek int `json:"scripts_this_week"`
	WithAudio       int `json:"with_audio"`
}

type PlanStats struct {
	Plan            string  `json:"plan"`
	Name            string  `json:"name"`
	SubscriberCount int     `json:"subscriber_count"`
	Percentage      float64 `json:"percentage"`
}

type RecentActivityItem struct {
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Timestamp time.Time `json:"timestamp"`
	UserEmail string    `json:"user_email"`
}

// RegisterAdminRoutes registers admin statistics endpoints
func RegisterAdminRoutes(r *gin.Engine) {
	r.GET("/admin/stats", requireAdmin(), getAdminStats)
	r.GET("/admin/stats/users/list", requireAdmin(), getUsersList)
}

// requireAdmin verifies the session belongs to an admin user
func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		token := strings.TrimPrefix(auth, "Bearer ")
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "token required"})
			c.Abort()
			return
		}
		email, ok := login.GetEmailFromToken(token)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}
		user := migrations.GetUserByEmail(email)
		if user == nil || user.Role != "admin" {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func getAdminStats(c *gin.Context) {
	if db == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database not initialized"})
		return
	}

	response := AdminStatsResponse{
		Users:          getUserStats(),
		Activity:       getActivityStats(),
		Plans:          getPlanStats(),
		RecentActivity: getRecentActivity(10),
	}
	c.JSON(http.StatusOK, gin.H{"data": response})
}

func getUserStats() UserStats {
	stats := UserStats{}

	db.QueryRow("SELECT COUNT(*) FROM users").Scan(&stats.Total)

	db.QueryRow(`
		SELECT COUNT(*)
		FROM subscriptions
		WHERE plan <> ? AND status IN ('active','trialing')
	`, string(plans.Free)).Scan(&stats.Paying)

	db.QueryRow(`
		SELECT COUNT(*)
		FROM users
		WHERE created_at >= DATE_FORMAT(NOW(), '%Y-%m-01')
	`).Scan(&stats.NewThisMonth)

	var newLastMonth int
	db.QueryRow(`
		SELECT COUNT(*)
		FROM users
		WHERE created_at >= DATE_FORMAT(DATE_SUB(NOW(), INTERVAL 1 MONTH), '%Y-%m-01')
		  AND created_at < DATE_FORMAT(NOW(), '%Y-%m-01')
	`).Scan(&newLastMonth)

	if newLastMonth > 0 {
		stats.GrowthPercent = ((float64(stats.NewThisMonth) - float64(newLastMonth)) / float64(newLastMonth)) * 100
	} else if stats.NewThisMonth > 0 {
		stats.GrowthPercent = 100
	}

	log.Printf("[stats][users] total=%d paying=%d new_month=%d growth=%.2f%%",
		stats.Total, stats.Paying, stats.NewThisMonth, stats.GrowthPercent)

	return stats
}

func getActivityStats() ActivityStats {
	stats := ActivityStats{}

	db.QueryRow("SELECT COUNT(*) FROM scripts").Scan(&stats.ScriptsTotal)
	db.QueryRow("SELECT COUNT(*) FROM scripts WHERE created_at >= CURDATE()").Scan(&stats.ScriptsToday)
	db.QueryRow("SELECT COUNT(*) FROM scripts WHERE created_at >= DATE_SUB(NOW(), INTERVAL 7 DAY)").Scan(&stats.ScriptsThisWeek)
	db.QueryRow("SELECT COUNT(*) FROM scripts WHERE audio_url <> ''").Scan(&stats.WithAudio)

	return stats
}

func getPlanStats() []PlanStats {
	var total int
	db.QueryRow("SELECT COUNT(*) FROM users").Scan(&total)

	out := make([]PlanStats, 0, len(plans.All()))
	for _, p := range plans.All() {
		ps := PlanStats{Plan: string(p.ID), Name: p.Name}
		if p.ID == plans.Free {
			// users without a subscription row count as free
			db.QueryRow(`
				SELECT COUNT(*) FROM users u
				LEFT JOIN subscriptions s ON u.id = s.user_id
				WHERE s.plan IS NULL OR s.plan = ?
			`, string(p.ID)).Scan(&ps.SubscriberCount)
		} else {
			db.QueryRow(`
				SELECT COUNT(*) FROM subscriptions
				WHERE plan = ? AND status IN ('active','trialing')
			`, string(p.ID)).Scan(&ps.SubscriberCount)
		}
		if total > 0 {
			ps.Percentage = (float64(ps.SubscriberCount) / float64(total)) * 100
		}
		out = append(out, ps)
	}
	return out
}

func getRecentActivity(limit int) []RecentActivityItem {
	items := make([]RecentActivityItem, 0, limit)

	rows, err := db.Query(`
		SELECT s.prompt_text, s.created_at, u.email
		FROM scripts s
		JOIN users u ON u.id = s.user_id
		ORDER BY s.created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		log.Printf("[stats][recent] query error: %v", err)
		return items
	}
	defer rows.Close()

	for rows.Next() {
		item := RecentActivityItem{Type: "script"}
		var prompt string
		if err := rows.Scan(&prompt, &item.Timestamp, &item.UserEmail); err != nil {
			continue
		}
		item.Title = truncateTitle(prompt, 80)
		items = append(items, item)
	}
	return items
}

// truncateTitle shortens a prompt for the activity feed, counting characters
// rather than bytes so a multi-byte character is never cut in half.
func truncateTitle(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

func getUsersList(c *gin.Context) {
	if db == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database not initialized"})
		return
	}

	rows, err := db.Query(`
		SELECT u.id, u.first_name, u.last_name, u.email, u.role, u.created_at,
		       IFNULL(s.plan, ?), IFNULL(s.status, 'active')
		FROM users u
		LEFT JOIN subscriptions s ON u.id = s.user_id
		ORDER BY u.created_at DESC
	`, string(plans.Free))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer rows.Close()

	type userRow struct {
		ID        int       `json:"id"`
		FirstName string    `json:"first_name"`
		LastName  string    `json:"last_name"`
		Email     string    `json:"email"`
		Role      string    `json:"role"`
		CreatedAt time.Time `json:"created_at"`
		Plan      string    `json:"plan"`
		Status    string    `json:"status"`
	}
	users := make([]userRow, 0)
	for rows.Next() {
		var u userRow
		if err := rows.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Role, &u.CreatedAt, &u.Plan, &u.Status); err != nil {
			continue
		}
		users = append(users, u)
	}
	c.JSON(http.StatusOK, gin.H{"data": users})
}
