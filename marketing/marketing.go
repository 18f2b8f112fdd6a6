package marketing

import (
	"database/sql"
	"log"
	"time"

	"scriptgenius-backend/email"
	"scriptgenius-backend/plans"
)

// Service periodically nudges free-plan users towards a paid plan.
type Service struct {
	db       *sql.DB
	interval time.Duration
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, interval: 24 * time.Hour}
}

// Start launches the campaign ticker. No-op when email is not configured.
func (s *Service) Start() {
	if !email.Configured() {
		log.Printf("[marketing][start] email not configured, campaigns disabled")
		return
	}
	ticker := time.NewTicker(s.interval)
	go func() {
		for range ticker.C {
			if err := s.notifyFreeUsers(); err != nil {
				log.Printf("[marketing][campaign] error notifying free users: %v", err)
			}
		}
	}()
}

// notifyFreeUsers mails an upgrade suggestion to every user currently on
// the free plan. Users without a subscription row default to free and are
// included.
func (s *Service) notifyFreeUsers() error {
	rows, err := s.db.Query(`SELECT u.id, u.email FROM users u
        LEFT JOIN subscriptions s2 ON u.id = s2.user_id
        WHERE s2.plan IS NULL OR s2.plan = ?`, string(plans.Free))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id int
		var mail string
		if err := rows.Scan(&id, &mail); err != nil {
			return err
		}
		if err := email.SendUpgradeSuggestion(mail); err != nil {
			log.Printf("[marketing][campaign] send failed user_id=%d: %v", id, err)
		}
	}
	return rows.Err()
}
