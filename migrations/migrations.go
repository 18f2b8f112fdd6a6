package migrations

import (
	"database/sql"
	"fmt"
	"time"
)

type User struct {
	ID           int       `db:"id"`
	FirstName    string    `db:"first_name"`
	LastName     string    `db:"last_name"`
	Email        string    `db:"email"`
	Password     string    `db:"password"`
	Role         string    `db:"role"`
	ProfileImage string    `db:"profile_image"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

var db *sql.DB

// Init sets the DB connection for migrations and queries
func Init(database *sql.DB) {
	db = database
}

// Migrate creates required tables if they do not exist
func Migrate() error {
	if db == nil {
		return fmt.Errorf("db is not initialized")
	}
	createUsers := `
	CREATE TABLE IF NOT EXISTS users (
		id INT AUTO_INCREMENT PRIMARY KEY,
		first_name VARCHAR(100) NOT NULL,
		last_name VARCHAR(100) NOT NULL,
		email VARCHAR(191) NOT NULL UNIQUE,
		password VARCHAR(191) NOT NULL,
		role VARCHAR(50) NOT NULL DEFAULT 'user',
		profile_image VARCHAR(255) NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createUsers); err != nil {
		return err
	}

	// One canonical subscription row per user. Gateway-side history lives
	// in subscription_events, appended on every webhook / confirm.
	createSubs := `
	CREATE TABLE IF NOT EXISTS subscriptions (
		user_id INT PRIMARY KEY,
		plan VARCHAR(50) NOT NULL DEFAULT 'free',
		status VARCHAR(20) NOT NULL DEFAULT 'active',
		gateway_subscription_id VARCHAR(191) NOT NULL DEFAULT '',
		current_period_start DATETIME NULL,
		current_period_end DATETIME NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createSubs); err != nil {
		return err
	}
	createSubEvents := `
	CREATE TABLE IF NOT EXISTS subscription_events (
		id INT AUTO_INCREMENT PRIMARY KEY,
		gateway_subscription_id VARCHAR(191) NOT NULL,
		user_id INT NOT NULL,
		plan VARCHAR(50) NOT NULL,
		status VARCHAR(20) NOT NULL,
		period_end DATETIME NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		INDEX idx_sub_events_gateway (gateway_subscription_id),
		INDEX idx_sub_events_user (user_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createSubEvents); err != nil {
		return err
	}

	createScripts := `
	CREATE TABLE IF NOT EXISTS scripts (
		id VARCHAR(36) PRIMARY KEY,
		user_id INT NOT NULL,
		prompt_text TEXT NOT NULL,
		generated_text MEDIUMTEXT NOT NULL,
		category VARCHAR(100) NOT NULL DEFAULT '',
		tags VARCHAR(255) NOT NULL DEFAULT '',
		audio_url VARCHAR(512) NOT NULL DEFAULT '',
		audio_filename VARCHAR(191) NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		INDEX idx_scripts_user (user_id),
		INDEX idx_scripts_user_created (user_id, created_at),
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createScripts); err != nil {
		return err
	}

	// Quota counters. period is 'total' for lifetime plans or a local
	// YYYY-MM-DD for daily plans, so the midnight reset is just a new row.
	createUsage := `
	CREATE TABLE IF NOT EXISTS script_usage (
		user_id INT NOT NULL,
		period VARCHAR(10) NOT NULL,
		used INT NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, period)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createUsage); err != nil {
		return err
	}

	// Per-IP fixed windows for request rate limiting. Shared across
	// instances; an in-process map would not survive horizontal scaling.
	createRate := `
	CREATE TABLE IF NOT EXISTS request_rate (
		ip VARCHAR(64) NOT NULL,
		window_start BIGINT NOT NULL,
		hits INT NOT NULL DEFAULT 0,
		PRIMARY KEY (ip, window_start)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createRate); err != nil {
		return err
	}

	createCategories := `
	CREATE TABLE IF NOT EXISTS script_categories (
		id INT AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(100) NOT NULL UNIQUE,
		description VARCHAR(255) NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createCategories); err != nil {
		return err
	}
	return nil
}

// SeedDefaultAdmin inserts a default admin user if it doesn't exist
func SeedDefaultAdmin() error {
	if db == nil {
		return fmt.Errorf("db is not initialized")
	}
	var count int
	if err := db.QueryRow("SELECT COUNT(1) FROM users WHERE role = 'admin'").Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		_, err := db.Exec(
			"INSERT INTO users (first_name, last_name, email, password, role) VALUES (?, ?, ?, ?, ?)",
			"Admin", "User", "admin@scriptgenius.app", "changeme", "admin",
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// SeedDefaultCategories inserts the default script categories if none exist
func SeedDefaultCategories() error {
	if db == nil {
		return fmt.Errorf("db is not initialized")
	}
	var count int
	if err := db.QueryRow("SELECT COUNT(1) FROM script_categories").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	defaults := []struct{ name, desc string }{
		{"Automotive", "Cars, bikes and everything that moves"},
		{"Tech", "Gadgets, apps and software"},
		{"Fitness", "Workouts, nutrition and wellness"},
		{"Food", "Recipes, restaurants and street food"},
		{"Travel", "Destinations and travel hacks"},
		{"Gaming", "Games, consoles and esports"},
	}
	for _, d := range defaults {
		if _, err := db.Exec(`INSERT INTO script_categories (name, description) VALUES (?, ?)`, d.name, d.desc); err != nil {
			return err
		}
	}
	return nil
}

// GetUserByEmail retrieves a user from DB by email
func GetUserByEmail(email string) *User {
	if db == nil {
		return nil
	}
	row := db.QueryRow("SELECT id, first_name, last_name, email, password, role, profile_image, created_at, updated_at FROM users WHERE email = ? LIMIT 1", email)
	var u User
	if err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Password, &u.Role, &u.ProfileImage, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil
	}
	return &u
}

// GetUserByID retrieves a user by its ID
func GetUserByID(id int) *User {
	if db == nil {
		return nil
	}
	row := db.QueryRow("SELECT id, first_name, last_name, email, password, role, profile_image, created_at, updated_at FROM users WHERE id = ? LIMIT 1", id)
	var u User
	if err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Password, &u.Role, &u.ProfileImage, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil
	}
	return &u
}

// CreateUser inserts a new user record and returns its id
func CreateUser(firstName, lastName, email, password, role string) (int, error) {
	if db == nil {
		return 0, fmt.Errorf("db is not initialized")
	}
	res, err := db.Exec(
		"INSERT INTO users (first_name, last_name, email, password, role) VALUES (?, ?, ?, ?, ?)",
		firstName, lastName, email, password, role,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return int(id), nil
}

// EmailExists checks if a user with the given email exists
func EmailExists(email string) (bool, error) {
	if db == nil {
		return false, fmt.Errorf("db is not initialized")
	}
	var count int
	if err := db.QueryRow("SELECT COUNT(1) FROM users WHERE email = ?", email).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// UpdateUserPassword updates the password for the given user id
func UpdateUserPassword(id int, password string) error {
	if db == nil {
		return fmt.Errorf("db is not initialized")
	}
	_, err := db.Exec("UPDATE users SET password = ?, updated_at = NOW() WHERE id = ?", password, id)
	return err
}

// UpdateUserProfile updates first/last name, keeping current values for
// empty fields
func UpdateUserProfile(id int, firstName, lastName string) error {
	if db == nil {
		return fmt.Errorf("db is not initialized")
	}
	cur := GetUserByID(id)
	if cur == nil {
		return fmt.Errorf("user not found")
	}
	if firstName == "" {
		firstName = cur.FirstName
	}
	if lastName == "" {
		lastName = cur.LastName
	}
	_, err := db.Exec("UPDATE users SET first_name = ?, last_name = ?, updated_at = NOW() WHERE id = ?", firstName, lastName, id)
	return err
}
