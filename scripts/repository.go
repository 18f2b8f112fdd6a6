package scripts

import (
	"context"
	"database/sql"
	"errors"
)

var ErrNotFound = errors.New("script not found")

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const scriptColumns = `id, user_id, prompt_text, generated_text, category, tags, audio_url, audio_filename, created_at, updated_at`

func scanScript(row interface{ Scan(...any) error }) (*Script, error) {
	var s Script
	err := row.Scan(&s.ID, &s.UserID, &s.PromptText, &s.GeneratedText, &s.Category, &s.Tags,
		&s.AudioURL, &s.AudioFilename, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repository) Create(ctx context.Context, s *Script) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO scripts (id, user_id, prompt_text, generated_text, category, tags) VALUES (?,?,?,?,?,?)`,
		s.ID, s.UserID, s.PromptText, s.GeneratedText, s.Category, s.Tags)
	return err
}

func (r *Repository) GetByID(ctx context.Context, id string) (*Script, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+scriptColumns+` FROM scripts WHERE id = ? LIMIT 1`, id)
	s, err := scanScript(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return s, err
}

// ListByUser returns the user's scripts, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID int) ([]Script, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+scriptColumns+` FROM scripts WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := make([]Script, 0)
	for rows.Next() {
		s, err := scanScript(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

// UpdateText saves a user edit of the generated text.
func (r *Repository) UpdateText(ctx context.Context, id string, generatedText string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE scripts SET generated_text = ?, updated_at = NOW() WHERE id = ?`, generatedText, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceGenerated overwrites the generated text after a regeneration.
func (r *Repository) ReplaceGenerated(ctx context.Context, id string, generatedText string) error {
	return r.UpdateText(ctx, id, generatedText)
}

// AttachAudio stores the uploaded audio location on the script.
func (r *Repository) AttachAudio(ctx context.Context, id, url, filename string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE scripts SET audio_url = ?, audio_filename = ?, updated_at = NOW() WHERE id = ?`, url, filename, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM scripts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
