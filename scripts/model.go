package scripts

import "time"

// Script is one generated short-form video script.
type Script struct {
	ID            string    `json:"id"`
	UserID        int       `json:"user_id"`
	PromptText    string    `json:"prompt_text"`
	GeneratedText string    `json:"generated_text"`
	Category      string    `json:"category,omitempty"`
	Tags          string    `json:"tags,omitempty"`
	AudioURL      string    `json:"audio_url,omitempty"`
	AudioFilename string    `json:"audio_filename,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
