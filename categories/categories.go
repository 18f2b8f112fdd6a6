package categories

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Category is a suggested script theme shown in the generator UI. Display
// only: generation requests may reference any category string.
type Category struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository { return &Repository{db: db} }

func (r *Repository) All() ([]Category, error) {
	rows, err := r.db.Query(`SELECT id, name, description, created_at FROM script_categories ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := make([]Category, 0)
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

type Handler struct {
	repo *Repository
}

func NewHandler(r *Repository) *Handler { return &Handler{repo: r} }

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/categories", h.list)
}

func (h *Handler) list(c *gin.Context) {
	items, err := h.repo.All()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}
