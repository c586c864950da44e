package round

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mcdev12/roundsync/go/internal/models"
	"github.com/mcdev12/roundsync/go/internal/round/db"
)

// SQLCatalog reads candidates from the content_items table.
type SQLCatalog struct {
	queries *db.Queries
}

func NewSQLCatalog(conn *sql.DB) *SQLCatalog {
	return &SQLCatalog{queries: db.New(conn)}
}

func (c *SQLCatalog) ListCandidates(ctx context.Context, cons Constraints) ([]string, error) {
	ids, err := c.queries.ListContentCandidates(ctx, db.ListContentCandidatesParams{
		Categories:    cons.Categories,
		MaxDifficulty: int32(cons.MaxDifficulty),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list content candidates: %w", err)
	}
	return ids, nil
}

// MemoryCatalog filters a fixed item list.
type MemoryCatalog struct {
	items []models.ContentItem
}

func NewMemoryCatalog(items []models.ContentItem) *MemoryCatalog {
	return &MemoryCatalog{items: append([]models.ContentItem{}, items...)}
}

func (c *MemoryCatalog) ListCandidates(_ context.Context, cons Constraints) ([]string, error) {
	allowed := make(map[string]bool, len(cons.Categories))
	for _, cat := range cons.Categories {
		allowed[cat] = true
	}

	var ids []string
	for _, item := range c.items {
		if !item.Active {
			continue
		}
		if len(allowed) > 0 && !allowed[item.Category] {
			continue
		}
		if cons.MaxDifficulty > 0 && item.Difficulty > cons.MaxDifficulty {
			continue
		}
		ids = append(ids, item.ID)
	}
	return ids, nil
}
