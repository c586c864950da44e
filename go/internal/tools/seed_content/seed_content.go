package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcdev12/roundsync/go/internal/dbconfig"
	"github.com/mcdev12/roundsync/go/internal/models"
)

func main() {
	path := flag.String("file", "go/internal/assets/content.json", "content catalog snapshot")
	flag.Parse()
	ctx := context.Background()

	// 1) Load the JSON snapshot
	data, err := os.ReadFile(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read JSON: %v\n", err)
		os.Exit(1)
	}
	var items []models.ContentItem
	if err := json.Unmarshal(data, &items); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal JSON: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig
	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 3) Upsert and count
	var (
		total    = len(items)
		inserted int
		updated  int
		errs     int
	)

	for _, item := range items {
		if item.ID == "" || item.Category == "" {
			fmt.Fprintf(os.Stderr, "skipping item without id or category: %+v\n", item)
			errs++
			continue
		}

		var wasInsert bool
		err := pool.QueryRow(ctx, `
            INSERT INTO content_items (id, category, difficulty, active)
            VALUES ($1, $2, $3, $4)
            ON CONFLICT (id) DO UPDATE
              SET category = EXCLUDED.category,
                  difficulty = EXCLUDED.difficulty,
                  active = EXCLUDED.active
            RETURNING (xmax = 0)
        `,
			item.ID, item.Category, item.Difficulty, item.Active,
		).Scan(&wasInsert)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error upserting content %s: %v\n", item.ID, err)
			errs++
			continue
		}
		if wasInsert {
			inserted++
		} else {
			updated++
		}
	}

	// 4) Print summary
	fmt.Printf(
		"Content seed complete: %d total, %d inserted, %d updated, %d errors\n",
		total, inserted, updated, errs,
	)
}
