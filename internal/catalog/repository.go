package catalog

import (
	"context"
	"database/sql"
	"fmt"
)

// Repository answers existence checks for payable entities. The catalog
// itself (course content, event details, plan pricing) is owned elsewhere;
// payments only need to know the referenced entity is real.
type Repository interface {
	Exists(ctx context.Context, entityType, entityID string) (bool, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Exists(ctx context.Context, entityType, entityID string) (bool, error) {
	table, err := tableFor(entityType)
	if err != nil {
		return false, err
	}

	var exists bool
	err = r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM `+table+` WHERE id = $1)`,
		entityID,
	).Scan(&exists)
	if err != nil {
		return false, err
	}

	return exists, nil
}

func tableFor(entityType string) (string, error) {
	switch entityType {
	case "course":
		return "courses", nil
	case "event":
		return "events", nil
	case "subscription":
		return "subscription_plans", nil
	default:
		return "", fmt.Errorf("unknown entity type: %s", entityType)
	}
}
