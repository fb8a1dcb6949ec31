package repositories

import (
	"context"
)

// UserRepository is the slice of the user store the lifecycle manager touches:
// the AI-model entitlement column. Account management lives elsewhere.
type UserRepository interface {
	UpdateModel(ctx context.Context, email, model string) error
}

type userRepo struct {
	db Database
}

func NewUserRepo(db Database) UserRepository {
	return &userRepo{db: db}
}

func (r *userRepo) UpdateModel(ctx context.Context, email, model string) error {
	query := `
		UPDATE users
		SET model = $1, updated_at = NOW()
		WHERE email = $2
	`
	tag, err := r.db.Exec(ctx, query, model, email)
	if err != nil {
		return translateErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
