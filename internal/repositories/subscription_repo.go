package repositories

import (
	"context"
	"time"

	"talecraft/internal/models"
)

type SubscriptionRepository interface {
	Create(ctx context.Context, sub *models.Subscription) error
	GetByID(ctx context.Context, id string) (*models.Subscription, error)
	GetByEmailAndID(ctx context.Context, email, id string) (*models.Subscription, error)
	Update(ctx context.Context, sub *models.Subscription) error
	Delete(ctx context.Context, id string) error
	ListByEmail(ctx context.Context, email string) ([]*models.Subscription, error)
	GetAccessHolder(ctx context.Context, email string) (*models.Subscription, error)
	HasAccess(ctx context.Context, email string) (bool, error)
	HasNewerActive(ctx context.Context, email string, subscribedAfter time.Time) (bool, error)
	DeletePendingByEmail(ctx context.Context, email string) (int64, error)
	DeleteStalePending(ctx context.Context, email string, cutoff time.Time) (int64, error)
	DeleteStalePendingBefore(ctx context.Context, cutoff time.Time) (int64, error)
	ExpireDue(ctx context.Context, now time.Time) ([]*models.Subscription, error)
}

type subscriptionRepo struct {
	db Database
}

func NewSubscriptionRepo(db Database) SubscriptionRepository {
	return &subscriptionRepo{db: db}
}

const subscriptionColumns = `id, email, subscription_type, status, duration_magnitude, duration_unit, subscribed_at, start_date, end_date`

func (r *subscriptionRepo) Create(ctx context.Context, sub *models.Subscription) error {
	query := `
		INSERT INTO subscriptions (id, email, subscription_type, status, duration_magnitude, duration_unit, subscribed_at, start_date, end_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.Exec(ctx, query, sub.ID, sub.Email, sub.SubscriptionType, sub.Status,
		sub.Duration.Magnitude, sub.Duration.Unit, sub.SubscribedAt, sub.StartDate, sub.EndDate)
	return translateErr(err)
}

func (r *subscriptionRepo) GetByID(ctx context.Context, id string) (*models.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE id = $1
	`
	return r.scanOne(r.db.QueryRow(ctx, query, id))
}

func (r *subscriptionRepo) GetByEmailAndID(ctx context.Context, email, id string) (*models.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE email = $1 AND id = $2
	`
	return r.scanOne(r.db.QueryRow(ctx, query, email, id))
}

func (r *subscriptionRepo) Update(ctx context.Context, sub *models.Subscription) error {
	query := `
		UPDATE subscriptions
		SET status = $1, duration_magnitude = $2, duration_unit = $3, start_date = $4, end_date = $5
		WHERE id = $6
	`
	tag, err := r.db.Exec(ctx, query, sub.Status, sub.Duration.Magnitude, sub.Duration.Unit,
		sub.StartDate, sub.EndDate, sub.ID)
	if err != nil {
		return translateErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *subscriptionRepo) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM subscriptions WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return translateErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *subscriptionRepo) ListByEmail(ctx context.Context, email string) ([]*models.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE email = $1
		ORDER BY subscribed_at DESC
	`
	rows, err := r.db.Query(ctx, query, email)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()
	return r.scanAll(rows)
}

// GetAccessHolder returns the single record that currently grants access for
// the email, or ErrNotFound. The partial unique index on (email) over
// access-granting statuses guarantees there is at most one.
func (r *subscriptionRepo) GetAccessHolder(ctx context.Context, email string) (*models.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE email = $1 AND status IN ($2, $3)
	`
	return r.scanOne(r.db.QueryRow(ctx, query, email, models.StatusActive, models.StatusCancelled))
}

func (r *subscriptionRepo) HasAccess(ctx context.Context, email string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM subscriptions
			WHERE email = $1 AND status IN ($2, $3)
		)
	`
	var exists bool
	err := r.db.QueryRow(ctx, query, email, models.StatusActive, models.StatusCancelled).Scan(&exists)
	if err != nil {
		return false, translateErr(err)
	}
	return exists, nil
}

func (r *subscriptionRepo) HasNewerActive(ctx context.Context, email string, subscribedAfter time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM subscriptions
			WHERE email = $1 AND status = $2 AND subscribed_at > $3
		)
	`
	var exists bool
	err := r.db.QueryRow(ctx, query, email, models.StatusActive, subscribedAfter).Scan(&exists)
	if err != nil {
		return false, translateErr(err)
	}
	return exists, nil
}

func (r *subscriptionRepo) DeletePendingByEmail(ctx context.Context, email string) (int64, error) {
	query := `DELETE FROM subscriptions WHERE email = $1 AND status = $2`
	tag, err := r.db.Exec(ctx, query, email, models.StatusPending)
	if err != nil {
		return 0, translateErr(err)
	}
	return tag.RowsAffected(), nil
}

func (r *subscriptionRepo) DeleteStalePending(ctx context.Context, email string, cutoff time.Time) (int64, error) {
	query := `DELETE FROM subscriptions WHERE email = $1 AND status = $2 AND subscribed_at < $3`
	tag, err := r.db.Exec(ctx, query, email, models.StatusPending, cutoff)
	if err != nil {
		return 0, translateErr(err)
	}
	return tag.RowsAffected(), nil
}

func (r *subscriptionRepo) DeleteStalePendingBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM subscriptions WHERE status = $1 AND subscribed_at < $2`
	tag, err := r.db.Exec(ctx, query, models.StatusPending, cutoff)
	if err != nil {
		return 0, translateErr(err)
	}
	return tag.RowsAffected(), nil
}

// ExpireDue flips every lapsed access-granting record to inactive in one
// conditional statement and returns the flipped records. The status filter in
// the WHERE clause keeps the sweep race-safe against concurrent cancellations:
// it only ever moves records forward.
func (r *subscriptionRepo) ExpireDue(ctx context.Context, now time.Time) ([]*models.Subscription, error) {
	query := `
		UPDATE subscriptions
		SET status = $1
		WHERE status IN ($2, $3) AND end_date IS NOT NULL AND end_date < $4
		RETURNING ` + subscriptionColumns + `
	`
	rows, err := r.db.Query(ctx, query, models.StatusInactive, models.StatusActive, models.StatusCancelled, now)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()
	return r.scanAll(rows)
}

func (r *subscriptionRepo) scanOne(row interface{ Scan(dest ...any) error }) (*models.Subscription, error) {
	sub := &models.Subscription{}
	var unit string
	err := row.Scan(&sub.ID, &sub.Email, &sub.SubscriptionType, &sub.Status,
		&sub.Duration.Magnitude, &unit, &sub.SubscribedAt, &sub.StartDate, &sub.EndDate)
	if err != nil {
		return nil, translateErr(err)
	}
	sub.Duration.Unit = models.DurationUnit(unit)
	return sub, nil
}

func (r *subscriptionRepo) scanAll(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]*models.Subscription, error) {
	var subs []*models.Subscription
	for rows.Next() {
		sub := &models.Subscription{}
		var unit string
		if err := rows.Scan(&sub.ID, &sub.Email, &sub.SubscriptionType, &sub.Status,
			&sub.Duration.Magnitude, &unit, &sub.SubscribedAt, &sub.StartDate, &sub.EndDate); err != nil {
			return nil, translateErr(err)
		}
		sub.Duration.Unit = models.DurationUnit(unit)
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, translateErr(err)
	}
	return subs, nil
}
