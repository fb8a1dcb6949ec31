package repositories

import (
	"context"

	"talecraft/internal/models"
)

// OfferRepository reads the subscription plan catalog. Offers are managed out
// of band (seed data / admin tooling), so there are no write methods here.
type OfferRepository interface {
	List(ctx context.Context) ([]*models.Offer, error)
	GetByID(ctx context.Context, offerID string) (*models.Offer, error)
}

type offerRepo struct {
	db Database
}

func NewOfferRepo(db Database) OfferRepository {
	return &offerRepo{db: db}
}

func (r *offerRepo) List(ctx context.Context) ([]*models.Offer, error) {
	query := `
		SELECT offer_id, offer_name, description, price, duration_magnitude, duration_unit
		FROM offers
		ORDER BY price ASC
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var offers []*models.Offer
	for rows.Next() {
		offer := &models.Offer{}
		var unit string
		if err := rows.Scan(&offer.OfferID, &offer.OfferName, &offer.Description,
			&offer.Price, &offer.Duration.Magnitude, &unit); err != nil {
			return nil, translateErr(err)
		}
		offer.Duration.Unit = models.DurationUnit(unit)
		offers = append(offers, offer)
	}
	if err := rows.Err(); err != nil {
		return nil, translateErr(err)
	}
	return offers, nil
}

func (r *offerRepo) GetByID(ctx context.Context, offerID string) (*models.Offer, error) {
	query := `
		SELECT offer_id, offer_name, description, price, duration_magnitude, duration_unit
		FROM offers
		WHERE offer_id = $1
	`
	offer := &models.Offer{}
	var unit string
	err := r.db.QueryRow(ctx, query, offerID).Scan(&offer.OfferID, &offer.OfferName,
		&offer.Description, &offer.Price, &offer.Duration.Magnitude, &unit)
	if err != nil {
		return nil, translateErr(err)
	}
	offer.Duration.Unit = models.DurationUnit(unit)
	return offer, nil
}
