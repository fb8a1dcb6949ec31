package models

// Offer is a purchasable subscription plan. Offers are read-only to the
// lifecycle manager; subscription records copy the offer name at creation time
// so historical records survive later plan edits.
type Offer struct {
	OfferID     string   `json:"offer_id" db:"offer_id"`
	OfferName   string   `json:"offer_name" db:"offer_name"`
	Description string   `json:"description" db:"description"`
	Price       float64  `json:"price" db:"price"`
	Duration    Duration `json:"duration" db:"duration"`
}
