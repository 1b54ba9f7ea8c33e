package models

import "time"

// Review is a customer review as delivered by the review surface. The
// fingerprint identifies the author's device or IP for duplicate detection.
type Review struct {
	ID                string    `json:"id"`
	BusinessID        string    `json:"business_id"`
	AuthorFingerprint string    `json:"author_fingerprint"`
	Rating            int       `json:"rating"`
	CreatedAt         time.Time `json:"created_at"`
}
