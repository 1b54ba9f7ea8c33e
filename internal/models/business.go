package models

import (
	"encoding/json"
	"time"
)

// Location is a resolved WGS84 coordinate pair. The engine never geocodes;
// collaborators hand it already-resolved coordinates.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// BusinessStatus tracks certification progress. Only admin action moves it.
type BusinessStatus string

const (
	BusinessPending   BusinessStatus = "pending"
	BusinessCertified BusinessStatus = "certified"
	BusinessRejected  BusinessStatus = "rejected"
)

// Business is a registered establishment awaiting audit and supply.
// Location is immutable once set; moving requires re-registration.
type Business struct {
	ID                 string          `json:"id"`
	Location           Location        `json:"location"`
	Category           string          `json:"category"`
	RegisteredAt       time.Time       `json:"registered_at"`
	Status             BusinessStatus  `json:"status"`
	CertificationScore *float64        `json:"certification_score,omitempty"`
	ChecklistSchema    json.RawMessage `json:"checklist_schema,omitempty"` // category data contract, shape validated at submission
}
