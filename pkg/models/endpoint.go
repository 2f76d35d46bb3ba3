package models

import "time"

// EndpointRouting is the data-plane routing record discovered from the Hub.
// CryptoURL is the Engine base used by the crypto client; it is opaque here
// and validated against the Hub control segment before admission.
type EndpointRouting struct {
	CryptoURL string    `json:"cryptoUrl"`
	HubID     string    `json:"hubId,omitempty"`
	Version   uint64    `json:"version"`
	StatsURL  string    `json:"statsUrl,omitempty"`
	SavedAt   time.Time `json:"savedAt,omitempty"`
}
