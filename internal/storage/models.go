package storage

import "time"

// Entity is one monitored store/account pairing with its own timezone and
// polling schedule.
type Entity struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Recipient    string    `json:"recipient,omitempty"`
	Timezone     string    `json:"timezone"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	RadiusMeters int       `json:"radius_meters"`
	Enabled      bool      `json:"enabled"`
	Degraded     bool      `json:"degraded"`
	CreatedAt    time.Time `json:"created_at"`
}

// Schedule tracks per-entity poll bookkeeping. LastPoll is the last
// successful poll; NextPoll is when the entity is due again. Failures
// counts consecutive transient fetch failures since the last success.
type Schedule struct {
	EntityID string    `json:"entity_id"`
	LastPoll time.Time `json:"last_poll"`
	NextPoll time.Time `json:"next_poll"`
	Failures int       `json:"failures"`
	Mode     string    `json:"mode"`
}
