package model

import "time"

// DeclinedPairing excludes CandidateItemID from the match results of
// SourceItemID. Declines are honored in both directions.
type DeclinedPairing struct {
	SourceItemID    int64     `json:"source_item_id"`
	CandidateItemID int64     `json:"candidate_item_id"`
	DeclinedBy      *int64    `json:"declined_by,omitempty"`
	DeclinedAt      time.Time `json:"declined_at"`
}

// Pairing is a confirmed match between a lost and a found item. Each item
// takes part in at most one pairing, and handoffs are only opened for a
// confirmed pairing.
type Pairing struct {
	LostItemID  int64     `json:"lost_item_id"`
	FoundItemID int64     `json:"found_item_id"`
	ConfirmedBy *int64    `json:"confirmed_by,omitempty"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}
