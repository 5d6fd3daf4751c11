package model

import "time"

// AuditEntry records a privileged or state-changing action.
type AuditEntry struct {
	ID         int64     `json:"id"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	ActorID    *int64    `json:"actor_id,omitempty"`
	Details    string    `json:"details,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Audited entity types.
const (
	EntityItem    = "item"
	EntityHandoff = "handoff"
	EntityUser    = "user"
)

// Audit actions.
const (
	AuditPairingDeclined  = "pairing_declined"
	AuditPairingConfirmed = "pairing_confirmed"
	AuditItemStatus       = "item_status_changed"
	AuditHandoffCreated   = "handoff_created"
	AuditHandoffReset     = "handoff_reset"
	AuditHandoffCompleted = "handoff_completed"
	AuditUserCreated      = "user_created"
	AuditUserRole         = "user_role_changed"
	AuditUserDeleted      = "user_deleted"
)
