package outbox

// Status values for outbox rows. Rows are written pending inside the same
// transaction as the state change and flipped to published by the relay.
const (
	StatusPending   = "pending"
	StatusPublished = "published"
)
