package domain

// Paste is the stored record. Timestamps are milliseconds since the Unix
// epoch. A nil ExpiresAt never expires by time, a nil MaxViews allows
// unlimited reads.
type Paste struct {
	ID        string `json:"id" bson:"id"`
	Content   string `json:"content" bson:"content"`
	CreatedAt int64  `json:"created_at" bson:"created_at"`
	ExpiresAt *int64 `json:"expires_at" bson:"expires_at"`
	MaxViews  *int64 `json:"max_views" bson:"max_views"`
	ViewsUsed int64  `json:"views_used" bson:"views_used"`
}

// CreateParams is validated creation input. Now is the creation timestamp
// in milliseconds, supplied by the caller so tests can pin the clock.
type CreateParams struct {
	Content    string
	TTLSeconds *int64
	MaxViews   *int64
	Now        int64
}

// View is what a successful read hands back to the caller.
type View struct {
	Content        string
	RemainingViews *int64
	ExpiresAt      *int64
}

func Int64(v int64) *int64 {
	return &v
}
