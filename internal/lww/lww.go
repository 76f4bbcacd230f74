// Package lww holds the whole-record last-write-wins rule shared by the
// server reconciliation service and the client pull merge.
package lww

// Versioned is anything carrying client-supplied epoch millisecond stamps.
// A zero value means the stamp is absent.
type Versioned interface {
	CreatedAtMillis() int64
	UpdatedAtMillis() int64
}

// Recency returns updatedAt, falling back to createdAt and then to fallback.
func Recency(v Versioned, fallback int64) int64 {
	if u := v.UpdatedAtMillis(); u != 0 {
		return u
	}
	if c := v.CreatedAtMillis(); c != 0 {
		return c
	}
	return fallback
}

// ShouldApply reports whether incoming replaces existing. An incoming write
// without stamps counts as happening at now, an existing one as time zero.
// Ties go to the incoming write.
func ShouldApply(incoming, existing Versioned, now int64) bool {
	return Recency(incoming, now) >= Recency(existing, 0)
}

// Stamps is a plain Versioned value.
type Stamps struct {
	CreatedAt int64
	UpdatedAt int64
}

func (s Stamps) CreatedAtMillis() int64 { return s.CreatedAt }
func (s Stamps) UpdatedAtMillis() int64 { return s.UpdatedAt }
