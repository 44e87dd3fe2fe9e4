package oeis

// ChangeDetector decides whether a freshly fetched record needs a write. It
// is kept apart from the store so revision semantics are testable without
// storage. Revision markers are opaque tokens; only (in)equality matters.
type ChangeDetector struct{}

// NewChangeDetector constructs a ChangeDetector.
func NewChangeDetector() *ChangeDetector {
	return &ChangeDetector{}
}

// NeedsUpdate reports whether the fresh revision differs from what is stored.
// A record that was never stored always needs an update.
func (ChangeDetector) NeedsUpdate(existing *string, freshRevision string) bool {
	if existing == nil {
		return true
	}
	return *existing != freshRevision
}
