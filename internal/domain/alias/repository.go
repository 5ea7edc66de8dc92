package alias

import "context"

// Repository is the Alias Index's durable storage contract: atomic
// per-alias writes, unique (kind, normalized_value), and conflict
// detection rather than silent overwrite.
type Repository interface {
	// Resolve looks up paper_id for (kind, normalizedValue). Returns
	// ("", false, nil) on a clean miss.
	Resolve(ctx context.Context, kind Kind, normalizedValue string) (paperID string, found bool, err error)
	// Record writes aliases for paperID. Each alias whose (kind,
	// normalizedValue) already points at a different paper is reported
	// in the returned conflicts slice rather than overwritten; all other
	// aliases are recorded regardless.
	Record(ctx context.Context, paperID string, aliases []Alias) (conflicts []Alias, err error)
	// AliasesOf lists every alias recorded against paperID.
	AliasesOf(ctx context.Context, paperID string) ([]Alias, error)
}
