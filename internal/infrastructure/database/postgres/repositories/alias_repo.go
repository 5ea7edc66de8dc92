package repositories

import (
	"context"
	"database/sql"

	"github.com/turtacn/paperd/internal/domain/alias"
	"github.com/turtacn/paperd/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/paperd/pkg/errors"
)

// AliasRepository is the Postgres-backed Alias Index: a single table with a
// unique (kind, normalized_value) pair and a secondary index on paper_id.
// Writes never repoint an existing alias at a different paper; such
// attempts are reported as conflicts and the stored target is kept.
type AliasRepository struct {
	db     queryExecutor
	logger logging.Logger
}

// NewAliasRepository builds an AliasRepository over db, which may be a
// *sql.DB or a transaction.
func NewAliasRepository(db queryExecutor, log logging.Logger) *AliasRepository {
	return &AliasRepository{db: db, logger: log.Named("alias-repo")}
}

var _ alias.Repository = (*AliasRepository)(nil)

const resolveQuery = `
SELECT paper_id
FROM paper_aliases
WHERE kind = $1 AND normalized_value = $2`

// Resolve looks up the canonical paper id for one alias.  A clean miss is
// ("", false, nil).
func (r *AliasRepository) Resolve(ctx context.Context, kind alias.Kind, normalizedValue string) (string, bool, error) {
	var paperID string
	err := r.db.QueryRowContext(ctx, resolveQuery, string(kind), normalizedValue).Scan(&paperID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, errors.ErrCodeDatabaseError, "alias resolve failed")
	}
	return paperID, true, nil
}

const insertAliasQuery = `
INSERT INTO paper_aliases (kind, normalized_value, paper_id, created_at, updated_at)
VALUES ($1, $2, $3, NOW(), NOW())
ON CONFLICT (kind, normalized_value) DO NOTHING`

// Record writes aliases for paperID atomically per alias.  Each alias
// already bound to a different paper is returned in conflicts (bearing the
// stored target) and left untouched; the remaining aliases are recorded
// regardless, so one conflicting external id never blocks the rest.
func (r *AliasRepository) Record(ctx context.Context, paperID string, aliases []alias.Alias) ([]alias.Alias, error) {
	var conflicts []alias.Alias
	for _, a := range aliases {
		res, err := r.db.ExecContext(ctx, insertAliasQuery, string(a.Kind), a.NormalizedValue, paperID)
		if err != nil {
			return conflicts, errors.Wrap(err, errors.ErrCodeDatabaseError, "alias insert failed")
		}
		inserted, err := res.RowsAffected()
		if err != nil {
			return conflicts, errors.Wrap(err, errors.ErrCodeDatabaseError, "alias insert result unavailable")
		}
		if inserted > 0 {
			continue
		}
		// The pair exists; only a different target is a conflict.
		existing, found, err := r.Resolve(ctx, a.Kind, a.NormalizedValue)
		if err != nil {
			return conflicts, err
		}
		if found && existing != paperID {
			r.logger.Warn("alias conflict",
				logging.String("kind", string(a.Kind)),
				logging.String("value", a.NormalizedValue),
				logging.String("existing_paper_id", existing),
				logging.String("attempted_paper_id", paperID))
			conflicts = append(conflicts, alias.Alias{
				Kind:            a.Kind,
				NormalizedValue: a.NormalizedValue,
				PaperID:         existing,
			})
		}
	}
	return conflicts, nil
}

const aliasesOfQuery = `
SELECT kind, normalized_value
FROM paper_aliases
WHERE paper_id = $1
ORDER BY kind, normalized_value`

// AliasesOf lists every alias recorded against paperID.
func (r *AliasRepository) AliasesOf(ctx context.Context, paperID string) ([]alias.Alias, error) {
	rows, err := r.db.QueryContext(ctx, aliasesOfQuery, paperID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "alias listing failed")
	}
	defer rows.Close()

	var out []alias.Alias
	for rows.Next() {
		var kind, value string
		if err := rows.Scan(&kind, &value); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "alias row scan failed")
		}
		out = append(out, alias.Alias{Kind: alias.Kind(kind), NormalizedValue: value, PaperID: paperID})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "alias row iteration failed")
	}
	return out, nil
}
