package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/PatientETL/internal/core"
	"github.com/JonMunkholm/PatientETL/internal/logging"
)

// CanonicalStore is fhir_patient, keyed by the content-addressed id.
type CanonicalStore struct {
	batchSize int
	logger    *slog.Logger
}

// NewCanonicalStore returns a store that commits every batchSize records.
func NewCanonicalStore(batchSize int, logger *slog.Logger) *CanonicalStore {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &CanonicalStore{batchSize: batchSize, logger: logger}
}

// Upsert inserts each record unless its id already exists, and returns how
// many rows were actually inserted. Existing rows are never modified.
//
// Each batch is its own transaction. On a persistence error the current
// batch is rolled back and the error returned; earlier batches stay
// committed.
func (s *CanonicalStore) Upsert(ctx context.Context, db DB, records []core.CanonicalRecord) (int64, error) {
	logger := logging.FromContext(ctx, s.logger)

	var inserted int64
	for start := 0; start < len(records); start += s.batchSize {
		end := min(start+s.batchSize, len(records))
		batch := records[start:end]

		var n int64
		err := withTx(ctx, db, func(tx pgx.Tx) error {
			var err error
			n, err = insertIfAbsent(ctx, tx, batch)
			return err
		})
		if err != nil {
			return inserted, core.WriteError(fmt.Sprintf("upsert canonical batch %d-%d", start, end-1), err)
		}

		inserted += n
		logger.Debug("canonical batch committed",
			"from", start,
			"to", end-1,
			"inserted", n,
			"skipped", int64(len(batch))-n,
		)
	}

	return inserted, nil
}

func insertIfAbsent(ctx context.Context, tx pgx.Tx, batch []core.CanonicalRecord) (int64, error) {
	var n int64
	for _, rec := range batch {
		query, args, err := buildCanonicalInsert(rec)
		if err != nil {
			return 0, err
		}
		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("insert %s: %w", rec.ID, err)
		}
		n += tag.RowsAffected()
	}
	return n, nil
}

func buildCanonicalInsert(rec core.CanonicalRecord) (string, []any, error) {
	query, args, err := psql.
		Insert(core.CanonicalTable).
		Columns(core.CanonicalColumns...).
		Values(rec.Values()...).
		Suffix("ON CONFLICT (id) DO NOTHING").
		ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build canonical insert: %w", err)
	}
	return query, args, nil
}
