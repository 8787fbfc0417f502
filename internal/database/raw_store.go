package database

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/PatientETL/internal/core"
)

// WriteMode selects how raw records reach raw_patient.
type WriteMode string

const (
	// WriteCopy streams rows with the COPY protocol.
	WriteCopy WriteMode = "copy"
	// WriteInsert sends multi-row INSERT statements.
	WriteInsert WriteMode = "insert"
)

// ParseWriteMode maps a config value to a WriteMode, defaulting to copy.
func ParseWriteMode(s string) WriteMode {
	if strings.EqualFold(s, string(WriteInsert)) {
		return WriteInsert
	}
	return WriteCopy
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// RawStore is the append-only staging table raw_patient.
type RawStore struct {
	mode  WriteMode
	chunk int
}

// NewRawStore returns a store writing with mode. chunk bounds the rows per
// INSERT statement in insert mode and is clamped to core.MaxRawInsertChunk.
func NewRawStore(mode WriteMode, chunk int) *RawStore {
	if chunk <= 0 {
		chunk = 500
	}
	chunk = min(chunk, core.MaxRawInsertChunk)
	return &RawStore{mode: mode, chunk: chunk}
}

// Append writes records to raw_patient in one transaction and returns the
// number of rows written. Either every record lands or none does.
func (s *RawStore) Append(ctx context.Context, db DB, records []core.RawRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	var written int64
	err := withTx(ctx, db, func(tx pgx.Tx) error {
		var err error
		if s.mode == WriteInsert {
			written, err = s.insertRows(ctx, tx, records)
		} else {
			written, err = copyRows(ctx, tx, records)
		}
		return err
	})
	if err != nil {
		return 0, core.WriteError("append raw records", err)
	}

	return written, nil
}

func copyRows(ctx context.Context, tx pgx.Tx, records []core.RawRecord) (int64, error) {
	n, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{core.RawTable},
		core.ColumnNames(core.RawColumns),
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			return records[i].Values(), nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("copy into %s: %w", core.RawTable, err)
	}
	return n, nil
}

func (s *RawStore) insertRows(ctx context.Context, tx pgx.Tx, records []core.RawRecord) (int64, error) {
	var total int64
	for start := 0; start < len(records); start += s.chunk {
		end := min(start+s.chunk, len(records))

		query, args, err := buildRawInsert(records[start:end])
		if err != nil {
			return 0, err
		}

		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("insert into %s rows %d-%d: %w", core.RawTable, start, end-1, err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

func buildRawInsert(records []core.RawRecord) (string, []any, error) {
	b := psql.Insert(core.RawTable).Columns(core.ColumnNames(core.RawColumns)...)
	for _, r := range records {
		b = b.Values(r.Values()...)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build raw insert: %w", err)
	}
	return query, args, nil
}

// FetchAll reads the columns the canonical projection needs from every
// staged row.
func (s *RawStore) FetchAll(ctx context.Context, db DB) ([]core.RawRecord, error) {
	query, args, err := psql.Select(core.TransformColumns...).From(core.RawTable).ToSql()
	if err != nil {
		return nil, core.StoreReadError("build raw select", err)
	}

	var records []core.RawRecord
	if err := pgxscan.Select(ctx, db, &records, query, args...); err != nil {
		return nil, core.StoreReadError("fetch raw records", err)
	}
	return records, nil
}
