package database

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/PatientETL/internal/core"
)

// StoreCounts holds the row count of each store.
type StoreCounts struct {
	Raw       int64 `json:"raw_patient"`
	Canonical int64 `json:"fhir_patient"`
}

// CountRows returns the number of rows in table.
func CountRows(ctx context.Context, db DB, table string) (int64, error) {
	query, args, err := psql.Select("count(*)").From(table).ToSql()
	if err != nil {
		return 0, core.StoreReadError("build count", err)
	}

	var n int64
	if err := db.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, core.StoreReadError(fmt.Sprintf("count %s", table), err)
	}
	return n, nil
}

// Counts returns the row counts of raw_patient and fhir_patient.
func Counts(ctx context.Context, db DB) (StoreCounts, error) {
	var c StoreCounts
	var err error
	if c.Raw, err = CountRows(ctx, db, core.RawTable); err != nil {
		return StoreCounts{}, err
	}
	if c.Canonical, err = CountRows(ctx, db, core.CanonicalTable); err != nil {
		return StoreCounts{}, err
	}
	return c, nil
}
