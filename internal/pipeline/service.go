// Package pipeline runs the two patient ETL jobs: ingest (file to
// raw_patient) and transform (raw_patient to fhir_patient).
//
// A run holds exactly one pooled connection from start to finish and gives
// it back on every exit path. Runs stop at the first failure; nothing is
// retried.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/PatientETL/internal/config"
	"github.com/JonMunkholm/PatientETL/internal/core"
	"github.com/JonMunkholm/PatientETL/internal/database"
	"github.com/JonMunkholm/PatientETL/internal/logging"
)

// IngestResult summarizes one ingest run.
type IngestResult struct {
	RunID     string             `json:"run_id"`
	FileName  string             `json:"file_name"`
	Bytes     int64              `json:"bytes"`
	RowsRead  int                `json:"rows_read"`
	BlankRows int                `json:"blank_rows"`
	Inserted  int64              `json:"inserted"`
	Sanitized core.SanitizeStats `json:"sanitized"`
	Duration  time.Duration      `json:"duration_ns"`
}

// TransformResult summarizes one transform run.
type TransformResult struct {
	RunID    string        `json:"run_id"`
	RowsRead int           `json:"rows_read"`
	Inserted int64         `json:"inserted"`
	Skipped  int64         `json:"skipped"` // ids already present
	Duration time.Duration `json:"duration_ns"`
}

// Service wires the source reader, sanitizer, transformer, and stores.
type Service struct {
	conn      database.Connector
	raw       *database.RawStore
	canonical *database.CanonicalStore
	sanitizer core.Sanitizer
	ingest    config.IngestConfig
	logger    *slog.Logger
}

// NewService creates a Service that takes connections from conn.
func NewService(conn database.Connector, cfg *config.Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{
		conn:      conn,
		raw:       database.NewRawStore(database.ParseWriteMode(cfg.Ingest.WriteMode), cfg.Ingest.InsertChunk),
		canonical: database.NewCanonicalStore(cfg.Transform.BatchSize, logger),
		sanitizer: core.Sanitizer{NormalizeStates: cfg.Ingest.NormalizeStates},
		ingest:    cfg.Ingest,
		logger:    logger,
	}
}

// IngestOptions overrides per-run ingest settings.
type IngestOptions struct {
	// Strict forces strict validation on even when INGEST_STRICT is off.
	Strict bool
}

// Ingest reads fileName from the input directory, sanitizes its rows, and
// appends them to raw_patient. The append is all-or-nothing.
func (s *Service) Ingest(ctx context.Context, fileName string, opts IngestOptions) (*IngestResult, error) {
	start := time.Now()
	runID := uuid.New().String()
	logger := logging.WithFields(ctx, s.logger, "run_id", runID, "job", "ingest", "file", fileName)
	ctx = logging.WithLogger(ctx, logger)

	logger.Info("ingest started")

	path, err := core.ResolvePath(s.ingest.InputDir, fileName)
	if err != nil {
		return nil, s.fail(logger, err)
	}

	enc, err := core.LookupEncoding(s.ingest.Encoding)
	if err != nil {
		return nil, s.fail(logger, core.FormatError("source encoding", err))
	}

	src, err := core.ReadFile(path, core.SourceOptions{
		Strict:      s.ingest.Strict || opts.Strict,
		Extension:   s.ingest.Extension,
		MinDataRows: s.ingest.MinDataRows,
		MaxFileSize: s.ingest.MaxFileSize,
		Encoding:    enc,
	})
	if err != nil {
		return nil, s.fail(logger, err)
	}
	if len(src.ExtraHeader) > 0 {
		logger.Warn("ignoring unknown columns", "columns", src.ExtraHeader)
	}

	records, stats := s.sanitizer.Clean(src.Records)
	logger.Debug("records sanitized",
		"rows", len(records),
		"birth_date_defaulted", stats.BirthDateDefaulted,
		"address_defaulted", stats.AddressDefaulted,
		"blood_type_nulled", stats.BloodTypeNulled,
		"state_nulled", stats.StateNulled,
		"email_nulled", stats.EmailNulled,
	)

	db, release, err := s.conn.Acquire(ctx)
	if err != nil {
		return nil, s.fail(logger, err)
	}
	defer release()

	inserted, err := s.raw.Append(ctx, db, records)
	if err != nil {
		return nil, s.fail(logger, err)
	}

	result := &IngestResult{
		RunID:     runID,
		FileName:  fileName,
		Bytes:     src.Bytes,
		RowsRead:  len(src.Records),
		BlankRows: src.BlankRows,
		Inserted:  inserted,
		Sanitized: stats,
		Duration:  time.Since(start),
	}
	logger.Info("ingest completed",
		"rows_read", result.RowsRead,
		"inserted", result.Inserted,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

// Transform projects every staged record into fhir_patient. Records whose
// id already exists are skipped, so running it again on unchanged staging
// inserts nothing.
func (s *Service) Transform(ctx context.Context) (*TransformResult, error) {
	start := time.Now()
	runID := uuid.New().String()
	logger := logging.WithFields(ctx, s.logger, "run_id", runID, "job", "transform")
	ctx = logging.WithLogger(ctx, logger)

	logger.Info("transform started")

	db, release, err := s.conn.Acquire(ctx)
	if err != nil {
		return nil, s.fail(logger, err)
	}
	defer release()

	raw, err := s.raw.FetchAll(ctx, db)
	if err != nil {
		return nil, s.fail(logger, err)
	}

	records := core.Transform(raw)

	inserted, err := s.canonical.Upsert(ctx, db, records)
	if err != nil {
		logger.Warn("canonical write stopped early", "committed", inserted)
		return nil, s.fail(logger, err)
	}

	result := &TransformResult{
		RunID:    runID,
		RowsRead: len(raw),
		Inserted: inserted,
		Skipped:  int64(len(records)) - inserted,
		Duration: time.Since(start),
	}
	logger.Info("transform completed",
		"rows_read", result.RowsRead,
		"inserted", result.Inserted,
		"skipped", result.Skipped,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

// Stats returns the current row count of each store.
func (s *Service) Stats(ctx context.Context) (database.StoreCounts, error) {
	db, release, err := s.conn.Acquire(ctx)
	if err != nil {
		return database.StoreCounts{}, err
	}
	defer release()

	return database.Counts(ctx, db)
}

// Ping reports whether the database is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

func (s *Service) fail(logger *slog.Logger, err error) error {
	msg := core.MapError(err)
	logger.Error("run failed", "error", err, "code", msg.Code)
	return err
}
