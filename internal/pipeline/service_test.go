package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/PatientETL/internal/config"
	"github.com/JonMunkholm/PatientETL/internal/core"
	"github.com/JonMunkholm/PatientETL/internal/database"
	"github.com/JonMunkholm/PatientETL/internal/logging"
)

const patientHeader = "first_name,last_name,birth_date,gender,address,city,state,zip_code,phone_number,email," +
	"emergency_contact_name,emergency_contact_phone,blood_type,insurance_provider,insurance_number," +
	"marital_status,preferred_language,nationality,allergies,last_visit_date"

// mockConnector hands out one pgxmock pool and counts acquire/release pairs.
type mockConnector struct {
	db       database.DB
	err      error
	acquired int
	released int
}

func (m *mockConnector) Acquire(context.Context) (database.DB, func(), error) {
	if m.err != nil {
		return nil, nil, m.err
	}
	m.acquired++
	return m.db, func() { m.released++ }, nil
}

func (m *mockConnector) Ping(context.Context) error { return m.err }

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func testConfig(dir string) *config.Config {
	return &config.Config{
		Ingest: config.IngestConfig{
			InputDir:    dir,
			Extension:   ".csv",
			MinDataRows: 2,
			MaxFileSize: 1 << 20,
			WriteMode:   "copy",
			InsertChunk: 100,
		},
		Transform: config.TransformConfig{BatchSize: 100},
	}
}

func writeSource(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestService_Ingest(t *testing.T) {
	ctx := context.Background()

	t.Run("Should sanitize and append every row", func(t *testing.T) {
		dir := t.TempDir()
		writeSource(t, dir, "patients.csv", patientHeader+"\n"+
			"Ann,Lee,,F,,LA,California,,,not-an-email,,,X+,,,,,,,\n"+
			"Bo,Kim,1975-03-04,M,2 Elm,SF,CA,94000,555,bo@kim.org,,,O+,,,,,,,\n")

		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectBegin()
		mockPool.ExpectCopyFrom(pgx.Identifier{core.RawTable}, core.ColumnNames(core.RawColumns)).
			WillReturnResult(2)
		mockPool.ExpectCommit()

		conn := &mockConnector{db: mockPool}
		svc := NewService(conn, testConfig(dir), logging.Discard())

		res, err := svc.Ingest(ctx, "patients.csv", IngestOptions{})
		require.NoError(t, err)

		assert.NotEmpty(t, res.RunID)
		assert.Equal(t, "patients.csv", res.FileName)
		assert.Equal(t, 2, res.RowsRead)
		assert.Equal(t, int64(2), res.Inserted)
		assert.Equal(t, 1, res.Sanitized.BirthDateDefaulted)
		assert.Equal(t, 1, res.Sanitized.AddressDefaulted)
		assert.Equal(t, 1, res.Sanitized.BloodTypeNulled)
		assert.Equal(t, 1, res.Sanitized.StateNulled)
		assert.Equal(t, 1, res.Sanitized.EmailNulled)
		assert.Equal(t, 1, conn.acquired)
		assert.Equal(t, 1, conn.released)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Should fail with a source read error before connecting", func(t *testing.T) {
		conn := &mockConnector{}
		svc := NewService(conn, testConfig(t.TempDir()), logging.Discard())

		_, err := svc.Ingest(ctx, "missing.csv", IngestOptions{})
		assert.ErrorIs(t, err, core.ErrSourceRead)
		assert.Zero(t, conn.acquired)
	})

	t.Run("Should reject a non-UTF-8 file unless its encoding is set", func(t *testing.T) {
		dir := t.TempDir()
		writeSource(t, dir, "latin1.csv", patientHeader+"\n"+
			"Jos\xe9,Lee,1980-01-01,,,,,,,,,,,,,,,,,\n"+
			"Jos\xe8,Lee,1980-01-01,,,,,,,,,,,,,,,,,\n")

		conn := &mockConnector{}
		_, err := NewService(conn, testConfig(dir), logging.Discard()).Ingest(ctx, "latin1.csv", IngestOptions{})
		assert.ErrorIs(t, err, core.ErrSourceRead)
		assert.ErrorIs(t, err, core.ErrInvalidUTF8)
		assert.Equal(t, "SRC003", core.MapError(err).Code)
		assert.Zero(t, conn.acquired)

		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectBegin()
		mockPool.ExpectCopyFrom(pgx.Identifier{core.RawTable}, core.ColumnNames(core.RawColumns)).
			WillReturnResult(2)
		mockPool.ExpectCommit()

		cfg := testConfig(dir)
		cfg.Ingest.Encoding = "latin1"
		res, err := NewService(&mockConnector{db: mockPool}, cfg, logging.Discard()).Ingest(ctx, "latin1.csv", IngestOptions{})
		require.NoError(t, err)
		assert.Equal(t, 2, res.RowsRead)
		assert.Equal(t, int64(2), res.Inserted)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Should reject an unknown source encoding", func(t *testing.T) {
		dir := t.TempDir()
		writeSource(t, dir, "patients.csv", patientHeader+"\nAnn,Lee,,,,,,,,,,,,,,,,,,\n")

		cfg := testConfig(dir)
		cfg.Ingest.Encoding = "ebcdic"
		_, err := NewService(&mockConnector{}, cfg, logging.Discard()).Ingest(ctx, "patients.csv", IngestOptions{})
		assert.ErrorIs(t, err, core.ErrFormat)
	})

	t.Run("Should reject a header-only file in strict mode", func(t *testing.T) {
		dir := t.TempDir()
		writeSource(t, dir, "empty.csv", patientHeader+"\n")

		conn := &mockConnector{}
		svc := NewService(conn, testConfig(dir), logging.Discard())

		_, err := svc.Ingest(ctx, "empty.csv", IngestOptions{Strict: true})
		assert.ErrorIs(t, err, core.ErrFormat)
		assert.Contains(t, err.Error(), "too few data rows")
		assert.Zero(t, conn.acquired)
	})

	t.Run("Should reject a file missing columns", func(t *testing.T) {
		dir := t.TempDir()
		writeSource(t, dir, "short.csv", "first_name,last_name\nAnn,Lee\n")

		svc := NewService(&mockConnector{}, testConfig(dir), logging.Discard())

		_, err := svc.Ingest(ctx, "short.csv", IngestOptions{})
		assert.ErrorIs(t, err, core.ErrFormat)
	})

	t.Run("Should reject a path outside the input directory", func(t *testing.T) {
		svc := NewService(&mockConnector{}, testConfig(t.TempDir()), logging.Discard())

		_, err := svc.Ingest(ctx, "../secrets.csv", IngestOptions{})
		assert.ErrorIs(t, err, core.ErrFormat)
	})

	t.Run("Should surface a connection error", func(t *testing.T) {
		dir := t.TempDir()
		writeSource(t, dir, "patients.csv", patientHeader+"\nAnn,Lee,1980-01-01,,,,,,,,,,,,,,,,,\n")

		conn := &mockConnector{err: core.ConnectionError("acquire connection", errors.New("connection refused"))}
		svc := NewService(conn, testConfig(dir), logging.Discard())

		_, err := svc.Ingest(ctx, "patients.csv", IngestOptions{})
		assert.ErrorIs(t, err, core.ErrConnection)
	})

	t.Run("Should release the connection when the append fails", func(t *testing.T) {
		dir := t.TempDir()
		writeSource(t, dir, "patients.csv", patientHeader+"\nAnn,Lee,1980-01-01,,,,,,,,,,,,,,,,,\n")

		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectBegin()
		mockPool.ExpectCopyFrom(pgx.Identifier{core.RawTable}, core.ColumnNames(core.RawColumns)).
			WillReturnError(errors.New(`relation "raw_patient" does not exist`))
		mockPool.ExpectRollback()

		conn := &mockConnector{db: mockPool}
		svc := NewService(conn, testConfig(dir), logging.Discard())

		res, err := svc.Ingest(ctx, "patients.csv", IngestOptions{})
		assert.ErrorIs(t, err, core.ErrWrite)
		assert.Nil(t, res)
		assert.Equal(t, 1, conn.released)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestService_Transform(t *testing.T) {
	ctx := context.Background()
	birth := time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("Should insert new ids and skip existing ones", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		rows := mockPool.NewRows(core.TransformColumns).
			AddRow("Ann", "Lee", birth, "F", "1 Main", "555", "a@b.com", nil, nil, nil).
			AddRow("Ann", "Lee", birth, "F", "1 Main", "555", "a@b.com", nil, nil, nil)
		mockPool.ExpectQuery("FROM raw_patient").WillReturnRows(rows)
		mockPool.ExpectBegin()
		mockPool.ExpectExec("INSERT INTO fhir_patient").
			WithArgs(pgxmock.AnyArg(), "Ann Lee", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec("INSERT INTO fhir_patient").
			WithArgs(anyArgs(len(core.CanonicalColumns))...).
			WillReturnResult(pgxmock.NewResult("INSERT", 0))
		mockPool.ExpectCommit()

		conn := &mockConnector{db: mockPool}
		svc := NewService(conn, testConfig(t.TempDir()), logging.Discard())

		res, err := svc.Transform(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, res.RowsRead)
		assert.Equal(t, int64(1), res.Inserted)
		assert.Equal(t, int64(1), res.Skipped)
		assert.Equal(t, 1, conn.released)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Should do nothing when staging is empty", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectQuery("FROM raw_patient").
			WillReturnRows(mockPool.NewRows(core.TransformColumns))

		svc := NewService(&mockConnector{db: mockPool}, testConfig(t.TempDir()), logging.Discard())

		res, err := svc.Transform(ctx)
		require.NoError(t, err)
		assert.Zero(t, res.RowsRead)
		assert.Zero(t, res.Inserted)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Should fail with a store read error", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectQuery("FROM raw_patient").WillReturnError(errors.New("permission denied"))

		conn := &mockConnector{db: mockPool}
		svc := NewService(conn, testConfig(t.TempDir()), logging.Discard())

		_, err = svc.Transform(ctx)
		assert.ErrorIs(t, err, core.ErrStoreRead)
		assert.Equal(t, 1, conn.released)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Should fail with a write error", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		rows := mockPool.NewRows(core.TransformColumns).
			AddRow("Ann", "Lee", birth, nil, "1 Main", nil, nil, nil, nil, nil)
		mockPool.ExpectQuery("FROM raw_patient").WillReturnRows(rows)
		mockPool.ExpectBegin()
		mockPool.ExpectExec("INSERT INTO fhir_patient").
			WithArgs(anyArgs(len(core.CanonicalColumns))...).
			WillReturnError(errors.New("disk full"))
		mockPool.ExpectRollback()

		svc := NewService(&mockConnector{db: mockPool}, testConfig(t.TempDir()), logging.Discard())

		_, err = svc.Transform(ctx)
		assert.ErrorIs(t, err, core.ErrWrite)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestService_Stats(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	mockPool.ExpectQuery(`count\(\*\) FROM raw_patient`).
		WillReturnRows(mockPool.NewRows([]string{"count"}).AddRow(int64(3)))
	mockPool.ExpectQuery(`count\(\*\) FROM fhir_patient`).
		WillReturnRows(mockPool.NewRows([]string{"count"}).AddRow(int64(2)))

	svc := NewService(&mockConnector{db: mockPool}, testConfig(t.TempDir()), logging.Discard())

	got, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, database.StoreCounts{Raw: 3, Canonical: 2}, got)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
