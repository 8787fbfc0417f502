package core

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding"
)

// SourceOptions controls how a source file is located and validated.
type SourceOptions struct {
	// Strict enables the extension and minimum-row checks.
	Strict bool
	// Extension required in strict mode, including the dot.
	Extension string
	// MinDataRows is the fewest data rows strict mode accepts.
	MinDataRows int
	// MaxFileSize rejects larger files. Zero disables the check.
	MaxFileSize int64
	// Encoding of CSV input. Nil means UTF-8, and invalid UTF-8 fails the read.
	Encoding encoding.Encoding
}

// SourceResult is the outcome of reading one source file.
type SourceResult struct {
	Records     []RawRecord
	Bytes       int64 // size of the file on disk
	BlankRows   int   // fully empty rows that were skipped
	ExtraHeader []string
}

// ResolvePath joins name onto dir after checking that name is a plain file
// name. Anything with a directory component is a FormatError.
func ResolvePath(dir, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", FormatError("resolve source", errors.New("no file provided"))
	}
	if name != filepath.Base(name) || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", FormatError("resolve source", fmt.Errorf("invalid file name %q", name))
	}
	return filepath.Join(dir, name), nil
}

// ReadFile reads the tabular file at path into raw records.
//
// Files ending in .xlsx are read from their first sheet; anything else is
// parsed as CSV. The first non-blank row is the header and must contain
// every raw column. Cells are trimmed; empty cells and unparseable dates
// become null.
func ReadFile(path string, opts SourceOptions) (*SourceResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, SourceReadError("stat source", err)
	}
	if info.IsDir() {
		return nil, SourceReadError("stat source", fmt.Errorf("%s is a directory", path))
	}
	if opts.MaxFileSize > 0 && info.Size() > opts.MaxFileSize {
		return nil, FormatError("stat source", fmt.Errorf("file too large: %d bytes exceeds %d", info.Size(), opts.MaxFileSize))
	}
	if info.Size() == 0 {
		return nil, SourceReadError("stat source", errors.New("empty file"))
	}

	ext := strings.ToLower(filepath.Ext(path))
	if opts.Strict && !strings.EqualFold(ext, opts.Extension) {
		return nil, FormatError("strict check", fmt.Errorf("unexpected extension %q, want %q", ext, opts.Extension))
	}

	var rows [][]string
	if ext == ".xlsx" {
		rows, err = readXLSX(path)
	} else {
		rows, err = readCSVFile(path, opts.Encoding)
	}
	if err != nil {
		return nil, err
	}

	res, err := buildRecords(rows)
	if err != nil {
		return nil, err
	}
	res.Bytes = info.Size()

	if opts.Strict && len(res.Records) < opts.MinDataRows {
		return nil, FormatError("strict check", fmt.Errorf("too few data rows: got %d, need %d", len(res.Records), opts.MinDataRows))
	}

	return res, nil
}

func readCSVFile(path string, enc encoding.Encoding) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, SourceReadError("open source", err)
	}
	defer f.Close()

	rows, err := ParseCSV(f, enc)
	if err != nil {
		return nil, SourceReadError("parse csv", err)
	}
	return rows, nil
}

// ParseCSV reads every row from r, tolerating ragged rows and stray quotes.
// r is decoded from enc (nil for UTF-8) and a leading BOM is dropped.
func ParseCSV(r io.Reader, enc encoding.Encoding) ([][]string, error) {
	cr := csv.NewReader(WrapForStreaming(r, enc))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr.ReadAll()
}

func readXLSX(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, SourceReadError("open xlsx", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, SourceReadError("open xlsx", errors.New("workbook has no sheets"))
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, SourceReadError("read xlsx", err)
	}
	return rows, nil
}

// buildRecords turns parsed rows into records. The first non-blank row is
// the header.
func buildRecords(rows [][]string) (*SourceResult, error) {
	res := &SourceResult{}

	headerAt := -1
	for i, row := range rows {
		if !isEmptyRow(row) {
			headerAt = i
			break
		}
	}
	if headerAt < 0 {
		return nil, SourceReadError("read header", errors.New("no header row"))
	}

	idx, extra, err := ValidateHeader(rows[headerAt])
	if err != nil {
		return nil, err
	}
	res.ExtraHeader = extra

	data := rows[headerAt+1:]
	res.Records = make([]RawRecord, 0, len(data))
	for _, row := range data {
		if isEmptyRow(row) {
			res.BlankRows++
			continue
		}
		res.Records = append(res.Records, buildRawRecord(row, idx))
	}

	return res, nil
}

// ValidateHeader checks that header contains every raw column.
// It returns the header index and any columns it does not recognize.
func ValidateHeader(header []string) (HeaderIndex, []string, error) {
	idx := MakeHeaderIndex(header)

	var missing []string
	known := make(map[string]bool, len(RawColumns))
	for _, col := range RawColumns {
		known[col.Name] = true
		if _, ok := idx[col.Name]; !ok {
			missing = append(missing, col.Name)
		}
	}
	if len(missing) > 0 {
		return nil, nil, FormatError("validate header", fmt.Errorf("missing required columns: %s", strings.Join(missing, ", ")))
	}

	var extra []string
	for _, h := range header {
		key := strings.ToLower(CleanCell(h))
		if key != "" && !known[key] {
			extra = append(extra, key)
		}
	}

	return idx, extra, nil
}

func buildRawRecord(row []string, idx HeaderIndex) RawRecord {
	return RawRecord{
		FirstName:             ToPgText(getCell(row, idx, "first_name")),
		LastName:              ToPgText(getCell(row, idx, "last_name")),
		BirthDate:             ToPgDate(getCell(row, idx, "birth_date")),
		Gender:                ToPgText(getCell(row, idx, "gender")),
		Address:               ToPgText(getCell(row, idx, "address")),
		City:                  ToPgText(getCell(row, idx, "city")),
		State:                 ToPgText(getCell(row, idx, "state")),
		ZipCode:               ToPgText(getCell(row, idx, "zip_code")),
		PhoneNumber:           ToPgText(getCell(row, idx, "phone_number")),
		Email:                 ToPgText(getCell(row, idx, "email")),
		EmergencyContactName:  ToPgText(getCell(row, idx, "emergency_contact_name")),
		EmergencyContactPhone: ToPgText(getCell(row, idx, "emergency_contact_phone")),
		BloodType:             ToPgText(getCell(row, idx, "blood_type")),
		InsuranceProvider:     ToPgText(getCell(row, idx, "insurance_provider")),
		InsuranceNumber:       ToPgText(getCell(row, idx, "insurance_number")),
		MaritalStatus:         ToPgText(getCell(row, idx, "marital_status")),
		PreferredLanguage:     ToPgText(getCell(row, idx, "preferred_language")),
		Nationality:           ToPgText(getCell(row, idx, "nationality")),
		Allergies:             ToPgText(getCell(row, idx, "allergies")),
		LastVisitDate:         ToPgDate(getCell(row, idx, "last_visit_date")),
	}
}

// getCell returns the cleaned cell for column, or "" when the row is short.
func getCell(row []string, idx HeaderIndex, column string) string {
	pos, ok := idx[column]
	if !ok || pos >= len(row) {
		return ""
	}
	return CleanCell(row[pos])
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
