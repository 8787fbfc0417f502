package core

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
)

// ============================================================================
// Conversion Function Benchmarks
// ============================================================================

// BenchmarkToPgDate benchmarks date parsing across the accepted layouts.
// Runs twice per row (birth_date, last_visit_date).
func BenchmarkToPgDate(b *testing.B) {
	testCases := []string{
		"1980-01-01",
		"01/15/1980",
		"1/5/80",
		"Jan 2, 1980",
		"19800101",
		"not a date",
	}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		for _, tc := range testCases {
			ToPgDate(tc)
		}
	}
}

// BenchmarkToPgDate_ISO benchmarks the common case, which hits the first layout.
func BenchmarkToPgDate_ISO(b *testing.B) {
	for i := 0; i < b.N; i++ {
		ToPgDate("1980-01-01")
	}
}

// BenchmarkCleanCell benchmarks cell cleaning. Called for every cell.
func BenchmarkCleanCell(b *testing.B) {
	testCases := []string{
		"Ann",
		"  Lee  ",
		`="00123"`,
		`"quoted"`,
		"",
	}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		for _, tc := range testCases {
			CleanCell(tc)
		}
	}
}

// ============================================================================
// Pipeline Stage Benchmarks
// ============================================================================

func generateTestCSV(rows int) []byte {
	var buf bytes.Buffer
	buf.WriteString(strings.Join(ColumnNames(RawColumns), ",") + "\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&buf, "First%d,Last%d,1980-01-%02d,F,%d Main St,LA,California,90001,555-%04d,p%d@example.com,,,AB+,Acme,INS-%d,single,en,US,none,2024-06-01\n",
			i, i, i%28+1, i, i, i, i)
	}
	return buf.Bytes()
}

// BenchmarkParseCSV benchmarks parsing a 500-row file through the
// sanitizing reader.
func BenchmarkParseCSV(b *testing.B) {
	data := generateTestCSV(500)

	b.ReportAllocs()
	b.SetBytes(int64(len(data)))
	for i := 0; i < b.N; i++ {
		if _, err := ParseCSV(bytes.NewReader(data), nil); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkBuildRecords benchmarks header validation and record building.
func BenchmarkBuildRecords(b *testing.B) {
	rows, err := ParseCSV(bytes.NewReader(generateTestCSV(500)), nil)
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := buildRecords(rows); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkSanitize benchmarks the sanitizer with and without state
// normalization.
func BenchmarkSanitize(b *testing.B) {
	rows, err := ParseCSV(bytes.NewReader(generateTestCSV(500)), nil)
	if err != nil {
		b.Fatal(err)
	}
	res, err := buildRecords(rows)
	if err != nil {
		b.Fatal(err)
	}

	for _, normalize := range []bool{false, true} {
		b.Run(fmt.Sprintf("normalize=%v", normalize), func(b *testing.B) {
			s := Sanitizer{NormalizeStates: normalize}
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				s.Clean(res.Records)
			}
		})
	}
}

// BenchmarkTransform benchmarks id hashing and telecom encoding.
func BenchmarkTransform(b *testing.B) {
	rows, err := ParseCSV(bytes.NewReader(generateTestCSV(500)), nil)
	if err != nil {
		b.Fatal(err)
	}
	res, err := buildRecords(rows)
	if err != nil {
		b.Fatal(err)
	}
	records, _ := Sanitizer{}.Clean(res.Records)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Transform(records)
	}
}
