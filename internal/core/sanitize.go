package core

import (
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgtype"
)

// Defaults written in place of missing values.
const (
	UnknownAddress = "Not Provided"
	MaxStateLength = 2
)

// UnknownBirthDate marks a patient whose birth date was not supplied.
var UnknownBirthDate = pgtype.Date{Time: time.Date(1000, time.January, 1, 0, 0, 0, 0, time.UTC), Valid: true}

// ValidBloodTypes is the closed set of accepted blood_type values. Matching
// is exact and case-sensitive.
var ValidBloodTypes = map[string]struct{}{
	"A-": {}, "A+": {},
	"O-": {}, "O+": {},
	"B-": {}, "B+": {},
	"AB-": {}, "AB+": {},
}

var emailRegex = regexp.MustCompile(`^[A-Za-z0-9_.+-]+@[A-Za-z0-9-]+\.[A-Za-z0-9.-]+$`)

// SanitizeStats counts what Clean changed.
type SanitizeStats struct {
	BirthDateDefaulted int `json:"birth_date_defaulted"`
	AddressDefaulted   int `json:"address_defaulted"`
	BloodTypeNulled    int `json:"blood_type_nulled"`
	StateNulled        int `json:"state_nulled"`
	StateNormalized    int `json:"state_normalized"`
	EmailNulled        int `json:"email_nulled"`
}

// Sanitizer narrows invalid field values to null or a fixed default.
// It never rejects a record.
type Sanitizer struct {
	// NormalizeStates maps US state names to 2-letter codes before the
	// length rule runs.
	NormalizeStates bool
}

// Clean returns sanitized copies of records, same length and order.
func (s Sanitizer) Clean(records []RawRecord) ([]RawRecord, SanitizeStats) {
	var stats SanitizeStats
	out := make([]RawRecord, len(records))
	for i, r := range records {
		out[i] = s.cleanOne(r, &stats)
	}
	return out, stats
}

func (s Sanitizer) cleanOne(r RawRecord, stats *SanitizeStats) RawRecord {
	if !r.BirthDate.Valid {
		r.BirthDate = UnknownBirthDate
		stats.BirthDateDefaulted++
	}

	if !r.Address.Valid {
		r.Address = pgtype.Text{String: UnknownAddress, Valid: true}
		stats.AddressDefaulted++
	}

	if r.BloodType.Valid && !IsValidBloodType(r.BloodType.String) {
		r.BloodType = pgtype.Text{}
		stats.BloodTypeNulled++
	}

	if r.State.Valid {
		if s.NormalizeStates {
			if code := NormalizeUsState(r.State.String); code != r.State.String {
				r.State.String = code
				stats.StateNormalized++
			}
		}
		if utf8.RuneCountInString(r.State.String) > MaxStateLength {
			r.State = pgtype.Text{}
			stats.StateNulled++
		}
	}

	if r.Email.Valid && !IsValidEmail(r.Email.String) {
		r.Email = pgtype.Text{}
		stats.EmailNulled++
	}

	return r
}

// IsValidBloodType reports whether s is one of ValidBloodTypes.
func IsValidBloodType(s string) bool {
	_, ok := ValidBloodTypes[s]
	return ok
}

// IsValidEmail reports whether s looks like local@domain.tld.
func IsValidEmail(s string) bool {
	return emailRegex.MatchString(s)
}
