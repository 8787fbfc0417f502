package core

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgtype"
)

// Telecom is the contact block stored as JSON in fhir_patient.telecom.
// Field order is fixed: phone, then email. Null values encode as null.
type Telecom struct {
	Phone *string `json:"phone"`
	Email *string `json:"email"`
}

// PatientID derives the content-addressed identifier of a patient:
//
//	first_last_birth_md5hex(first+last+birth)
//
// birth is rendered YYYY-MM-DD; null parts render as empty strings.
func PatientID(first, last, birth string) string {
	sum := md5.Sum([]byte(first + last + birth))
	return first + "_" + last + "_" + birth + "_" + hex.EncodeToString(sum[:])
}

// Transform maps raw records to canonical records, one per input, same order.
func Transform(records []RawRecord) []CanonicalRecord {
	out := make([]CanonicalRecord, len(records))
	for i, r := range records {
		out[i] = ToCanonical(r)
	}
	return out
}

// ToCanonical maps a single raw record.
func ToCanonical(r RawRecord) CanonicalRecord {
	first := TextOrEmpty(r.FirstName)
	last := TextOrEmpty(r.LastName)

	return CanonicalRecord{
		ID:              PatientID(first, last, FormatDate(r.BirthDate)),
		FullName:        first + " " + last,
		BirthDate:       r.BirthDate,
		Gender:          r.Gender,
		Address:         r.Address,
		Telecom:         EncodeTelecom(r.PhoneNumber, r.Email),
		MaritalStatus:   r.MaritalStatus,
		InsuranceNumber: r.InsuranceNumber,
		Nationality:     r.Nationality,
	}
}

// EncodeTelecom renders phone and email as compact JSON.
func EncodeTelecom(phone, email pgtype.Text) []byte {
	b, err := json.Marshal(Telecom{Phone: textPtr(phone), Email: textPtr(email)})
	if err != nil {
		// unreachable: two optional strings always marshal
		panic(err)
	}
	return b
}

func textPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	s := t.String
	return &s
}
