package core

import (
	"encoding/json"

	"github.com/jackc/pgx/v5/pgtype"
)

// Table names.
const (
	RawTable       = "raw_patient"
	CanonicalTable = "fhir_patient"
)

// FieldType represents the expected data type for a source column.
type FieldType int

const (
	FieldText FieldType = iota
	FieldDate
)

// FieldSpec describes one column of a record schema.
type FieldSpec struct {
	Name string    // Column header / database column name
	Type FieldType // Expected data type
}

// HeaderIndex maps column names (lowercase) to their position in a source row.
type HeaderIndex map[string]int

// RawRecord is one ingested patient row, as stored in raw_patient.
// Valid=false on any field means null.
type RawRecord struct {
	FirstName             pgtype.Text `db:"first_name"`
	LastName              pgtype.Text `db:"last_name"`
	BirthDate             pgtype.Date `db:"birth_date"`
	Gender                pgtype.Text `db:"gender"`
	Address               pgtype.Text `db:"address"`
	City                  pgtype.Text `db:"city"`
	State                 pgtype.Text `db:"state"`
	ZipCode               pgtype.Text `db:"zip_code"`
	PhoneNumber           pgtype.Text `db:"phone_number"`
	Email                 pgtype.Text `db:"email"`
	EmergencyContactName  pgtype.Text `db:"emergency_contact_name"`
	EmergencyContactPhone pgtype.Text `db:"emergency_contact_phone"`
	BloodType             pgtype.Text `db:"blood_type"`
	InsuranceProvider     pgtype.Text `db:"insurance_provider"`
	InsuranceNumber       pgtype.Text `db:"insurance_number"`
	MaritalStatus         pgtype.Text `db:"marital_status"`
	PreferredLanguage     pgtype.Text `db:"preferred_language"`
	Nationality           pgtype.Text `db:"nationality"`
	Allergies             pgtype.Text `db:"allergies"`
	LastVisitDate         pgtype.Date `db:"last_visit_date"`
}

// RawColumns is the raw_patient schema, in storage order.
var RawColumns = []FieldSpec{
	{Name: "first_name", Type: FieldText},
	{Name: "last_name", Type: FieldText},
	{Name: "birth_date", Type: FieldDate},
	{Name: "gender", Type: FieldText},
	{Name: "address", Type: FieldText},
	{Name: "city", Type: FieldText},
	{Name: "state", Type: FieldText},
	{Name: "zip_code", Type: FieldText},
	{Name: "phone_number", Type: FieldText},
	{Name: "email", Type: FieldText},
	{Name: "emergency_contact_name", Type: FieldText},
	{Name: "emergency_contact_phone", Type: FieldText},
	{Name: "blood_type", Type: FieldText},
	{Name: "insurance_provider", Type: FieldText},
	{Name: "insurance_number", Type: FieldText},
	{Name: "marital_status", Type: FieldText},
	{Name: "preferred_language", Type: FieldText},
	{Name: "nationality", Type: FieldText},
	{Name: "allergies", Type: FieldText},
	{Name: "last_visit_date", Type: FieldDate},
}

// maxBindParams is the most parameters postgres accepts in one statement.
const maxBindParams = 65535

// MaxRawInsertChunk is the largest number of raw rows one INSERT can carry.
var MaxRawInsertChunk = maxBindParams / len(RawColumns)

// TransformColumns are the raw_patient columns the canonical projection reads.
var TransformColumns = []string{
	"first_name",
	"last_name",
	"birth_date",
	"gender",
	"address",
	"phone_number",
	"email",
	"marital_status",
	"insurance_number",
	"nationality",
}

// Values returns the record's fields in RawColumns order, ready for COPY or INSERT.
func (r RawRecord) Values() []any {
	return []any{
		r.FirstName,
		r.LastName,
		r.BirthDate,
		r.Gender,
		r.Address,
		r.City,
		r.State,
		r.ZipCode,
		r.PhoneNumber,
		r.Email,
		r.EmergencyContactName,
		r.EmergencyContactPhone,
		r.BloodType,
		r.InsuranceProvider,
		r.InsuranceNumber,
		r.MaritalStatus,
		r.PreferredLanguage,
		r.Nationality,
		r.Allergies,
		r.LastVisitDate,
	}
}

// CanonicalRecord is the identity-stable projection stored in fhir_patient.
type CanonicalRecord struct {
	ID              string      `db:"id"`
	FullName        string      `db:"full_name"`
	BirthDate       pgtype.Date `db:"birth_date"`
	Gender          pgtype.Text `db:"gender"`
	Address         pgtype.Text `db:"address"`
	Telecom         []byte      `db:"telecom"`
	MaritalStatus   pgtype.Text `db:"marital_status"`
	InsuranceNumber pgtype.Text `db:"insurance_number"`
	Nationality     pgtype.Text `db:"nationality"`
}

// CanonicalColumns is the fhir_patient schema, in storage order.
var CanonicalColumns = []string{
	"id",
	"full_name",
	"birth_date",
	"gender",
	"address",
	"telecom",
	"marital_status",
	"insurance_number",
	"nationality",
}

// Values returns the record's fields in CanonicalColumns order.
// Telecom is passed as json.RawMessage so pgx sends it to JSONB verbatim.
func (c CanonicalRecord) Values() []any {
	return []any{
		c.ID,
		c.FullName,
		c.BirthDate,
		c.Gender,
		c.Address,
		json.RawMessage(c.Telecom),
		c.MaritalStatus,
		c.InsuranceNumber,
		c.Nationality,
	}
}

// ColumnNames returns the names of specs in order.
func ColumnNames(specs []FieldSpec) []string {
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.Name
	}
	return names
}
