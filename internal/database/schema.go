package database

import _ "embed"

// Schema is the DDL for raw_patient and fhir_patient.
//
//go:embed schema.sql
var Schema string
