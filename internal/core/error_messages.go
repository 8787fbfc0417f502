package core

// error_messages.go maps technical errors to user-facing messages with a
// support code. Operators quote the code when reporting a failed run.
//
// # Source Errors (SRC001-SRC099)
//
//	SRC001 - File not found: The named input file does not exist
//	         Patterns: "no such file", "file does not exist"
//	SRC002 - Unreadable file: The input could not be parsed as a table
//	         Patterns: kind ErrSourceRead (fallback)
//	SRC003 - Wrong encoding: The input is not UTF-8 and no encoding was set
//	         Patterns: "invalid utf-8"
//
// # Format Errors (FMT001-FMT099)
//
//	FMT001 - Missing column: Header lacks one or more patient columns
//	         Patterns: "missing required columns"
//	FMT002 - Too few rows: Strict mode minimum data rows not met
//	         Patterns: "too few data rows"
//	FMT003 - Wrong extension: Strict mode extension check failed
//	         Patterns: "unexpected extension"
//	FMT004 - File too large: File exceeds the configured size limit
//	         Patterns: "file too large"
//	FMT005 - Bad file name: File name must be a plain name inside the input directory
//	         Patterns: "invalid file name"
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key        Patterns: "duplicate key"
//	DB002 - Unique constraint    Patterns: "unique constraint", "violates unique"
//	DB003 - Undefined table      Patterns: "does not exist (sqlstate 42p01)"
//	DB004 - Connection refused   Patterns: "connection refused"
//	DB005 - Connection reset     Patterns: "connection reset"
//	DB006 - Timeout              Patterns: "timeout"
//	DB007 - Deadlock             Patterns: "deadlock"
//	DB008 - Store unreachable    Patterns: kind ErrConnection (fallback)
//	DB009 - Write failed         Patterns: kind ErrWrite (fallback)
//	DB010 - Read failed          Patterns: kind ErrStoreRead (fallback)
//
// # Request Errors (REQ001-REQ099)
//
//	REQ001 - Cancelled           Patterns: "context canceled"
//	REQ002 - Deadline exceeded   Patterns: "context deadline exceeded"
//	REQ003 - No file             Patterns: "no file provided"
//	REQ004 - Bad request body    Patterns: "invalid request body"
//	REQ005 - Busy                Patterns: "too many concurrent runs"
//
// # Default Error (ERR000)
//
// Fallback when nothing matches. Check the logs for the technical error.
//
// Patterns are matched case-insensitively with strings.Contains, first match
// wins. Kind fallbacks apply only when no pattern matched.

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// Source
	{"no such file", UserMessage{"Input file not found", "Check the file name and the input directory", "SRC001"}},
	{"file does not exist", UserMessage{"Input file not found", "Check the file name and the input directory", "SRC001"}},
	{"invalid utf-8", UserMessage{"Input file is not UTF-8", "Re-export the file as UTF-8 or set INGEST_ENCODING (e.g. windows-1252)", "SRC003"}},

	// Format
	{"missing required columns", UserMessage{"Required column is missing from the file header", "Check that every patient column is present in the header row", "FMT001"}},
	{"too few data rows", UserMessage{"File does not contain enough data rows", "Add data rows or lower INGEST_MIN_DATA_ROWS", "FMT002"}},
	{"unexpected extension", UserMessage{"File has the wrong extension", "Export the file as CSV or disable strict mode", "FMT003"}},
	{"file too large", UserMessage{"File exceeds the maximum size limit", "Split the file into smaller chunks", "FMT004"}},
	{"invalid file name", UserMessage{"File name is not allowed", "Pass a plain file name located in the input directory", "FMT005"}},

	// Database constraint
	{"duplicate key", UserMessage{"A record with this ID already exists", "Review the input for duplicate patients", "DB001"}},
	{"unique constraint", UserMessage{"This value must be unique but already exists", "Review the input for duplicate patients", "DB002"}},
	{"violates unique", UserMessage{"A duplicate value was found", "Review the input for duplicate patients", "DB002"}},
	{"(sqlstate 42p01)", UserMessage{"Target table does not exist", "Create raw_patient and fhir_patient before running", "DB003"}},

	// Database connectivity
	{"connection refused", UserMessage{"Unable to connect to database", "Check DB_HOST and DB_PORT, then try again", "DB004"}},
	{"connection reset", UserMessage{"Database connection was interrupted", "Please try again", "DB005"}},
	{"deadline exceeded", UserMessage{"Request timed out", "Try again or raise the timeout", "REQ002"}},
	{"timeout", UserMessage{"Operation timed out", "Try a smaller file or try again later", "DB006"}},
	{"deadlock", UserMessage{"Database was busy with conflicting operations", "Please try again", "DB007"}},

	// Request
	{"context canceled", UserMessage{"Run was cancelled", "Start the run again", "REQ001"}},
	{"no file provided", UserMessage{"No input file was named", "Pass the file name to ingest", "REQ003"}},
	{"invalid request body", UserMessage{"Request body is not valid JSON", `Send {"file": "<name>"}`, "REQ004"}},
	{"too many concurrent runs", UserMessage{"Too many runs in progress", "Wait for a running job to finish and try again", "REQ005"}},
}

type kindMessage struct {
	kind error
	msg  UserMessage
}

var kindMessages = []kindMessage{
	{ErrSourceRead, UserMessage{"Input file could not be read", "Ensure the file is a readable CSV or XLSX table", "SRC002"}},
	{ErrFormat, UserMessage{"Input file failed validation", "Check the file against the patient column layout", "FMT000"}},
	{ErrConnection, UserMessage{"Database is unreachable", "Check the database settings and that the server is running", "DB008"}},
	{ErrWrite, UserMessage{"Records could not be saved", "Check the logs and try again; nothing from this batch was kept", "DB009"}},
	{ErrStoreRead, UserMessage{"Staged records could not be read", "Check that raw_patient exists and is readable", "DB010"}},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Known text patterns win; otherwise the pipeline error kind decides;
// otherwise ERR000.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	for _, km := range kindMessages {
		if errors.Is(err, km.kind) {
			return km.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something more specific than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
