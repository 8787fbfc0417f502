// Package core holds the patient record model and the pure steps of the ETL.
//
// Nothing here touches the database; the store writers live in
// internal/database and the orchestration in internal/pipeline.
//
// # Ingest side
//
//  1. [ResolvePath] and [ReadFile] turn a CSV or XLSX file into [RawRecord]s.
//     CSV input is passed through [WrapForStreaming], which drops a BOM,
//     decodes a declared legacy encoding, and rejects invalid UTF-8.
//  2. [Sanitizer.Clean] narrows invalid values to null or a default:
//     missing birth_date becomes 1000-01-01, missing address "Not Provided",
//     unknown blood types, long states and malformed emails become null.
//
// # Transform side
//
// [Transform] maps raw records to [CanonicalRecord]s. The id is
//
//	first_last_birth_md5hex(first+last+birth)
//
// so re-running the transform over the same staging rows yields the same ids,
// and the insert-if-absent write in the store makes the run idempotent.
//
// # Errors
//
// Failures are [PipelineError]s tagged with one of [ErrSourceRead],
// [ErrFormat], [ErrConnection], [ErrWrite] or [ErrStoreRead]. [MapError]
// turns any error into a [UserMessage] with a support code.
package core
