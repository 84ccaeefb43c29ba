package logger

// Standard field keys for structured logging. Use these consistently so log
// lines can be aggregated and queried across the project, upload and RPC
// subsystems.
const (
	// Projects
	KeyProject     = "project"      // Project name
	KeyProjectID   = "project_id"   // Project UUID
	KeyProjectType = "project_type" // crawling, data, storage
	KeyStatus      = "status"       // Project or operation status

	// Uploads
	KeyOperationID = "operation_id" // Upload operation UUID
	KeySourceType  = "source_type"  // local, ftp, sftp, smb, http, https
	KeyLocation    = "location"     // Source location (always redacted)
	KeyFile        = "file"         // Current file path or name
	KeyDocument    = "document"     // Processed document title
	KeyStage       = "stage"        // Pipeline stage
	KeyBytes       = "bytes"        // Bytes processed
	KeyAttempt     = "attempt"      // Retry attempt number

	// RPC
	KeyMethod    = "method"     // JSON-RPC method name
	KeyRequestID = "request_id" // JSON-RPC request id

	// Generic
	KeyPath     = "path"
	KeyError    = "error"
	KeyDuration = "duration_ms"
)
