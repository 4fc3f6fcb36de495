package ingest

import "errors"

// ErrIngestion indicates a document could not be prepared for indexing,
// e.g. empty input or content that produced no chunks.
// Checked with errors.Is().
var ErrIngestion = errors.New("ingestion failed")
