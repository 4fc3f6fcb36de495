package docstore

import "errors"

// ErrUnavailable indicates the document store could not serve the request,
// typically because PostgreSQL is unreachable or the query failed.
// Checked with errors.Is().
var ErrUnavailable = errors.New("document store unavailable")
