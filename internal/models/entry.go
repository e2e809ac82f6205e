package models

import "time"

// RemoteEntry is one item of a remote directory listing.
type RemoteEntry struct {
	Name    string
	ModTime time.Time
	IsDir   bool
}

// ParseOptions controls how a downloaded file is turned into a table.
type ParseOptions struct {
	// Delimiter separates fields. Strict mode accepts a single character only.
	Delimiter string
	// Columns names the fields in order; the file has no header row.
	Columns []string
	// Strict selects the fast, unforgiving parser. When false, short rows,
	// loose quoting and multi-character delimiters are tolerated.
	Strict bool
}
