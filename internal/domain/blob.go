package domain

import "context"

// ArchiveContentType is the media type of ledger archive objects: one JSON
// trade per line.
const ArchiveContentType = "application/x-ndjson"

// ArchiveWriter stores ledger archive objects under a key. The writer picks
// single or multipart upload from the body size; an existing key is replaced.
type ArchiveWriter interface {
	Upload(ctx context.Context, key string, body []byte) error
}
