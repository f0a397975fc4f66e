package multipart

import (
	"context"
	"io"
)

// Store is the object-store side of the multipart protocol.
// Implementations own wire encoding, signing and per-request retries, and
// report remote failures as *TransportError.
type Store interface {
	InitiateMultipartUpload(ctx context.Context, input InitiateInput) (InitiateOutput, error)
	UploadPart(ctx context.Context, input UploadPartInput) (PartResult, error)
	CompleteMultipartUpload(ctx context.Context, input CompleteInput) error
	AbortMultipartUpload(ctx context.Context, input AbortInput) error
}

// InitiateInput ...
type InitiateInput struct {
	Bucket      string
	Key         string
	ContentType string
	Metadata    map[string]string
}

// InitiateOutput ...
type InitiateOutput struct {
	UploadID             string
	ServerSideEncryption string
}

// UploadPartInput ...
type UploadPartInput struct {
	Bucket     string
	Key        string
	UploadID   string
	PartNumber int32
	// Size is 0 when a LastPartPolicy asked the store to read the body to its end.
	Size       int64
	IsLastPart bool
	// Body may be rewound with Seek(0, io.SeekStart) by retrying transports.
	Body io.ReadSeeker
}

// CompleteInput ...
type CompleteInput struct {
	Bucket   string
	Key      string
	UploadID string
	// Parts are sorted by part number.
	Parts []PartResult
}

// AbortInput ...
type AbortInput struct {
	Bucket   string
	Key      string
	UploadID string
}
