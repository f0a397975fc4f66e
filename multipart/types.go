// Package multipart uploads large payloads to object stores that speak the
// initiate / upload-part / complete / abort multipart protocol.
// Parts are uploaded in parallel under a bounded concurrency budget, and a failure in
// any part cancels its siblings and aborts the remote session.
package multipart

import "io"

// UnknownLength marks a payload whose total length is not known up front.
const UnknownLength int64 = -1

// Session identifies one multipart upload for the lifetime of an Upload call.
type Session struct {
	Bucket               string
	Key                  string
	UploadID             string
	ServerSideEncryption string
	PartSize             int64
	// PartCount is 0 in streaming mode, where the count is only known at end of input.
	PartCount     int
	ContentLength int64
}

// Part is one unit of work produced by a plan.
type Part struct {
	Number int32
	Offset int64
	// Size is the size advertised to the store. A LastPartPolicy may change it
	// for the final part.
	Size   int64
	IsLast bool
}

// PartResult is the store's receipt for an uploaded part.
type PartResult struct {
	PartNumber int32
	ETag       string
}

// ProgressEvent is delivered to the caller's ProgressFunc.
type ProgressEvent struct {
	// Increment is the number of bytes read by one part since its previous event.
	Increment int64
	// Transferred is the session-wide cumulative count. It never decreases.
	Transferred int64
	// Total is the payload length, or UnknownLength.
	Total int64
	// RetryCompensation is the stale byte count dropped because a part's read was
	// restarted by a transport retry.
	RetryCompensation int64
}

// ProgressFunc receives progress events. Calls are serialized.
type ProgressFunc func(ProgressEvent)

// UploadInput describes one upload. Exactly one of FilePath and Body must be set.
type UploadInput struct {
	Bucket      string
	Key         string
	ContentType string
	Metadata    map[string]string

	FilePath string
	// Body is read sequentially unless it implements io.ReaderAt and ContentLength is set,
	// in which case parts are read concurrently from independent sections.
	Body io.Reader
	// AutoClose closes Body once the upload settles, if Body is an io.Closer.
	// Ignored for FilePath sources.
	AutoClose bool

	// PartSize overrides the planned part size when positive.
	PartSize int64
	// ContentLength is the payload length when known. For FilePath sources it
	// defaults to the file size.
	ContentLength *int64

	Progress ProgressFunc
}

// UploadOutput describes a completed upload.
type UploadOutput struct {
	UploadID             string
	ServerSideEncryption string
	Parts                []PartResult
	Size                 int64
}
