// Package memstore is an in-memory multipart.Store. It backs dry runs and tests,
// and lets callers inject faults through its hooks.
package memstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/bitrise-io/go-transfer/multipart"
	"github.com/google/uuid"
)

// ErrNoSuchUpload is wrapped into the TransportError returned for unknown upload IDs.
var ErrNoSuchUpload = errors.New("no such upload")

// PartRequest records one UploadPart call.
type PartRequest struct {
	UploadID   string
	PartNumber int32
	Size       int64
	IsLastPart bool
	Data       []byte
}

type upload struct {
	bucket string
	key    string
	parts  map[int32][]byte
	etags  map[int32]string
}

// Store keeps uploads and completed objects in memory. Hooks must be set before use.
type Store struct {
	// OnInitiate, OnUploadPart, OnComplete and OnAbort run before the call is served.
	// A non-nil error is returned to the caller unchanged.
	OnInitiate   func(ctx context.Context, input multipart.InitiateInput) error
	OnUploadPart func(ctx context.Context, input multipart.UploadPartInput) error
	OnComplete   func(ctx context.Context, input multipart.CompleteInput) error
	OnAbort      func(ctx context.Context, input multipart.AbortInput) error
	// OnPartStored runs after a part has been stored.
	OnPartStored func(uploadID string, partNumber int32)

	mu            sync.Mutex
	uploads       map[string]*upload
	objects       map[string][]byte
	requests      []PartRequest
	completeCalls int
	abortCalls    int
}

// New ...
func New() *Store {
	return &Store{
		uploads: map[string]*upload{},
		objects: map[string][]byte{},
	}
}

// InitiateMultipartUpload ...
func (s *Store) InitiateMultipartUpload(ctx context.Context, input multipart.InitiateInput) (multipart.InitiateOutput, error) {
	if s.OnInitiate != nil {
		if err := s.OnInitiate(ctx, input); err != nil {
			return multipart.InitiateOutput{}, err
		}
	}

	id := uuid.New().String()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads[id] = &upload{
		bucket: input.Bucket,
		key:    input.Key,
		parts:  map[int32][]byte{},
		etags:  map[int32]string{},
	}
	return multipart.InitiateOutput{UploadID: id}, nil
}

// UploadPart ...
func (s *Store) UploadPart(ctx context.Context, input multipart.UploadPartInput) (multipart.PartResult, error) {
	if s.OnUploadPart != nil {
		if err := s.OnUploadPart(ctx, input); err != nil {
			return multipart.PartResult{}, err
		}
	}
	if err := ctx.Err(); err != nil {
		return multipart.PartResult{}, &multipart.TransportError{Op: "UploadPart", PartNumber: input.PartNumber, Err: err}
	}

	data, err := io.ReadAll(input.Body)
	if err != nil {
		return multipart.PartResult{}, &multipart.TransportError{Op: "UploadPart", PartNumber: input.PartNumber, Err: err}
	}
	sum := md5.Sum(data)
	etag := fmt.Sprintf("%q", hex.EncodeToString(sum[:]))

	s.mu.Lock()
	s.requests = append(s.requests, PartRequest{
		UploadID:   input.UploadID,
		PartNumber: input.PartNumber,
		Size:       input.Size,
		IsLastPart: input.IsLastPart,
		Data:       data,
	})
	u, ok := s.uploads[input.UploadID]
	if ok {
		u.parts[input.PartNumber] = data
		u.etags[input.PartNumber] = etag
	}
	s.mu.Unlock()

	if !ok {
		return multipart.PartResult{}, noSuchUpload("UploadPart", input.UploadID)
	}
	if s.OnPartStored != nil {
		s.OnPartStored(input.UploadID, input.PartNumber)
	}
	return multipart.PartResult{PartNumber: input.PartNumber, ETag: etag}, nil
}

// CompleteMultipartUpload assembles the object. Parts must be listed in ascending
// order and match the stored ETags.
func (s *Store) CompleteMultipartUpload(ctx context.Context, input multipart.CompleteInput) error {
	s.mu.Lock()
	s.completeCalls++
	s.mu.Unlock()

	if s.OnComplete != nil {
		if err := s.OnComplete(ctx, input); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.uploads[input.UploadID]
	if !ok {
		return noSuchUpload("CompleteMultipartUpload", input.UploadID)
	}

	var buf bytes.Buffer
	for i, p := range input.Parts {
		if i > 0 && input.Parts[i-1].PartNumber >= p.PartNumber {
			return &multipart.TransportError{Op: "CompleteMultipartUpload", Code: "InvalidPartOrder", Err: fmt.Errorf("part %d listed after part %d", p.PartNumber, input.Parts[i-1].PartNumber)}
		}
		if u.etags[p.PartNumber] != p.ETag {
			return &multipart.TransportError{Op: "CompleteMultipartUpload", Code: "InvalidPart", Err: fmt.Errorf("part %d has etag %s, got %s", p.PartNumber, u.etags[p.PartNumber], p.ETag)}
		}
		buf.Write(u.parts[p.PartNumber])
	}

	s.objects[objectKey(u.bucket, u.key)] = buf.Bytes()
	delete(s.uploads, input.UploadID)
	return nil
}

// AbortMultipartUpload ...
func (s *Store) AbortMultipartUpload(ctx context.Context, input multipart.AbortInput) error {
	s.mu.Lock()
	s.abortCalls++
	s.mu.Unlock()

	if s.OnAbort != nil {
		if err := s.OnAbort(ctx, input); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.uploads[input.UploadID]; !ok {
		return noSuchUpload("AbortMultipartUpload", input.UploadID)
	}
	delete(s.uploads, input.UploadID)
	return nil
}

// Object returns a completed object.
func (s *Store) Object(bucket, key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[objectKey(bucket, key)]
	return data, ok
}

// Requests returns the UploadPart calls served so far, ordered by part number.
func (s *Store) Requests() []PartRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	requests := append([]PartRequest(nil), s.requests...)
	sort.SliceStable(requests, func(i, j int) bool {
		return requests[i].PartNumber < requests[j].PartNumber
	})
	return requests
}

// CompleteCalls ...
func (s *Store) CompleteCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completeCalls
}

// AbortCalls ...
func (s *Store) AbortCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.abortCalls
}

// ActiveUploads returns the number of uploads neither completed nor aborted.
func (s *Store) ActiveUploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uploads)
}

func objectKey(bucket, key string) string {
	return bucket + "/" + key
}

func noSuchUpload(op, uploadID string) error {
	return &multipart.TransportError{Op: op, Code: "NoSuchUpload", Err: fmt.Errorf("%s: %w", uploadID, ErrNoSuchUpload)}
}
