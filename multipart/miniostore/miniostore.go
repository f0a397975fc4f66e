// Package miniostore implements multipart.Store with the MinIO client's low-level API.
package miniostore

import (
	"context"
	"fmt"
	"io"

	"github.com/bitrise-io/go-transfer/multipart"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// API is the subset of *minio.Core used by Store.
type API interface {
	NewMultipartUpload(ctx context.Context, bucket, object string, opts minio.PutObjectOptions) (string, error)
	PutObjectPart(ctx context.Context, bucket, object, uploadID string, partID int, data io.Reader, size int64, opts minio.PutObjectPartOptions) (minio.ObjectPart, error)
	CompleteMultipartUpload(ctx context.Context, bucket, object, uploadID string, parts []minio.CompletePart, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	AbortMultipartUpload(ctx context.Context, bucket, object, uploadID string) error
}

var _ API = (*minio.Core)(nil)

// Params ...
type Params struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Secure          bool
}

// Store ...
type Store struct {
	client API
	logger log.Logger
}

// New wraps a MinIO client.
func New(client API, logger log.Logger) *Store {
	return &Store{
		client: client,
		logger: logger,
	}
}

// NewFromParams creates a Store connected to a MinIO endpoint.
func NewFromParams(params Params, logger log.Logger) (*Store, error) {
	if params.Endpoint == "" {
		return nil, fmt.Errorf("endpoint must not be empty")
	}

	core, err := minio.NewCore(params.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(params.AccessKeyID, params.SecretAccessKey, ""),
		Secure: params.Secure,
		Region: params.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return New(core, logger), nil
}

// InitiateMultipartUpload ...
func (s *Store) InitiateMultipartUpload(ctx context.Context, input multipart.InitiateInput) (multipart.InitiateOutput, error) {
	uploadID, err := s.client.NewMultipartUpload(ctx, input.Bucket, input.Key, minio.PutObjectOptions{
		ContentType:  input.ContentType,
		UserMetadata: input.Metadata,
	})
	if err != nil {
		return multipart.InitiateOutput{}, transportError("NewMultipartUpload", 0, err)
	}
	return multipart.InitiateOutput{UploadID: uploadID}, nil
}

// UploadPart ...
func (s *Store) UploadPart(ctx context.Context, input multipart.UploadPartInput) (multipart.PartResult, error) {
	size := input.Size
	if size == 0 && input.IsLastPart {
		// An unsized last part still carries its bytes; PutObjectPart needs the real length.
		n, err := bodyLength(input.Body)
		if err != nil {
			return multipart.PartResult{}, fmt.Errorf("measure part %d: %w", input.PartNumber, err)
		}
		size = n
	}

	part, err := s.client.PutObjectPart(ctx, input.Bucket, input.Key, input.UploadID, int(input.PartNumber), input.Body, size, minio.PutObjectPartOptions{})
	if err != nil {
		return multipart.PartResult{}, transportError("PutObjectPart", input.PartNumber, err)
	}

	return multipart.PartResult{
		PartNumber: int32(part.PartNumber),
		ETag:       part.ETag,
	}, nil
}

// CompleteMultipartUpload ...
func (s *Store) CompleteMultipartUpload(ctx context.Context, input multipart.CompleteInput) error {
	parts := make([]minio.CompletePart, 0, len(input.Parts))
	for _, p := range input.Parts {
		parts = append(parts, minio.CompletePart{
			PartNumber: int(p.PartNumber),
			ETag:       p.ETag,
		})
	}

	info, err := s.client.CompleteMultipartUpload(ctx, input.Bucket, input.Key, input.UploadID, parts, minio.PutObjectOptions{})
	if err != nil {
		return transportError("CompleteMultipartUpload", 0, err)
	}
	s.logger.Debugf("Object ETag: %s", info.ETag)
	return nil
}

// AbortMultipartUpload treats an upload that no longer exists as aborted.
func (s *Store) AbortMultipartUpload(ctx context.Context, input multipart.AbortInput) error {
	err := s.client.AbortMultipartUpload(ctx, input.Bucket, input.Key, input.UploadID)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchUpload" {
			s.logger.Debugf("Upload %s is already gone", input.UploadID)
			return nil
		}
		return transportError("AbortMultipartUpload", 0, err)
	}
	return nil
}

func transportError(op string, partNumber int32, err error) error {
	return &multipart.TransportError{
		Op:         op,
		PartNumber: partNumber,
		Code:       minio.ToErrorResponse(err).Code,
		Err:        err,
	}
}

func bodyLength(body io.ReadSeeker) (int64, error) {
	n, err := body.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	return n, nil
}
