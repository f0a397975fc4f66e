// Package s3store implements multipart.Store on top of the AWS SDK for Go v2.
package s3store

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-transfer/multipart"
	"github.com/bitrise-io/go-utils/v2/log"
)

// API is the subset of the S3 client used by Store.
type API = manager.UploadAPIClient

// Store ...
type Store struct {
	client API
	logger log.Logger
}

// New wraps an S3 client.
func New(client API, logger log.Logger) *Store {
	return &Store{
		client: client,
		logger: logger,
	}
}

// DefaultConfig returns a multipart.Config with the S3 protocol limits.
func DefaultConfig() multipart.Config {
	config := multipart.DefaultConfig()
	config.MinPartSize = manager.MinUploadPartSize
	config.MaxPartCount = int(manager.MaxUploadParts)
	return config
}

// InitiateMultipartUpload ...
func (s *Store) InitiateMultipartUpload(ctx context.Context, input multipart.InitiateInput) (multipart.InitiateOutput, error) {
	params := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(input.Bucket),
		Key:    aws.String(input.Key),
	}
	if input.ContentType != "" {
		params.ContentType = aws.String(input.ContentType)
	}
	if len(input.Metadata) > 0 {
		params.Metadata = input.Metadata
	}

	output, err := s.client.CreateMultipartUpload(ctx, params)
	if err != nil {
		return multipart.InitiateOutput{}, transportError("CreateMultipartUpload", 0, err)
	}

	return multipart.InitiateOutput{
		UploadID:             aws.ToString(output.UploadId),
		ServerSideEncryption: string(output.ServerSideEncryption),
	}, nil
}

// UploadPart ...
func (s *Store) UploadPart(ctx context.Context, input multipart.UploadPartInput) (multipart.PartResult, error) {
	params := &s3.UploadPartInput{
		Bucket:     aws.String(input.Bucket),
		Key:        aws.String(input.Key),
		UploadId:   aws.String(input.UploadID),
		PartNumber: aws.Int32(input.PartNumber),
		Body:       input.Body,
	}
	// A zero size on the last part means the length is left to the body.
	if input.Size > 0 || !input.IsLastPart {
		params.ContentLength = aws.Int64(input.Size)
	}

	output, err := s.client.UploadPart(ctx, params)
	if err != nil {
		return multipart.PartResult{}, transportError("UploadPart", input.PartNumber, err)
	}

	return multipart.PartResult{
		PartNumber: input.PartNumber,
		ETag:       aws.ToString(output.ETag),
	}, nil
}

// CompleteMultipartUpload ...
func (s *Store) CompleteMultipartUpload(ctx context.Context, input multipart.CompleteInput) error {
	parts := make([]types.CompletedPart, 0, len(input.Parts))
	for _, p := range input.Parts {
		parts = append(parts, types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(p.PartNumber),
		})
	}

	output, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(input.Bucket),
		Key:             aws.String(input.Key),
		UploadId:        aws.String(input.UploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		return transportError("CompleteMultipartUpload", 0, err)
	}
	if output != nil && output.ETag != nil {
		s.logger.Debugf("Object ETag: %s", aws.ToString(output.ETag))
	}
	return nil
}

// AbortMultipartUpload treats an upload that no longer exists as aborted.
func (s *Store) AbortMultipartUpload(ctx context.Context, input multipart.AbortInput) error {
	_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(input.Bucket),
		Key:      aws.String(input.Key),
		UploadId: aws.String(input.UploadID),
	})
	if err != nil {
		var noSuchUpload *types.NoSuchUpload
		if errors.As(err, &noSuchUpload) {
			s.logger.Debugf("Upload %s is already gone", input.UploadID)
			return nil
		}
		return transportError("AbortMultipartUpload", 0, err)
	}
	return nil
}

func transportError(op string, partNumber int32, err error) error {
	te := &multipart.TransportError{Op: op, PartNumber: partNumber, Err: err}

	var apiError smithy.APIError
	if errors.As(err, &apiError) {
		te.Code = apiError.ErrorCode()
		te.Err = fmt.Errorf("aws api error: %w", err)
	}
	return te
}
