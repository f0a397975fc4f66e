package miniostore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/bitrise-io/go-transfer/multipart"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockAPI struct {
	mock.Mock
}

func (_m *mockAPI) NewMultipartUpload(ctx context.Context, bucket, object string, opts minio.PutObjectOptions) (string, error) {
	ret := _m.Called(ctx, bucket, object, opts)
	return ret.String(0), ret.Error(1)
}

func (_m *mockAPI) PutObjectPart(ctx context.Context, bucket, object, uploadID string, partID int, data io.Reader, size int64, opts minio.PutObjectPartOptions) (minio.ObjectPart, error) {
	ret := _m.Called(ctx, bucket, object, uploadID, partID, data, size, opts)
	r0, _ := ret.Get(0).(minio.ObjectPart)
	return r0, ret.Error(1)
}

func (_m *mockAPI) CompleteMultipartUpload(ctx context.Context, bucket, object, uploadID string, parts []minio.CompletePart, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	ret := _m.Called(ctx, bucket, object, uploadID, parts, opts)
	r0, _ := ret.Get(0).(minio.UploadInfo)
	return r0, ret.Error(1)
}

func (_m *mockAPI) AbortMultipartUpload(ctx context.Context, bucket, object, uploadID string) error {
	ret := _m.Called(ctx, bucket, object, uploadID)
	return ret.Error(0)
}

func TestStore_InitiateMultipartUpload(t *testing.T) {
	client := &mockAPI{}
	client.On("NewMultipartUpload", mock.Anything, "bucket", "key", minio.PutObjectOptions{
		ContentType:  "text/plain",
		UserMetadata: map[string]string{"build": "42"},
	}).Return("upload-1", nil)

	output, err := New(client, log.NewLogger()).InitiateMultipartUpload(context.Background(), multipart.InitiateInput{
		Bucket:      "bucket",
		Key:         "key",
		ContentType: "text/plain",
		Metadata:    map[string]string{"build": "42"},
	})
	require.NoError(t, err)
	assert.Equal(t, "upload-1", output.UploadID)
	client.AssertExpectations(t)
}

func TestStore_UploadPart(t *testing.T) {
	body := bytes.NewReader([]byte("part"))
	client := &mockAPI{}
	client.On("PutObjectPart", mock.Anything, "bucket", "key", "upload-1", 2, body, int64(4), minio.PutObjectPartOptions{}).
		Return(minio.ObjectPart{PartNumber: 2, ETag: "etag-2"}, nil)

	result, err := New(client, log.NewLogger()).UploadPart(context.Background(), multipart.UploadPartInput{
		Bucket:     "bucket",
		Key:        "key",
		UploadID:   "upload-1",
		PartNumber: 2,
		Size:       4,
		Body:       body,
	})
	require.NoError(t, err)
	assert.Equal(t, multipart.PartResult{PartNumber: 2, ETag: "etag-2"}, result)
}

func TestStore_UploadPart_unsizedLastPart(t *testing.T) {
	body := bytes.NewReader([]byte("last part"))
	client := &mockAPI{}
	client.On("PutObjectPart", mock.Anything, "bucket", "key", "upload-1", 3, body, int64(9), minio.PutObjectPartOptions{}).
		Return(minio.ObjectPart{PartNumber: 3, ETag: "etag-3"}, nil)

	result, err := New(client, log.NewLogger()).UploadPart(context.Background(), multipart.UploadPartInput{
		Bucket:     "bucket",
		Key:        "key",
		UploadID:   "upload-1",
		PartNumber: 3,
		Size:       0,
		IsLastPart: true,
		Body:       body,
	})
	require.NoError(t, err)
	assert.Equal(t, multipart.PartResult{PartNumber: 3, ETag: "etag-3"}, result)
	assert.Equal(t, 9, body.Len())
	client.AssertExpectations(t)
}

func TestStore_UploadPart_error(t *testing.T) {
	respErr := minio.ErrorResponse{Code: "InternalError", Message: "We encountered an internal error", StatusCode: http.StatusInternalServerError}
	client := &mockAPI{}
	client.On("PutObjectPart", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(minio.ObjectPart{}, respErr)

	_, err := New(client, log.NewLogger()).UploadPart(context.Background(), multipart.UploadPartInput{
		Bucket:     "bucket",
		Key:        "key",
		UploadID:   "upload-1",
		PartNumber: 1,
		Size:       1,
		Body:       bytes.NewReader([]byte{1}),
	})

	var transportErr *multipart.TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, "InternalError", transportErr.Code)
	assert.Equal(t, int32(1), transportErr.PartNumber)
}

func TestStore_CompleteMultipartUpload(t *testing.T) {
	client := &mockAPI{}
	client.On("CompleteMultipartUpload", mock.Anything, "bucket", "key", "upload-1", []minio.CompletePart{
		{PartNumber: 1, ETag: "a"},
		{PartNumber: 2, ETag: "b"},
	}, minio.PutObjectOptions{}).Return(minio.UploadInfo{ETag: "object"}, nil)

	err := New(client, log.NewLogger()).CompleteMultipartUpload(context.Background(), multipart.CompleteInput{
		Bucket:   "bucket",
		Key:      "key",
		UploadID: "upload-1",
		Parts:    []multipart.PartResult{{PartNumber: 1, ETag: "a"}, {PartNumber: 2, ETag: "b"}},
	})
	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestStore_AbortMultipartUpload(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{name: "aborted"},
		{name: "already gone", err: minio.ErrorResponse{Code: "NoSuchUpload", StatusCode: http.StatusNotFound}},
		{name: "failure", err: errors.New("connection refused"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockAPI{}
			client.On("AbortMultipartUpload", mock.Anything, "bucket", "key", "upload-1").Return(tt.err)

			err := New(client, log.NewLogger()).AbortMultipartUpload(context.Background(), multipart.AbortInput{
				Bucket:   "bucket",
				Key:      "key",
				UploadID: "upload-1",
			})
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewFromParams(t *testing.T) {
	_, err := NewFromParams(Params{}, log.NewLogger())
	assert.Error(t, err)

	store, err := NewFromParams(Params{Endpoint: "localhost:9000", AccessKeyID: "minio", SecretAccessKey: "minio123"}, log.NewLogger())
	require.NoError(t, err)
	assert.NotNil(t, store)
}
