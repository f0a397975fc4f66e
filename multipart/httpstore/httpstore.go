// Package httpstore implements multipart.Store against a REST upload service:
//
//	POST   {base}/uploads                     initiate
//	PUT    {base}/uploads/{id}/parts/{number} upload a part, ETag in the response header
//	POST   {base}/uploads/{id}/complete       complete
//	DELETE {base}/uploads/{id}                abort
package httpstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"

	"github.com/bitrise-io/go-transfer/multipart"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// LastPartHeader is set to "true" on the request of the final part.
const LastPartHeader = "X-Last-Part"

type initiateRequest struct {
	Bucket      string            `json:"bucket"`
	Key         string            `json:"key"`
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type initiateResponse struct {
	UploadID             string `json:"upload_id"`
	ServerSideEncryption string `json:"server_side_encryption"`
}

type completedPart struct {
	PartNumber int32  `json:"part_number"`
	ETag       string `json:"etag"`
}

type completeRequest struct {
	Bucket string          `json:"bucket"`
	Key    string          `json:"key"`
	Parts  []completedPart `json:"parts"`
}

// Params ...
type Params struct {
	BaseURL string
	Token   string
}

// Store ...
type Store struct {
	httpClient  *retryablehttp.Client
	baseURL     string
	accessToken string
	logger      log.Logger
}

// New creates a Store using client for every request.
func New(client *retryablehttp.Client, baseURL, accessToken string, logger log.Logger) *Store {
	return &Store{
		httpClient:  client,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		accessToken: accessToken,
		logger:      logger,
	}
}

// NewFromParams creates a Store with a retrying HTTP client.
func NewFromParams(params Params, logger log.Logger) (*Store, error) {
	if params.BaseURL == "" {
		return nil, fmt.Errorf("base URL must not be empty")
	}
	if _, err := url.ParseRequestURI(params.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	return New(retryhttp.NewClient(logger), params.BaseURL, params.Token, logger), nil
}

// InitiateMultipartUpload ...
func (s *Store) InitiateMultipartUpload(ctx context.Context, input multipart.InitiateInput) (multipart.InitiateOutput, error) {
	body, err := json.Marshal(initiateRequest{
		Bucket:      input.Bucket,
		Key:         input.Key,
		ContentType: input.ContentType,
		Metadata:    input.Metadata,
	})
	if err != nil {
		return multipart.InitiateOutput{}, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/uploads", body)
	if err != nil {
		return multipart.InitiateOutput{}, err
	}
	s.authorize(req)
	req.Header.Set("Content-type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return multipart.InitiateOutput{}, transportError("initiate", 0, err)
	}
	defer s.closeBody(resp.Body)

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return multipart.InitiateOutput{}, unwrapError("initiate", 0, resp)
	}

	var response initiateResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return multipart.InitiateOutput{}, fmt.Errorf("decode initiate response: %w", err)
	}
	if response.UploadID == "" {
		return multipart.InitiateOutput{}, &multipart.TransportError{Op: "initiate", Err: fmt.Errorf("response has no upload id")}
	}

	return multipart.InitiateOutput{
		UploadID:             response.UploadID,
		ServerSideEncryption: response.ServerSideEncryption,
	}, nil
}

// UploadPart sends the part body as is. On a retried attempt the client rewinds the
// body to its start.
func (s *Store) UploadPart(ctx context.Context, input multipart.UploadPartInput) (multipart.PartResult, error) {
	partURL := fmt.Sprintf("%s/uploads/%s/parts/%d", s.baseURL, url.PathEscape(input.UploadID), input.PartNumber)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, partURL, input.Body)
	if err != nil {
		return multipart.PartResult{}, err
	}
	s.authorize(req)
	req.Header.Set("Content-type", "application/octet-stream")
	if input.IsLastPart {
		req.Header.Set(LastPartHeader, "true")
	}

	// retryablehttp does not set the length of a seekable body
	if input.Size > 0 || !input.IsLastPart {
		req.Header.Set("Content-Length", strconv.FormatInt(input.Size, 10))
		req.ContentLength = input.Size
	}

	dump, err := httputil.DumpRequest(req.Request, false)
	if err != nil {
		s.logger.Warnf("error while dumping request: %s", err)
	}
	s.logger.Debugf("Part request dump: %s", string(dump))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return multipart.PartResult{}, transportError("upload part", input.PartNumber, err)
	}
	defer s.closeBody(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return multipart.PartResult{}, unwrapError("upload part", input.PartNumber, resp)
	}

	etag := resp.Header.Get("ETag")
	if etag == "" {
		return multipart.PartResult{}, &multipart.TransportError{Op: "upload part", PartNumber: input.PartNumber, Err: fmt.Errorf("response has no ETag header")}
	}

	return multipart.PartResult{
		PartNumber: input.PartNumber,
		ETag:       etag,
	}, nil
}

// CompleteMultipartUpload ...
func (s *Store) CompleteMultipartUpload(ctx context.Context, input multipart.CompleteInput) error {
	parts := make([]completedPart, 0, len(input.Parts))
	for _, p := range input.Parts {
		parts = append(parts, completedPart{PartNumber: p.PartNumber, ETag: p.ETag})
	}
	body, err := json.Marshal(completeRequest{
		Bucket: input.Bucket,
		Key:    input.Key,
		Parts:  parts,
	})
	if err != nil {
		return err
	}

	completeURL := fmt.Sprintf("%s/uploads/%s/complete", s.baseURL, url.PathEscape(input.UploadID))
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, completeURL, body)
	if err != nil {
		return err
	}
	s.authorize(req)
	req.Header.Set("Content-type", "application/json")

	dump, err := httputil.DumpRequest(req.Request, true)
	if err != nil {
		s.logger.Warnf("error while dumping request: %s", err)
	}
	s.logger.Debugf("Complete request dump: %s", string(dump))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return transportError("complete", 0, err)
	}
	defer s.closeBody(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return unwrapError("complete", 0, resp)
	}
	return nil
}

// AbortMultipartUpload treats 404 as an upload that is already gone.
func (s *Store) AbortMultipartUpload(ctx context.Context, input multipart.AbortInput) error {
	abortURL := fmt.Sprintf("%s/uploads/%s", s.baseURL, url.PathEscape(input.UploadID))
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodDelete, abortURL, nil)
	if err != nil {
		return err
	}
	s.authorize(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return transportError("abort", 0, err)
	}
	defer s.closeBody(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		s.logger.Debugf("Upload %s is already gone", input.UploadID)
		return nil
	default:
		return unwrapError("abort", 0, resp)
	}
}

func (s *Store) authorize(req *retryablehttp.Request) {
	if s.accessToken != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", s.accessToken))
	}
}

func (s *Store) closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		s.logger.Printf(err.Error())
	}
}

func transportError(op string, partNumber int32, err error) error {
	return &multipart.TransportError{Op: op, PartNumber: partNumber, Err: err}
}

func unwrapError(op string, partNumber int32, resp *http.Response) error {
	errorResp, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportError(op, partNumber, err)
	}
	return &multipart.TransportError{
		Op:         op,
		PartNumber: partNumber,
		Code:       strconv.Itoa(resp.StatusCode),
		Err:        fmt.Errorf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(errorResp)),
	}
}
