package multipart

import (
	"fmt"
	"io"
	"os"
)

type source struct {
	length   int64
	filePath string
	readerAt io.ReaderAt
	stream   io.Reader
}

func (s source) randomAccess() bool {
	return s.filePath != "" || s.readerAt != nil
}

func prepareSource(input UploadInput) (source, error) {
	if input.Bucket == "" {
		return source{}, &ConfigurationError{Reason: "bucket must not be empty"}
	}
	if input.Key == "" {
		return source{}, &ConfigurationError{Reason: "key must not be empty"}
	}
	if input.FilePath == "" && input.Body == nil {
		return source{}, &ConfigurationError{Reason: "either a file path or a body is required"}
	}
	if input.FilePath != "" && input.Body != nil {
		return source{}, &ConfigurationError{Reason: "file path and body are mutually exclusive"}
	}
	if input.PartSize < 0 {
		return source{}, &ConfigurationError{Reason: fmt.Sprintf("part size must not be negative, got %d", input.PartSize)}
	}
	if input.ContentLength != nil && *input.ContentLength < 0 {
		return source{}, &ConfigurationError{Reason: fmt.Sprintf("content length must not be negative, got %d", *input.ContentLength)}
	}

	if input.FilePath != "" {
		info, err := os.Stat(input.FilePath)
		if err != nil {
			return source{}, &ConfigurationError{Reason: "stat file", Err: err}
		}
		if !info.Mode().IsRegular() {
			return source{}, &ConfigurationError{Reason: fmt.Sprintf("%s is not a regular file", input.FilePath)}
		}
		length := info.Size()
		if input.ContentLength != nil {
			if *input.ContentLength > length {
				return source{}, &ConfigurationError{Reason: fmt.Sprintf("content length %d exceeds file size %d", *input.ContentLength, length)}
			}
			length = *input.ContentLength
		}
		return source{length: length, filePath: input.FilePath}, nil
	}

	if input.ContentLength == nil {
		return source{length: UnknownLength, stream: input.Body}, nil
	}
	if ra, ok := input.Body.(io.ReaderAt); ok {
		return source{length: *input.ContentLength, readerAt: ra}, nil
	}
	return source{length: *input.ContentLength, stream: input.Body}, nil
}
