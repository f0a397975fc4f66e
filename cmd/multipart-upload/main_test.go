package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/bitrise-io/go-transfer/multipart"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_compressFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	content := bytes.Repeat([]byte("multipart upload "), 100000)
	require.NoError(t, os.WriteFile(path, content, 0644))

	r := compressFile(path)
	defer r.Close()

	dec, err := zstd.NewReader(r)
	require.NoError(t, err)
	defer dec.Close()

	got, err := io.ReadAll(dec)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func Test_compressFile_missingFile(t *testing.T) {
	r := compressFile(filepath.Join(t.TempDir(), "missing"))
	defer r.Close()

	_, err := io.ReadAll(r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open file")
}

func Test_run_memoryStore(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"))
	writeFile(t, filepath.Join(dir, "b.txt"))

	for _, compress := range []string{"", "zstd"} {
		t.Run("compress="+compress, func(t *testing.T) {
			envRepo := fakeEnvRepo{envVars: map[string]string{
				"MULTIPART_STORE":    "memory",
				"MULTIPART_BUCKET":   "bucket",
				"MULTIPART_COMPRESS": compress,
			}}

			err := run([]string{filepath.Join(dir, "*.txt")}, envRepo, log.NewLogger())
			require.NoError(t, err)
		})
	}
}

func Test_progressPrinter(t *testing.T) {
	p := newProgressPrinter(log.NewLogger())

	p.print(multipart.ProgressEvent{Transferred: 5, Total: 100})
	assert.Equal(t, int64(5), p.lastPercent)

	p.print(multipart.ProgressEvent{Transferred: 9, Total: 100})
	assert.Equal(t, int64(5), p.lastPercent)

	p.print(multipart.ProgressEvent{Transferred: 25, Total: 100})
	assert.Equal(t, int64(25), p.lastPercent)

	p.print(multipart.ProgressEvent{Transferred: 1024, Total: multipart.UnknownLength})
	assert.Equal(t, int64(0), p.lastBytes)

	p.print(multipart.ProgressEvent{Transferred: 32 * 1024 * 1024, Total: multipart.UnknownLength})
	assert.Equal(t, int64(32*1024*1024), p.lastBytes)
}
