package multipart

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestFile(t *testing.T, size int) (string, []byte) {
	t.Helper()

	content := make([]byte, size)
	for i := range content {
		content[i] = byte(i % 251)
	}
	path := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(path, content, 0644))
	return path, content
}

func readPart(t *testing.T, plan *RandomAccessPlan, part Part) []byte {
	t.Helper()

	r, err := plan.Open(part)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, r.Close())
	}()

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return data
}

func TestNewFilePlan(t *testing.T) {
	path, content := writeTestFile(t, 100)

	plan, err := NewFilePlan(path, 100, 30, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(30), plan.PartSize())

	parts := plan.Parts()
	assert.Equal(t, []Part{
		{Number: 1, Offset: 0, Size: 30},
		{Number: 2, Offset: 30, Size: 30},
		{Number: 3, Offset: 60, Size: 30},
		{Number: 4, Offset: 90, Size: 10, IsLast: true},
	}, parts)

	var sum int64
	var joined []byte
	for _, part := range parts {
		sum += part.Size
		joined = append(joined, readPart(t, plan, part)...)
	}
	assert.Equal(t, int64(100), sum)
	assert.Equal(t, content, joined)
}

func TestNewFilePlan_partsReadIndependently(t *testing.T) {
	path, content := writeTestFile(t, 64)

	plan, err := NewFilePlan(path, 64, 16, nil)
	require.NoError(t, err)

	readers := make([]io.ReadSeekCloser, 0, 4)
	for _, part := range plan.Parts() {
		r, err := plan.Open(part)
		require.NoError(t, err)
		readers = append(readers, r)
	}

	// read in reverse order to make sure no reader shares a position
	for i := len(readers) - 1; i >= 0; i-- {
		data, err := io.ReadAll(readers[i])
		require.NoError(t, err)
		assert.Equal(t, content[i*16:(i+1)*16], data)
		require.NoError(t, readers[i].Close())
	}
}

func TestNewFilePlan_emptyFile(t *testing.T) {
	path, _ := writeTestFile(t, 0)

	plan, err := NewFilePlan(path, 0, 5*1024*1024, nil)
	require.NoError(t, err)

	parts := plan.Parts()
	require.Len(t, parts, 1)
	assert.Equal(t, Part{Number: 1, Offset: 0, Size: 0, IsLast: true}, parts[0])
	assert.Empty(t, readPart(t, plan, parts[0]))
}

func TestNewFilePlan_unsizedLastPart(t *testing.T) {
	path, content := writeTestFile(t, 25)

	plan, err := NewFilePlan(path, 25, 10, UnsizedLastPartPolicy)
	require.NoError(t, err)

	parts := plan.Parts()
	require.Len(t, parts, 3)
	assert.Equal(t, int64(10), parts[0].Size)
	assert.Equal(t, int64(10), parts[1].Size)
	assert.Equal(t, Part{Number: 3, Offset: 20, Size: 0, IsLast: true}, parts[2])

	// the advertised size is 0 but the part still reads its section
	assert.Equal(t, content[20:], readPart(t, plan, parts[2]))
}

func TestNewFilePlan_missingFile(t *testing.T) {
	plan, err := NewFilePlan(filepath.Join(t.TempDir(), "missing"), 10, 5, nil)
	require.NoError(t, err)

	_, err = plan.Open(plan.Parts()[0])
	assert.Error(t, err)
}

func TestNewReaderAtPlan(t *testing.T) {
	content := bytes.Repeat([]byte("abcdefghij"), 7)

	plan, err := NewReaderAtPlan(bytes.NewReader(content), int64(len(content)), 32, nil)
	require.NoError(t, err)

	parts := plan.Parts()
	require.Len(t, parts, 3)

	var joined []byte
	for _, part := range parts {
		joined = append(joined, readPart(t, plan, part)...)
	}
	assert.Equal(t, content, joined)
}

func TestNewRandomAccessPlan_invalidArguments(t *testing.T) {
	_, err := NewReaderAtPlan(bytes.NewReader(nil), UnknownLength, 5, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = NewReaderAtPlan(bytes.NewReader(nil), 10, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
