package multipart

import (
	"fmt"
	"io"
	"os"
)

// LastPartPolicy adjusts the final part of a random-access plan before it is dispatched.
type LastPartPolicy func(Part) Part

// DefaultLastPartPolicy leaves the final part as planned.
func DefaultLastPartPolicy(p Part) Part {
	return p
}

// UnsizedLastPartPolicy advertises the final part with size 0, asking the store to
// read the body to its end. Some client-side encryption layers need this because
// they append data to the last part.
func UnsizedLastPartPolicy(p Part) Part {
	p.Size = 0
	return p
}

// RandomAccessPlan splits a source of known length whose positions can be read
// independently. Every part gets its own reader positioned at its offset.
type RandomAccessPlan struct {
	totalLength int64
	partSize    int64
	parts       []Part
	open        func(offset, length int64) (io.ReadSeekCloser, error)
}

// NewFilePlan plans a file. Each part opens its own descriptor.
func NewFilePlan(path string, totalLength, partSize int64, policy LastPartPolicy) (*RandomAccessPlan, error) {
	open := func(offset, length int64) (io.ReadSeekCloser, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open file: %w", err)
		}
		return &fileSection{SectionReader: io.NewSectionReader(f, offset, length), file: f}, nil
	}
	return newRandomAccessPlan(totalLength, partSize, policy, open)
}

// NewReaderAtPlan plans an io.ReaderAt. Parts share r through independent section readers.
func NewReaderAtPlan(r io.ReaderAt, totalLength, partSize int64, policy LastPartPolicy) (*RandomAccessPlan, error) {
	open := func(offset, length int64) (io.ReadSeekCloser, error) {
		return nopSeekCloser{io.NewSectionReader(r, offset, length)}, nil
	}
	return newRandomAccessPlan(totalLength, partSize, policy, open)
}

func newRandomAccessPlan(totalLength, partSize int64, policy LastPartPolicy, open func(offset, length int64) (io.ReadSeekCloser, error)) (*RandomAccessPlan, error) {
	if totalLength < 0 {
		return nil, fmt.Errorf("random-access plan needs a known length, got %d: %w", totalLength, ErrInvalidArgument)
	}
	if partSize <= 0 {
		return nil, fmt.Errorf("part size %d: %w", partSize, ErrInvalidArgument)
	}
	if policy == nil {
		policy = DefaultLastPartPolicy
	}

	n := PartCount(totalLength, partSize)
	parts := make([]Part, n)
	for i := 0; i < n; i++ {
		offset := int64(i) * partSize
		size := partSize
		if i == n-1 {
			size = totalLength - offset
		}
		parts[i] = Part{
			Number: int32(i + 1),
			Offset: offset,
			Size:   size,
			IsLast: i == n-1,
		}
	}
	parts[n-1] = policy(parts[n-1])
	parts[n-1].IsLast = true

	return &RandomAccessPlan{
		totalLength: totalLength,
		partSize:    partSize,
		parts:       parts,
		open:        open,
	}, nil
}

// Parts returns the fixed part list in ascending part number order.
func (p *RandomAccessPlan) Parts() []Part {
	return p.parts
}

// PartSize ...
func (p *RandomAccessPlan) PartSize() int64 {
	return p.partSize
}

// Open returns a dedicated reader for part. The caller owns and closes it.
func (p *RandomAccessPlan) Open(part Part) (io.ReadSeekCloser, error) {
	return p.open(part.Offset, p.sectionLength(part))
}

// sectionLength is the number of bytes part reads, independent of the size a
// LastPartPolicy advertises.
func (p *RandomAccessPlan) sectionLength(part Part) int64 {
	if part.IsLast {
		return p.totalLength - part.Offset
	}
	return p.partSize
}

type fileSection struct {
	*io.SectionReader
	file *os.File
}

func (f *fileSection) Close() error {
	return f.file.Close()
}

type nopSeekCloser struct {
	io.ReadSeeker
}

func (nopSeekCloser) Close() error { return nil }
