package multipart

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// StreamPlan cuts a sequential source into parts while reading it. It holds at most
// partSize plus one read buffer of data, and reads one chunk ahead so that the last
// part is known to be last before it is handed out.
// It is not safe for concurrent use; streaming uploads run with a concurrency of 1.
type StreamPlan struct {
	r          io.Reader
	partSize   int64
	bufferSize int

	pending []byte
	buf     []byte
	eof     bool
	done    bool
	next    int32
}

// NewStreamPlan creates a plan reading r in chunks of bufferSize bytes.
func NewStreamPlan(r io.Reader, partSize int64, bufferSize int) (*StreamPlan, error) {
	if partSize <= 0 {
		return nil, fmt.Errorf("part size %d: %w", partSize, ErrInvalidArgument)
	}
	if bufferSize <= 0 {
		bufferSize = DefaultReadBufferSize
	}
	return &StreamPlan{
		r:          r,
		partSize:   partSize,
		bufferSize: bufferSize,
		buf:        make([]byte, bufferSize),
		next:       1,
	}, nil
}

// Next returns the next part and its data. After the part marked IsLast it returns io.EOF.
func (p *StreamPlan) Next() (Part, []byte, error) {
	if p.done {
		return Part{}, nil, io.EOF
	}

	// A part is only cut once more than partSize bytes are pending, which proves
	// there is data after it. Otherwise the read-ahead has to hit end of input first.
	for int64(len(p.pending)) <= p.partSize && !p.eof {
		if err := p.readAhead(); err != nil {
			return Part{}, nil, err
		}
	}

	var data []byte
	isLast := false
	if int64(len(p.pending)) > p.partSize {
		data = make([]byte, p.partSize)
		copy(data, p.pending)
		p.pending = p.pending[:copy(p.pending, p.pending[p.partSize:])]
	} else {
		data = make([]byte, len(p.pending))
		copy(data, p.pending)
		p.pending = p.pending[:0]
		isLast = true
		p.done = true
	}

	part := Part{
		Number: p.next,
		Offset: int64(p.next-1) * p.partSize,
		Size:   int64(len(data)),
		IsLast: isLast,
	}
	p.next++
	return part, data, nil
}

type streamPart struct {
	part Part
	data []byte
	err  error
}

// NextContext is Next bounded by ctx. The read runs in its own goroutine, so a
// source blocked in Read does not hold up the caller once ctx is done. After
// ctx is done the plan must not be used again: the abandoned read may still be
// running.
func (p *StreamPlan) NextContext(ctx context.Context) (Part, []byte, error) {
	if err := ctx.Err(); err != nil {
		return Part{}, nil, context.Cause(ctx)
	}

	ch := make(chan streamPart, 1)
	go func() {
		part, data, err := p.Next()
		ch <- streamPart{part: part, data: data, err: err}
	}()

	select {
	case r := <-ch:
		return r.part, r.data, r.err
	case <-ctx.Done():
		return Part{}, nil, context.Cause(ctx)
	}
}

func (p *StreamPlan) readAhead() error {
	n, err := p.r.Read(p.buf)
	if n > 0 {
		p.pending = append(p.pending, p.buf[:n]...)
	}
	if errors.Is(err, io.EOF) {
		p.eof = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("read part %d: %w", p.next, err)
	}
	return nil
}
