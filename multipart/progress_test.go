package multipart

import (
	"bytes"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []ProgressEvent
}

func (r *eventRecorder) record(e ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) all() []ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ProgressEvent(nil), r.events...)
}

func TestProgressAggregator_restartedReadIsCompensated(t *testing.T) {
	recorder := &eventRecorder{}
	agg := NewProgressAggregator(200, 50, recorder.record)
	tracker := agg.Track(1, 200)

	tracker.OnBytesRead(100)
	assert.Equal(t, int64(100), agg.Transferred())

	// a transport retry starts the part over
	tracker.Restart()
	tracker.OnBytesRead(60)
	assert.Equal(t, int64(60), agg.Transferred())

	events := recorder.all()
	require.Len(t, events, 2)
	assert.Equal(t, ProgressEvent{Increment: 100, Transferred: 100, Total: 200}, events[0])
	assert.Equal(t, ProgressEvent{Increment: 60, Transferred: 100, Total: 200, RetryCompensation: 100}, events[1])

	tracker.OnBytesRead(140)
	assert.Equal(t, int64(200), agg.Transferred())
	events = recorder.all()
	require.Len(t, events, 3)
	assert.Equal(t, int64(200), events[2].Transferred)
	assert.Equal(t, int64(0), events[2].RetryCompensation)
}

func TestProgressAggregator_restartBeforeFirstReadIsNoop(t *testing.T) {
	recorder := &eventRecorder{}
	agg := NewProgressAggregator(10, 5, recorder.record)
	tracker := agg.Track(1, 10)

	tracker.Restart()
	tracker.OnBytesRead(10)

	events := recorder.all()
	require.Len(t, events, 1)
	assert.Equal(t, int64(0), events[0].RetryCompensation)
	assert.Equal(t, int64(10), agg.Transferred())
}

func TestProgressAggregator_reportsOnIntervalAndPartEnd(t *testing.T) {
	recorder := &eventRecorder{}
	agg := NewProgressAggregator(25, 10, recorder.record)
	tracker := agg.Track(1, 25)

	for i := 0; i < 25; i++ {
		tracker.OnBytesRead(1)
	}

	var increments []int64
	for _, e := range recorder.all() {
		increments = append(increments, e.Increment)
	}
	assert.Equal(t, []int64{10, 10, 5}, increments)
}

func TestProgressAggregator_concurrentParts(t *testing.T) {
	const parts = 8
	const partSize = 1000

	recorder := &eventRecorder{}
	agg := NewProgressAggregator(parts*partSize, 64, recorder.record)

	var wg sync.WaitGroup
	for i := 0; i < parts; i++ {
		tracker := agg.Track(int32(i+1), partSize)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for read := 0; read < partSize; read += 10 {
				tracker.OnBytesRead(10)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(parts*partSize), agg.Transferred())

	events := recorder.all()
	require.NotEmpty(t, events)
	for i := 1; i < len(events); i++ {
		assert.GreaterOrEqual(t, events[i].Transferred, events[i-1].Transferred)
	}
	assert.Equal(t, int64(parts*partSize), events[len(events)-1].Transferred)
}

func TestProgressAggregator_nilSink(t *testing.T) {
	agg := NewProgressAggregator(UnknownLength, 0, nil)
	tracker := agg.Track(1, UnknownLength)
	tracker.OnBytesRead(DefaultProgressInterval)
	assert.Equal(t, DefaultProgressInterval, agg.Transferred())
}

func TestProgressReader_seekToStartRestarts(t *testing.T) {
	recorder := &eventRecorder{}
	agg := NewProgressAggregator(100, 1, recorder.record)
	data := bytes.Repeat([]byte{'x'}, 100)
	r := newProgressReader(bytes.NewReader(data), agg.Track(1, 100))

	buf := make([]byte, 40)
	_, err := io.ReadFull(r, buf)
	require.NoError(t, err)
	assert.Equal(t, int64(40), agg.Transferred())

	_, err = r.Seek(0, io.SeekStart)
	require.NoError(t, err)

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, int64(100), agg.Transferred())

	var compensation int64
	for _, e := range recorder.all() {
		compensation += e.RetryCompensation
	}
	assert.Equal(t, int64(40), compensation)
}
