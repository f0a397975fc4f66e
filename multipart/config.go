package multipart

import (
	"runtime"
	"time"
)

const (
	// DefaultMinPartSize is the smallest part size most S3 compatible stores accept
	// for any part but the last.
	DefaultMinPartSize int64 = 5 * 1024 * 1024
	// DefaultMaxPartCount is the maximum number of parts in one upload.
	DefaultMaxPartCount = 10000
	// DefaultProgressInterval is the number of bytes a part reads between progress events.
	DefaultProgressInterval int64 = 64 * 1024
	// DefaultReadBufferSize is the read-ahead chunk used by the streaming plan.
	DefaultReadBufferSize = 64 * 1024
	// DefaultDrainTimeout bounds the wait for in-flight parts after a failure.
	DefaultDrainTimeout = 5 * time.Second
)

// Config holds configuration for the Uploader.
type Config struct {
	// Concurrency is the maximum number of parallel part uploads.
	// Default: min(NumCPU * 3, 20), minimum 2
	Concurrency int

	// MinPartSize and MaxPartCount are the store's protocol limits used to plan
	// the part size when the caller does not force one.
	MinPartSize  int64
	MaxPartCount int

	ProgressInterval int64
	ReadBufferSize   int

	// SequentialPartReads forces parts of a random-access source to be read one
	// at a time. Stores that wrap the payload (e.g. client-side encryption) need it.
	SequentialPartReads bool

	// LastPartPolicy adjusts the final part of a random-access plan.
	// Default: DefaultLastPartPolicy
	LastPartPolicy LastPartPolicy

	// DrainTimeout bounds the wait for still running parts once the upload failed.
	DrainTimeout time.Duration

	// AbortRetries is the number of extra abort attempts after a failed one.
	AbortRetries   uint
	AbortRetryWait time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency:      DefaultConcurrency(),
		MinPartSize:      DefaultMinPartSize,
		MaxPartCount:     DefaultMaxPartCount,
		ProgressInterval: DefaultProgressInterval,
		ReadBufferSize:   DefaultReadBufferSize,
		LastPartPolicy:   DefaultLastPartPolicy,
		DrainTimeout:     DefaultDrainTimeout,
		AbortRetries:     2,
		AbortRetryWait:   time.Second,
	}
}

// DefaultConcurrency calculates the default concurrency based on CPU count.
func DefaultConcurrency() int {
	c := runtime.NumCPU() * 3

	if c > 20 {
		c = 20
	}

	if c < 2 {
		c = 2
	}

	return c
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.MinPartSize <= 0 {
		c.MinPartSize = d.MinPartSize
	}
	if c.MaxPartCount <= 0 {
		c.MaxPartCount = d.MaxPartCount
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = d.ProgressInterval
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.LastPartPolicy == nil {
		c.LastPartPolicy = d.LastPartPolicy
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = d.DrainTimeout
	}
	return c
}
