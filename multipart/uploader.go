package multipart

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"golang.org/x/sync/errgroup"
)

const abortTimeout = 30 * time.Second

// Uploader drives multipart uploads against a Store.
type Uploader struct {
	store  Store
	config Config
	logger log.Logger
	stats  *Stats
}

// NewUploader creates a new Uploader. Zero fields of config fall back to DefaultConfig.
func NewUploader(store Store, config Config, logger log.Logger) *Uploader {
	return &Uploader{
		store:  store,
		config: config.withDefaults(),
		logger: logger,
		stats:  NewStats(),
	}
}

// Stats returns the part statistics collected across uploads.
func (u *Uploader) Stats() *Stats {
	return u.stats
}

// Upload uploads the payload described by input as one multipart upload.
//
// If a part fails, the remaining parts are canceled, the remote session is aborted
// and the part's error is returned as it was received from the Store. If ctx is
// canceled the session is aborted and a *CanceledError is returned.
func (u *Uploader) Upload(ctx context.Context, input UploadInput) (*UploadOutput, error) {
	if input.AutoClose && input.FilePath == "" && input.Body != nil {
		defer u.closeBody(input.Body)
	}
	src, err := prepareSource(input)
	if err != nil {
		return nil, err
	}

	partSize, err := PlanPartSize(src.length, input.PartSize, u.config.MinPartSize, u.config.MaxPartCount)
	if err != nil {
		return nil, &ConfigurationError{Reason: "plan part size", Err: err}
	}

	init, err := u.store.InitiateMultipartUpload(ctx, InitiateInput{
		Bucket:      input.Bucket,
		Key:         input.Key,
		ContentType: input.ContentType,
		Metadata:    input.Metadata,
	})
	if err != nil {
		return nil, err
	}

	session := &Session{
		Bucket:               input.Bucket,
		Key:                  input.Key,
		UploadID:             init.UploadID,
		ServerSideEncryption: init.ServerSideEncryption,
		PartSize:             partSize,
		ContentLength:        src.length,
	}
	u.logger.Debugf("Upload ID: %s", session.UploadID)

	var results []PartResult
	var size int64
	if src.randomAccess() {
		results, size, err = u.uploadRandomAccess(ctx, session, src, input.Progress)
	} else {
		results, size, err = u.uploadStream(ctx, session, src, input.Progress)
	}
	if err != nil {
		u.abort(ctx, session)
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].PartNumber < results[j].PartNumber
	})

	u.logger.Debugf("Completing upload %s with %d part(s)", session.UploadID, len(results))
	err = u.store.CompleteMultipartUpload(ctx, CompleteInput{
		Bucket:   session.Bucket,
		Key:      session.Key,
		UploadID: session.UploadID,
		Parts:    results,
	})
	if err != nil {
		return nil, err
	}

	u.logger.Donef("Uploaded %s to %s/%s in %d part(s)", humanSize(size), session.Bucket, session.Key, len(results))

	return &UploadOutput{
		UploadID:             session.UploadID,
		ServerSideEncryption: session.ServerSideEncryption,
		Parts:                results,
		Size:                 size,
	}, nil
}

func (u *Uploader) uploadRandomAccess(ctx context.Context, session *Session, src source, progress ProgressFunc) ([]PartResult, int64, error) {
	var plan *RandomAccessPlan
	var err error
	if src.filePath != "" {
		plan, err = NewFilePlan(src.filePath, src.length, session.PartSize, u.config.LastPartPolicy)
	} else {
		plan, err = NewReaderAtPlan(src.readerAt, src.length, session.PartSize, u.config.LastPartPolicy)
	}
	if err != nil {
		return nil, 0, err
	}
	return u.uploadPlan(ctx, session, plan, progress)
}

func (u *Uploader) uploadPlan(ctx context.Context, session *Session, plan *RandomAccessPlan, progress ProgressFunc) ([]PartResult, int64, error) {
	parts := plan.Parts()
	session.PartCount = len(parts)
	capacity := ThrottleCapacity(u.config.Concurrency, !u.config.SequentialPartReads, len(parts))

	u.logger.Infof("Uploading %s in %d part(s) of %s (concurrency: %d)",
		humanSize(plan.totalLength), len(parts), humanSize(plan.PartSize()), capacity)

	d := u.newDispatch(ctx, session, capacity, plan.totalLength, progress)
	defer d.close()

	for _, part := range parts {
		if !d.admit() {
			break
		}
		body, err := plan.Open(part)
		if err != nil {
			d.throttle.Release()
			d.fail(fmt.Errorf("open part %d: %w", part.Number, err))
			break
		}
		d.launch(part, body, plan.sectionLength(part))
	}

	results, err := d.wait()
	if err != nil {
		return nil, 0, err
	}
	if len(results) != session.PartCount {
		return nil, 0, &InvariantViolationError{
			UploadID: session.UploadID,
			Detail:   fmt.Sprintf("%d part(s) completed, %d planned", len(results), session.PartCount),
		}
	}
	return results, plan.totalLength, nil
}

func (u *Uploader) uploadStream(ctx context.Context, session *Session, src source, progress ProgressFunc) ([]PartResult, int64, error) {
	plan, err := NewStreamPlan(src.stream, session.PartSize, u.config.ReadBufferSize)
	if err != nil {
		return nil, 0, err
	}

	u.logger.Infof("Uploading stream in parts of %s", humanSize(session.PartSize))

	d := u.newDispatch(ctx, session, ThrottleCapacity(u.config.Concurrency, false, 0), src.length, progress)
	defer d.close()

	var size int64
	var lastPart int32
	for {
		if !d.admit() {
			break
		}
		part, data, err := plan.NextContext(d.groupCtx)
		if err != nil {
			d.throttle.Release()
			if !errors.Is(err, io.EOF) && d.groupCtx.Err() == nil {
				d.fail(err)
			}
			break
		}
		size += int64(len(data))
		d.launch(part, nopSeekCloser{bytes.NewReader(data)}, int64(len(data)))
		if part.IsLast {
			lastPart = part.Number
			break
		}
	}

	results, err := d.wait()
	if err != nil {
		return nil, 0, err
	}

	session.PartCount = len(results)
	if lastPart == 0 || int(lastPart) != len(results) {
		return nil, 0, &InvariantViolationError{
			UploadID: session.UploadID,
			Detail:   fmt.Sprintf("%d part(s) completed, last part number %d", len(results), lastPart),
		}
	}
	if src.length != UnknownLength && size != src.length {
		return nil, 0, &InvariantViolationError{
			UploadID: session.UploadID,
			Detail:   fmt.Sprintf("read %d byte(s), content length is %d", size, src.length),
		}
	}
	return results, size, nil
}

// abort releases the remote session. It runs detached from ctx's cancellation,
// since a canceled caller is one of the reasons to abort.
func (u *Uploader) abort(ctx context.Context, session *Session) {
	abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abortTimeout)
	defer cancel()

	u.logger.Warnf("Aborting upload %s", session.UploadID)
	err := retry.Times(u.config.AbortRetries).Wait(u.config.AbortRetryWait).TryWithAbort(func(attempt uint) (error, bool) {
		if attempt > 0 {
			u.logger.Debugf("Retrying abort of upload %s (attempt %d)", session.UploadID, attempt+1)
		}
		err := u.store.AbortMultipartUpload(abortCtx, AbortInput{
			Bucket:   session.Bucket,
			Key:      session.Key,
			UploadID: session.UploadID,
		})
		if err != nil {
			return err, abortCtx.Err() != nil
		}
		return nil, true
	})
	if err != nil {
		u.logger.Warnf("Failed to abort upload %s: %s", session.UploadID, err)
	}
}

func (u *Uploader) closeBody(body io.Reader) {
	c, ok := body.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		u.logger.Warnf("Failed to close input: %s", err)
	}
}

func humanSize(n int64) string {
	if n < 0 {
		return "unknown size"
	}
	return units.HumanSizeWithPrecision(float64(n), 3)
}

type partStatus int

const (
	partSucceeded partStatus = iota
	partFailed
	partCanceled
)

type partOutcome struct {
	status partStatus
	result PartResult
	err    error
}

// dispatch runs the parts of one session in an errgroup. The group context is
// derived from the caller's and is canceled by the first failing part, with that
// failure as the cause. Canceled parts report nil, so they never mask it.
type dispatch struct {
	u        *Uploader
	session  *Session
	ctx      context.Context
	cancel   context.CancelFunc
	group    *errgroup.Group
	groupCtx context.Context
	throttle *Throttle
	handles  *handleArena
	progress *ProgressAggregator

	mu      sync.Mutex
	results []PartResult
}

func (u *Uploader) newDispatch(ctx context.Context, session *Session, capacity int, total int64, progress ProgressFunc) *dispatch {
	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)
	return &dispatch{
		u:        u,
		session:  session,
		ctx:      ctx,
		cancel:   cancel,
		group:    group,
		groupCtx: groupCtx,
		throttle: NewThrottle(capacity),
		handles:  &handleArena{},
		progress: NewProgressAggregator(total, u.config.ProgressInterval, progress),
	}
}

// admit takes a throttle permit for the next part. It reports false once the
// session is canceled, in which case no permit is held.
func (d *dispatch) admit() bool {
	if err := d.throttle.Acquire(d.groupCtx); err != nil {
		return false
	}
	if d.groupCtx.Err() != nil {
		d.throttle.Release()
		return false
	}
	return true
}

// launch uploads part in the group. The caller holds a permit for it; the part
// gives it back along with body.
func (d *dispatch) launch(part Part, body io.ReadSeekCloser, readLength int64) {
	d.handles.put(part.Number, body)
	d.group.Go(func() error {
		defer d.throttle.Release()
		defer func() {
			if err := d.handles.release(part.Number); err != nil {
				d.u.logger.Warnf("Failed to close input of part %d: %s", part.Number, err)
			}
		}()

		return d.settle(part, d.uploadPart(part, body, readLength))
	})
}

func (d *dispatch) uploadPart(part Part, body io.ReadSeeker, readLength int64) partOutcome {
	d.u.logger.Debugf("Uploading part %d (%s) [finished=%d] [avg=%v]",
		part.Number, humanSize(readLength), d.u.stats.FinishedCount(), d.u.stats.Average().Round(time.Millisecond))

	tracker := d.progress.Track(part.Number, readLength)
	start := time.Now()

	result, err := d.u.store.UploadPart(d.groupCtx, UploadPartInput{
		Bucket:     d.session.Bucket,
		Key:        d.session.Key,
		UploadID:   d.session.UploadID,
		PartNumber: part.Number,
		Size:       part.Size,
		IsLastPart: part.IsLast,
		Body:       newProgressReader(body, tracker),
	})
	if err != nil {
		if d.groupCtx.Err() != nil {
			return partOutcome{status: partCanceled, err: err}
		}
		return partOutcome{status: partFailed, err: err}
	}
	if result.PartNumber == 0 {
		result.PartNumber = part.Number
	}

	took := time.Since(start)
	d.u.stats.Update(took, readLength)
	d.u.logger.Debugf("Part %d uploaded in %v, ETag: %s", part.Number, took.Round(time.Millisecond), result.ETag)

	return partOutcome{status: partSucceeded, result: result}
}

// settle records a part's outcome and returns the error the group sees.
func (d *dispatch) settle(part Part, outcome partOutcome) error {
	switch outcome.status {
	case partSucceeded:
		d.mu.Lock()
		d.results = append(d.results, outcome.result)
		d.mu.Unlock()
	case partFailed:
		d.u.logger.Warnf("Part %d failed: %s", part.Number, outcome.err)
		return outcome.err
	case partCanceled:
		d.u.logger.Debugf("Part %d canceled: %s", part.Number, outcome.err)
	}
	return nil
}

// fail ends the session with err, unless a part already failed.
func (d *dispatch) fail(err error) {
	d.group.Go(func() error {
		return err
	})
}

// wait blocks until every launched part settled. Once the session is canceled
// the wait is bounded by DrainTimeout. It returns the results or the error that
// ends the session.
func (d *dispatch) wait() ([]PartResult, error) {
	errc := make(chan error, 1)
	go func() {
		errc <- d.group.Wait()
	}()

	var err error
	select {
	case err = <-errc:
	case <-d.groupCtx.Done():
		timer := time.NewTimer(d.u.config.DrainTimeout)
		defer timer.Stop()
		select {
		case err = <-errc:
		case <-timer.C:
			d.u.logger.Warnf("Upload %s: %d part(s) still running after %s, proceeding with abort",
				d.session.UploadID, d.handles.len(), d.u.config.DrainTimeout)
			err = d.failure()
		}
	}

	if err != nil {
		return nil, err
	}
	if ctxErr := d.ctx.Err(); ctxErr != nil {
		return nil, &CanceledError{UploadID: d.session.UploadID, Err: ctxErr}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]PartResult(nil), d.results...), nil
}

// failure is the error the group was canceled with. It is nil when the
// caller's cancellation came first.
func (d *dispatch) failure() error {
	cause := context.Cause(d.groupCtx)
	if cause == nil || cause == context.Cause(d.ctx) {
		return nil
	}
	return cause
}

func (d *dispatch) close() {
	d.cancel()
	if err := d.handles.releaseAll(); err != nil {
		d.u.logger.Warnf("Failed to close part inputs: %s", err)
	}
}
