// Command multipart-upload uploads files to an object store with parallel multipart uploads.
//
// Usage:
//
//	multipart-upload <path|glob>...
//
// The store and its credentials are configured with MULTIPART_* environment variables.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bitrise-io/go-transfer/multipart"
	"github.com/bitrise-io/go-transfer/multipart/httpstore"
	"github.com/bitrise-io/go-transfer/multipart/memstore"
	"github.com/bitrise-io/go-transfer/multipart/miniostore"
	"github.com/bitrise-io/go-transfer/multipart/s3store"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/docker/go-units"
	"github.com/klauspost/compress/zstd"
)

func main() {
	logger := log.NewLogger()
	if err := run(os.Args[1:], env.NewRepository(), logger); err != nil {
		logger.Errorf("%s", err)
		os.Exit(1)
	}
}

func run(args []string, envRepo env.Repository, logger log.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reader := configReader{
		envRepo:      envRepo,
		logger:       logger,
		pathModifier: pathutil.NewPathModifier(),
		pathChecker:  pathutil.NewPathChecker(),
	}
	config, err := reader.createConfig(args)
	if err != nil {
		return fmt.Errorf("failed to parse inputs: %w", err)
	}
	logger.EnableDebugLog(config.Verbose)

	store, uploaderConfig, err := newStore(ctx, config, logger)
	if err != nil {
		return fmt.Errorf("failed to create %s store: %w", config.Store, err)
	}
	if config.Concurrency > 0 {
		uploaderConfig.Concurrency = config.Concurrency
	}
	uploader := multipart.NewUploader(store, uploaderConfig, logger)

	for _, t := range config.Targets {
		logger.Println()
		if err := uploadTarget(ctx, uploader, config, t, logger); err != nil {
			return fmt.Errorf("upload %s: %w", t.Path, err)
		}
	}

	stats := uploader.Stats()
	logger.Printf("Parts uploaded: %d (%s), average part time: %s",
		stats.FinishedCount(), units.HumanSizeWithPrecision(float64(stats.Bytes()), 3), stats.Average().Round(time.Millisecond))
	return nil
}

func newStore(ctx context.Context, config uploadConfig, logger log.Logger) (multipart.Store, multipart.Config, error) {
	switch config.Store {
	case storeS3:
		store, err := s3store.NewFromParams(ctx, s3store.Params{
			Region:          config.Region,
			AccessKeyID:     config.AccessKeyID,
			SecretAccessKey: config.SecretAccessKey,
			Endpoint:        config.Endpoint,
			UsePathStyle:    config.Endpoint != "",
		}, logger)
		return store, s3store.DefaultConfig(), err
	case storeMinio:
		endpoint, secure := minioEndpoint(config.Endpoint)
		store, err := miniostore.NewFromParams(miniostore.Params{
			Endpoint:        endpoint,
			AccessKeyID:     config.AccessKeyID,
			SecretAccessKey: config.SecretAccessKey,
			Region:          config.Region,
			Secure:          secure,
		}, logger)
		return store, multipart.DefaultConfig(), err
	case storeHTTP:
		store, err := httpstore.NewFromParams(httpstore.Params{
			BaseURL: config.HTTPURL,
			Token:   config.HTTPToken,
		}, logger)
		return store, multipart.DefaultConfig(), err
	case storeMemory:
		return memstore.New(), multipart.DefaultConfig(), nil
	default:
		return nil, multipart.Config{}, fmt.Errorf("unknown store: %s", config.Store)
	}
}

func uploadTarget(ctx context.Context, uploader *multipart.Uploader, config uploadConfig, t target, logger log.Logger) error {
	input := multipart.UploadInput{
		Bucket:   config.Bucket,
		Key:      t.Key,
		PartSize: config.PartSize,
		Progress: newProgressPrinter(logger).print,
	}

	if config.Compress == compressZstd {
		input.Key += ".zst"
		input.ContentType = "application/zstd"
		input.Body = compressFile(t.Path)
		input.AutoClose = true
	} else {
		input.FilePath = t.Path
	}

	logger.Infof("Uploading %s to %s/%s", t.Path, input.Bucket, input.Key)
	start := time.Now()
	output, err := uploader.Upload(ctx, input)
	if err != nil {
		return err
	}
	logger.Donef("Uploaded %s in %s (upload ID: %s)",
		units.HumanSizeWithPrecision(float64(output.Size), 3), time.Since(start).Round(time.Second), output.UploadID)
	return nil
}

// compressFile streams the zstd compressed content of path. Closing the returned
// reader stops the compression.
func compressFile(path string) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(compressTo(pw, path))
	}()
	return pr
}

func compressTo(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	enc, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("create zstd encoder: %w", err)
	}
	if _, err := io.Copy(enc, f); err != nil {
		enc.Close()
		return fmt.Errorf("compress: %w", err)
	}
	return enc.Close()
}

type progressPrinter struct {
	logger      log.Logger
	lastPercent int64
	lastBytes   int64
}

func newProgressPrinter(logger log.Logger) *progressPrinter {
	return &progressPrinter{logger: logger, lastPercent: -10}
}

// print logs every 10% of a known total, or every 16 MiB of an unknown one.
func (p *progressPrinter) print(event multipart.ProgressEvent) {
	if event.Total > 0 {
		percent := event.Transferred * 100 / event.Total
		if percent/10 == p.lastPercent/10 {
			return
		}
		p.lastPercent = percent
		p.logger.Printf("%3d%% (%s / %s)", percent,
			units.HumanSizeWithPrecision(float64(event.Transferred), 3), units.HumanSizeWithPrecision(float64(event.Total), 3))
		return
	}

	if event.Transferred-p.lastBytes < 16*1024*1024 {
		return
	}
	p.lastBytes = event.Transferred
	p.logger.Printf("%s uploaded", units.HumanSizeWithPrecision(float64(event.Transferred), 3))
}
