package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/docker/go-units"
)

const (
	storeS3     = "s3"
	storeMinio  = "minio"
	storeHTTP   = "http"
	storeMemory = "memory"

	compressZstd = "zstd"
)

type target struct {
	Path string
	Key  string
}

type uploadConfig struct {
	Store           string
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	HTTPURL         string
	HTTPToken       string
	Concurrency     int
	PartSize        int64
	Compress        string
	Verbose         bool
	Targets         []target
}

type configReader struct {
	envRepo      env.Repository
	logger       log.Logger
	pathModifier pathutil.PathModifier
	pathChecker  pathutil.PathChecker
}

func (r configReader) createConfig(args []string) (uploadConfig, error) {
	config := uploadConfig{
		Store:           strings.ToLower(strings.TrimSpace(r.envRepo.Get("MULTIPART_STORE"))),
		Bucket:          strings.TrimSpace(r.envRepo.Get("MULTIPART_BUCKET")),
		Region:          r.envRepo.Get("MULTIPART_REGION"),
		Endpoint:        r.envRepo.Get("MULTIPART_ENDPOINT"),
		AccessKeyID:     r.envRepo.Get("MULTIPART_ACCESS_KEY_ID"),
		SecretAccessKey: r.envRepo.Get("MULTIPART_SECRET_ACCESS_KEY"),
		HTTPURL:         r.envRepo.Get("MULTIPART_HTTP_URL"),
		HTTPToken:       r.envRepo.Get("MULTIPART_HTTP_TOKEN"),
		Compress:        strings.ToLower(strings.TrimSpace(r.envRepo.Get("MULTIPART_COMPRESS"))),
		Verbose:         r.envRepo.Get("MULTIPART_VERBOSE") == "true",
	}

	if config.Store == "" {
		config.Store = storeS3
	}
	switch config.Store {
	case storeS3:
		if config.Region == "" {
			return uploadConfig{}, fmt.Errorf("MULTIPART_REGION is required for the s3 store")
		}
	case storeMinio:
		if config.Endpoint == "" {
			return uploadConfig{}, fmt.Errorf("MULTIPART_ENDPOINT is required for the minio store")
		}
	case storeHTTP:
		if config.HTTPURL == "" {
			return uploadConfig{}, fmt.Errorf("MULTIPART_HTTP_URL is required for the http store")
		}
	case storeMemory:
	default:
		return uploadConfig{}, fmt.Errorf("unknown store %q, valid values: s3, minio, http, memory", config.Store)
	}

	if config.Bucket == "" {
		return uploadConfig{}, fmt.Errorf("MULTIPART_BUCKET should not be empty")
	}

	if config.Compress != "" && config.Compress != compressZstd {
		return uploadConfig{}, fmt.Errorf("unsupported compression %q, valid values: zstd", config.Compress)
	}

	if v := strings.TrimSpace(r.envRepo.Get("MULTIPART_CONCURRENCY")); v != "" {
		concurrency, err := strconv.Atoi(v)
		if err != nil || concurrency < 1 {
			return uploadConfig{}, fmt.Errorf("MULTIPART_CONCURRENCY should be a positive integer, got %q", v)
		}
		config.Concurrency = concurrency
	}

	if v := strings.TrimSpace(r.envRepo.Get("MULTIPART_PART_SIZE")); v != "" {
		partSize, err := units.RAMInBytes(v)
		if err != nil || partSize < 1 {
			return uploadConfig{}, fmt.Errorf("MULTIPART_PART_SIZE should be a size like 8MiB, got %q", v)
		}
		config.PartSize = partSize
	}

	if len(args) == 0 {
		return uploadConfig{}, fmt.Errorf("no paths provided")
	}
	targets, err := r.evaluatePaths(args, r.envRepo.Get("MULTIPART_KEY_PREFIX"))
	if err != nil {
		return uploadConfig{}, fmt.Errorf("failed to parse paths: %w", err)
	}
	if len(targets) == 0 {
		return uploadConfig{}, fmt.Errorf("none of the provided paths matched a file")
	}
	config.Targets = targets

	return config, nil
}

// evaluatePaths expands glob patterns and keeps the regular files. A file matched
// by a pattern keeps its path relative to the pattern base in its key.
func (r configReader) evaluatePaths(paths []string, keyPrefix string) ([]target, error) {
	var candidates []target
	for _, path := range paths {
		if !strings.Contains(path, "*") {
			candidates = append(candidates, target{Path: path, Key: keyPrefix + filepath.Base(path)})
			continue
		}

		base, pattern := doublestar.SplitPattern(path)
		absBase, err := r.pathModifier.AbsPath(base) // resolves ~/ and expands any envs
		if err != nil {
			return nil, err
		}
		matches, err := doublestar.Glob(os.DirFS(absBase), pattern, doublestar.WithNoFollow(), doublestar.WithFilesOnly())
		if err != nil {
			r.logger.Warnf("Error in path pattern '%s': %s", path, err)
			continue
		}
		if len(matches) == 0 {
			r.logger.Warnf("No match for path pattern: %s", path)
			continue
		}

		for _, match := range matches {
			candidates = append(candidates, target{
				Path: filepath.Join(absBase, match),
				Key:  keyPrefix + filepath.ToSlash(match),
			})
		}
	}

	var targets []target
	for _, c := range candidates {
		absPath, err := r.pathModifier.AbsPath(c.Path)
		if err != nil {
			r.logger.Warnf("Failed to parse path %s, error: %s", c.Path, err)
			continue
		}

		exists, err := r.pathChecker.IsPathExists(absPath)
		if err != nil {
			r.logger.Warnf("Failed to check path %s, error: %s", absPath, err)
		}
		if !exists {
			r.logger.Warnf("Path doesn't exist: %s", c.Path)
			continue
		}
		isDir, err := r.pathChecker.IsDirExists(absPath)
		if err == nil && isDir {
			r.logger.Warnf("Skipping directory: %s", c.Path)
			continue
		}

		targets = append(targets, target{Path: absPath, Key: c.Key})
	}

	return targets, nil
}

// minioEndpoint splits an optional scheme off endpoint. Without a scheme TLS is used.
func minioEndpoint(endpoint string) (string, bool) {
	switch {
	case strings.HasPrefix(endpoint, "http://"):
		return strings.TrimPrefix(endpoint, "http://"), false
	case strings.HasPrefix(endpoint, "https://"):
		return strings.TrimPrefix(endpoint, "https://"), true
	default:
		return endpoint, true
	}
}
