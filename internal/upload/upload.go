// Package upload pushes exported takes to S3-compatible storage on a
// background worker so exports never block the UI.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/sidechain/engine/internal/config"
	"github.com/sidechain/engine/internal/eventlog"
)

const (
	uploadTimeout = 5 * time.Minute
	queueDepth    = 16
	// maxRetryAge bounds how long a failed upload is kept for retry.
	maxRetryAge = 24 * time.Hour
)

// request is a file queued for upload.
type request struct {
	localPath string
	key       string
	size      int64
}

// pending tracks a failed upload for retry.
type pending struct {
	request      request
	firstAttempt time.Time
	retryCount   int
}

// Uploader moves exported files to a bucket. Queue and worker lifecycle
// follow the usual stop-channel pattern; Close drains remaining work.
type Uploader struct {
	cfg    config.UploadConfig
	client *s3.Client
	events *eventlog.Logger

	queue  chan request
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu    sync.Mutex
	retry []pending
}

// NewUploader creates an uploader and starts its worker. Returns an error
// when the configuration is incomplete.
func NewUploader(cfg config.UploadConfig, events *eventlog.Logger) (*Uploader, error) {
	if !cfg.IsConfigured() {
		return nil, fmt.Errorf("upload is not configured")
	}

	u := &Uploader{
		cfg:    cfg,
		client: newS3Client(cfg),
		events: events,
		queue:  make(chan request, queueDepth),
		stopCh: make(chan struct{}),
	}
	u.wg.Add(1)
	go u.worker()
	return u, nil
}

// newS3Client creates an S3 client from static credentials, with optional
// custom endpoint for S3-compatible providers.
func newS3Client(cfg config.UploadConfig) *s3.Client {
	creds := credentials.NewStaticCredentialsProvider(
		cfg.AccessKeyID,
		cfg.SecretAccessKey,
		"",
	)

	options := []func(*s3.Options){
		func(o *s3.Options) {
			o.Credentials = creds
			o.Region = "auto"
		},
	}
	if cfg.Endpoint != "" {
		options = append(options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}
	return s3.New(s3.Options{}, options...)
}

// TestConnection uploads and deletes a probe object to verify credentials
// and bucket access.
func TestConnection(cfg config.UploadConfig) error {
	if !cfg.IsConfigured() {
		return fmt.Errorf("upload is not configured")
	}
	client := newS3Client(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	testKey := fmt.Sprintf("test-connection-%d.txt", time.Now().UnixNano())
	testContent := []byte("sidechain engine connection test")

	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(cfg.Bucket),
		Key:           aws.String(testKey),
		Body:          bytes.NewReader(testContent),
		ContentLength: aws.Int64(int64(len(testContent))),
	})
	if err != nil {
		return fmt.Errorf("upload test file: %w", err)
	}

	_, err = client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(cfg.Bucket),
		Key:    aws.String(testKey),
	})
	if err != nil {
		slog.Warn("failed to delete test file", "key", testKey, "error", err)
	}
	return nil
}

// Enqueue queues an exported file for upload. Non-blocking; a full queue
// drops the request with a warning.
func (u *Uploader) Enqueue(localPath string) {
	info, err := os.Stat(localPath)
	if err != nil {
		slog.Warn("failed to stat export for upload", "path", localPath, "error", err)
		return
	}

	key := fmt.Sprintf("exports/%s/%s", time.Now().UTC().Format("2006/01/02"), filepath.Base(localPath))

	select {
	case u.queue <- request{localPath: localPath, key: key, size: info.Size()}:
		slog.Info("queued export for upload", "file", filepath.Base(localPath), "key", key)
	default:
		slog.Warn("upload queue full, dropping", "file", filepath.Base(localPath))
	}
}

// Close stops the worker after draining queued uploads.
func (u *Uploader) Close() {
	close(u.stopCh)
	u.wg.Wait()
}

// worker processes the upload queue, draining remaining items on shutdown.
func (u *Uploader) worker() {
	defer u.wg.Done()

	retryTicker := time.NewTicker(time.Minute)
	defer retryTicker.Stop()

	for {
		select {
		case <-u.stopCh:
			for {
				select {
				case req := <-u.queue:
					u.uploadFile(req)
				default:
					return
				}
			}
		case req := <-u.queue:
			u.uploadFile(req)
		case <-retryTicker.C:
			u.processRetries()
		}
	}
}

// uploadFile performs one upload, queueing for retry on failure.
func (u *Uploader) uploadFile(req request) {
	if err := u.putObject(req); err != nil {
		slog.Error("upload failed", "key", req.key, "error", err)
		u.events.Log(eventlog.UploadFailed, "", &eventlog.RecordingDetails{
			Path: req.localPath, Error: err.Error(),
		})
		u.addRetry(req)
		return
	}

	slog.Info("upload completed", "key", req.key)
	u.events.Log(eventlog.UploadCompleted, "", &eventlog.RecordingDetails{
		Path: req.localPath, SizeBytes: req.size,
	})
}

func (u *Uploader) putObject(req request) error {
	ctx, cancel := context.WithTimeoutCause(
		context.Background(),
		uploadTimeout,
		errors.New("s3 upload timeout"),
	)
	defer cancel()

	file, err := os.Open(req.localPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close file after upload", "path", req.localPath, "error", err)
		}
	}()

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.cfg.Bucket),
		Key:           aws.String(req.key),
		Body:          file,
		ContentLength: aws.Int64(req.size),
		ContentType:   aws.String(contentType(req.localPath)),
	})
	return err
}

// addRetry records a failed upload, deduplicated by path.
func (u *Uploader) addRetry(req request) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, p := range u.retry {
		if p.request.localPath == req.localPath {
			return
		}
	}
	u.retry = append(u.retry, pending{request: req, firstAttempt: time.Now()})
	slog.Info("upload queued for retry", "file", filepath.Base(req.localPath))
}

// processRetries attempts all pending uploads, abandoning the too-old.
func (u *Uploader) processRetries() {
	u.mu.Lock()
	if len(u.retry) == 0 {
		u.mu.Unlock()
		return
	}
	batch := u.retry
	u.retry = nil
	u.mu.Unlock()

	now := time.Now()
	for i := range batch {
		p := &batch[i]

		if now.Sub(p.firstAttempt) > maxRetryAge {
			slog.Warn("upload abandoned after 24h",
				"file", filepath.Base(p.request.localPath),
				"attempts", p.retryCount+1)
			u.events.Log(eventlog.UploadFailed, "abandoned", &eventlog.RecordingDetails{
				Path: p.request.localPath, Error: "exceeded 24h retry limit",
			})
			continue
		}

		if _, err := os.Stat(p.request.localPath); os.IsNotExist(err) {
			slog.Warn("retry file no longer exists", "path", p.request.localPath)
			continue
		}

		p.retryCount++
		slog.Info("retrying upload", "file", filepath.Base(p.request.localPath), "attempt", p.retryCount)
		if err := u.putObject(p.request); err != nil {
			u.mu.Lock()
			u.retry = append(u.retry, *p)
			u.mu.Unlock()
			continue
		}

		slog.Info("retry upload completed", "key", p.request.key)
		u.events.Log(eventlog.UploadCompleted, "", &eventlog.RecordingDetails{
			Path: p.request.localPath, SizeBytes: p.request.size,
		})
	}
}

// contentType maps an export extension to a MIME type.
func contentType(path string) string {
	switch filepath.Ext(path) {
	case ".wav":
		return "audio/wav"
	case ".flac":
		return "audio/flac"
	default:
		return "application/octet-stream"
	}
}
