// Package archive uploads telemetry history snapshots to S3-compatible storage.
package archive

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"k8s.io/utils/clock"

	"github.com/tanay1904/Drone/internal/gateway/state"
	"github.com/tanay1904/Drone/pkg/log"
	"github.com/tanay1904/Drone/pkg/options"
)

// Bucket is the subset of *minio.Client the uploader needs.
type Bucket interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

var _ Bucket = (*minio.Client)(nil)

// HistorySource supplies the records to archive.
type HistorySource interface {
	History() []state.Record
}

type Config struct {
	Client     Bucket
	BucketName string
	Region     string
	DeviceID   string
	Interval   time.Duration
	History    HistorySource
	Clock      clock.WithTicker
}

type Uploader struct {
	client   Bucket
	bucket   string
	region   string
	deviceID string
	interval time.Duration
	history  HistorySource
	clock    clock.WithTicker
	log      log.Logger
}

// NewClient builds a minio client from opts. A nil client and nil error
// mean archiving is disabled.
func NewClient(opts *options.S3Options) (*minio.Client, error) {
	if opts == nil || opts.Endpoint == "" {
		return nil, nil
	}

	// Certificates are not verified; edge minio instances use self-signed ones.
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure:    opts.UseSSL,
		Region:    opts.Region,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return client, nil
}

func New(cfg Config) *Uploader {
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Uploader{
		client:   cfg.Client,
		bucket:   cfg.BucketName,
		region:   cfg.Region,
		deviceID: cfg.DeviceID,
		interval: cfg.Interval,
		history:  cfg.History,
		clock:    cfg.Clock,
		log:      log.WithName("archive").WithValues("bucket", cfg.BucketName),
	}
}

// EnsureBucket creates the bucket when it does not exist.
func (u *Uploader) EnsureBucket(ctx context.Context) error {
	exists, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if exists {
		return nil
	}

	u.log.Info("Bucket does not exist, creating")
	if err := u.client.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{Region: u.region}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// Run uploads the history every interval until ctx is done. Failures are
// logged and retried on the next tick.
func (u *Uploader) Run(ctx context.Context) error {
	if err := u.EnsureBucket(ctx); err != nil {
		u.log.Error(err, "Telemetry archive bucket unavailable")
	}

	ticker := u.clock.NewTicker(u.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			if _, err := u.Upload(ctx); err != nil {
				u.log.Error(err, "Telemetry archive upload failed")
			}
		}
	}
}

// Upload writes the current history as one object and returns its name.
// Nothing is written while the history is empty.
func (u *Uploader) Upload(ctx context.Context) (string, error) {
	records := u.history.History()
	if len(records) == 0 {
		return "", nil
	}

	body, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("encoding telemetry history: %w", err)
	}

	name := ObjectName(u.deviceID, u.clock.Now())
	_, err = u.client.PutObject(ctx, u.bucket, name, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", name, err)
	}

	u.log.Debug("Uploaded telemetry history", "object", name, "records", len(records))
	return name, nil
}

// ObjectName returns telemetry/<device>/<RFC3339 UTC timestamp>.json.
func ObjectName(deviceID string, at time.Time) string {
	return path.Join("telemetry", deviceID, at.UTC().Format(time.RFC3339)+".json")
}
