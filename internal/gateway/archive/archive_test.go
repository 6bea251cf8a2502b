package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/minio/minio-go/v7"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/tanay1904/Drone/internal/gateway/state"
)

type object struct {
	bucket, name, contentType string
	body                      []byte
}

type fakeBucket struct {
	mu      sync.Mutex
	exists  bool
	made    []string
	objects []object
	putErr  error
	put     chan struct{}
}

func (b *fakeBucket) BucketExists(context.Context, string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exists, nil
}

func (b *fakeBucket) MakeBucket(_ context.Context, name string, _ minio.MakeBucketOptions) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.made = append(b.made, name)
	b.exists = true
	return nil
}

func (b *fakeBucket) PutObject(_ context.Context, bucket, name string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	if int64(len(body)) != size {
		return minio.UploadInfo{}, errors.New("size mismatch")
	}

	b.mu.Lock()
	if b.putErr == nil {
		b.objects = append(b.objects, object{bucket: bucket, name: name, contentType: opts.ContentType, body: body})
	}
	err = b.putErr
	b.mu.Unlock()

	if b.put != nil {
		b.put <- struct{}{}
	}
	return minio.UploadInfo{Bucket: bucket, Key: name, Size: size}, err
}

type staticHistory []state.Record

func (h staticHistory) History() []state.Record { return h }

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestObjectName(t *testing.T) {
	at := time.Date(2026, 3, 1, 13, 30, 5, 0, time.FixedZone("CET", 3600))
	if got, want := ObjectName("drone-001", at), "telemetry/drone-001/2026-03-01T12:30:05Z.json"; got != want {
		t.Errorf("ObjectName() = %q, want %q", got, want)
	}
}

func TestEnsureBucket(t *testing.T) {
	tests := []struct {
		name     string
		exists   bool
		wantMade []string
	}{
		{name: "missing bucket is created", wantMade: []string{"telemetry"}},
		{name: "existing bucket is kept", exists: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBucket{exists: tt.exists}
			u := New(Config{Client: b, BucketName: "telemetry", History: staticHistory(nil)})

			if err := u.EnsureBucket(context.Background()); err != nil {
				t.Fatalf("EnsureBucket() error = %v", err)
			}
			if diff := cmp.Diff(tt.wantMade, b.made); diff != "" {
				t.Errorf("MakeBucket calls mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUpload(t *testing.T) {
	history := staticHistory{
		{Timestamp: start, Data: state.Delta{"battery": float64(87)}},
		{Timestamp: start.Add(time.Second), Data: state.Delta{"altitude": float64(12.5)}},
	}
	clk := clocktesting.NewFakeClock(start)

	t.Run("writes history as json", func(t *testing.T) {
		b := &fakeBucket{exists: true}
		u := New(Config{Client: b, BucketName: "telemetry", DeviceID: "d1", History: history, Clock: clk})

		name, err := u.Upload(context.Background())
		if err != nil {
			t.Fatalf("Upload() error = %v", err)
		}
		if name != "telemetry/d1/2026-03-01T12:00:00Z.json" {
			t.Errorf("object name = %q", name)
		}
		if len(b.objects) != 1 {
			t.Fatalf("objects = %d, want 1", len(b.objects))
		}
		obj := b.objects[0]
		if obj.bucket != "telemetry" || obj.contentType != "application/json" {
			t.Errorf("object bucket=%q contentType=%q", obj.bucket, obj.contentType)
		}

		var got []state.Record
		if err := json.Unmarshal(obj.body, &got); err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]state.Record(history), got); diff != "" {
			t.Errorf("uploaded history mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("empty history is skipped", func(t *testing.T) {
		b := &fakeBucket{exists: true}
		u := New(Config{Client: b, BucketName: "telemetry", History: staticHistory(nil), Clock: clk})

		name, err := u.Upload(context.Background())
		if err != nil || name != "" || len(b.objects) != 0 {
			t.Errorf("Upload() = %q, %v with %d objects", name, err, len(b.objects))
		}
	})

	t.Run("put failure is returned", func(t *testing.T) {
		b := &fakeBucket{exists: true, putErr: errors.New("access denied")}
		u := New(Config{Client: b, BucketName: "telemetry", History: history, Clock: clk})

		if _, err := u.Upload(context.Background()); err == nil {
			t.Error("Upload() succeeded despite put failure")
		}
	})
}

func TestRunUploadsEveryInterval(t *testing.T) {
	clk := clocktesting.NewFakeClock(start)
	b := &fakeBucket{put: make(chan struct{}, 1)}
	u := New(Config{
		Client:     b,
		BucketName: "telemetry",
		DeviceID:   "d1",
		Interval:   time.Minute,
		History:    staticHistory{{Timestamp: start, Data: state.Delta{"armed": true}}},
		Clock:      clk,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- u.Run(ctx) }()

	for i := 1; i <= 2; i++ {
		deadline := time.Now().Add(2 * time.Second)
		for !clk.HasWaiters() {
			if time.Now().After(deadline) {
				t.Fatal("uploader never started its ticker")
			}
			time.Sleep(time.Millisecond)
		}
		clk.Step(time.Minute)

		select {
		case <-b.put:
		case <-time.After(2 * time.Second):
			t.Fatalf("no upload after tick %d", i)
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}

	want := []string{
		"telemetry/d1/2026-03-01T12:01:00Z.json",
		"telemetry/d1/2026-03-01T12:02:00Z.json",
	}
	var got []string
	for _, o := range b.objects {
		got = append(got, o.name)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("object names mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"telemetry"}, b.made); diff != "" {
		t.Errorf("bucket not ensured at start (-want +got):\n%s", diff)
	}
}
