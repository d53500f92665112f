package s3blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/alanyoungcy/polyview/internal/domain"
)

// memBlob is an in-memory BlobWriter and BlobReader.
type memBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
	mod     map[string]time.Time
	clock   time.Time
}

func newMemBlob() *memBlob {
	return &memBlob{
		objects: map[string][]byte{},
		mod:     map[string]time.Time{},
		clock:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *memBlob) Put(_ context.Context, p string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = m.clock.Add(time.Second)
	m.objects[p] = b
	m.mod[p] = m.clock
	return nil
}

func (m *memBlob) Get(_ context.Context, p string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[p]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlob) Delete(_ context.Context, p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, p)
	delete(m.mod, p)
	return nil
}

func (m *memBlob) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BlobInfo
	for p, b := range m.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b)), LastModified: m.mod[p]})
		}
	}
	return out, nil
}

func TestSnapshotArchiveRoundTrip(t *testing.T) {
	ctx := context.Background()
	blob := newMemBlob()
	arch := NewSnapshotArchive(blob, blob, "/snapshots/")

	if _, _, err := arch.LoadLatest(ctx); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("LoadLatest() on empty archive error = %v, want ErrNotFound", err)
	}

	fetched := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	for gen := uint64(1); gen <= 2; gen++ {
		run := domain.RefreshRun{Generation: gen, MarketCount: 1, FetchedAt: fetched.Add(time.Duration(gen) * time.Minute)}
		p, err := arch.Archive(ctx, run, []domain.Market{{ID: "m", Question: "Q", Volume: float64(gen)}})
		if err != nil {
			t.Fatalf("Archive() error = %v", err)
		}
		if !strings.HasPrefix(p, "snapshots/2025/03/04/snapshot-") {
			t.Errorf("path = %q", p)
		}
	}

	run, markets, err := arch.LoadLatest(ctx)
	if err != nil {
		t.Fatalf("LoadLatest() error = %v", err)
	}
	if run.Generation != 2 || len(markets) != 1 || markets[0].Volume != 2 {
		t.Errorf("LoadLatest() = %+v %+v", run, markets)
	}
}

func TestSnapshotArchiveWithoutPointer(t *testing.T) {
	ctx := context.Background()
	blob := newMemBlob()
	arch := NewSnapshotArchive(blob, blob, "snapshots")

	for gen := uint64(1); gen <= 3; gen++ {
		run := domain.RefreshRun{Generation: gen, FetchedAt: time.Date(2025, 3, 4, 0, int(gen), 0, 0, time.UTC)}
		if _, err := arch.Archive(ctx, run, []domain.Market{{ID: "m"}}); err != nil {
			t.Fatalf("Archive() error = %v", err)
		}
	}
	delete(blob.objects, "snapshots/latest.json")

	run, _, err := arch.LoadLatest(ctx)
	if err != nil {
		t.Fatalf("LoadLatest() error = %v", err)
	}
	if run.Generation != 3 {
		t.Errorf("Generation = %d, want 3", run.Generation)
	}
}

func TestSnapshotArchivePrune(t *testing.T) {
	ctx := context.Background()
	blob := newMemBlob()
	arch := NewSnapshotArchive(blob, blob, "snapshots")

	var latest string
	for gen := uint64(1); gen <= 4; gen++ {
		run := domain.RefreshRun{Generation: gen, FetchedAt: time.Date(2025, 3, 4, 0, int(gen), 0, 0, time.UTC)}
		p, err := arch.Archive(ctx, run, nil)
		if err != nil {
			t.Fatalf("Archive() error = %v", err)
		}
		latest = p
	}

	// Every snapshot predates the far-future cutoff; only the latest survives.
	removed, err := arch.Prune(ctx, time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if removed != 3 {
		t.Errorf("Prune() removed %d, want 3", removed)
	}
	if _, ok := blob.objects[latest]; !ok {
		t.Errorf("latest snapshot %s was pruned", latest)
	}
	if _, ok := blob.objects["snapshots/latest.json"]; !ok {
		t.Error("latest pointer was pruned")
	}
}

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		in     string
		useSSL bool
		want   string
	}{
		{"https://s3.example.com", false, "https://s3.example.com"},
		{"minio.internal", false, "http://minio.internal"},
		{"r2.example.com", true, "https://r2.example.com"},
	}
	for _, tt := range tests {
		if got := normaliseEndpoint(tt.in, tt.useSSL); got != tt.want {
			t.Errorf("normaliseEndpoint(%q, %v) = %q, want %q", tt.in, tt.useSSL, got, tt.want)
		}
	}
}

func TestNewRequiresBucketAndRegion(t *testing.T) {
	if _, err := New(context.Background(), ClientConfig{Region: "us-east-1"}); err == nil {
		t.Error("New() without bucket succeeded")
	}
	if _, err := New(context.Background(), ClientConfig{Bucket: "b"}); err == nil {
		t.Error("New() without region succeeded")
	}
}

func TestMissingObject(t *testing.T) {
	status := func(code int) error {
		return &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: code}},
			Err:      errors.New("response error"),
		}
	}
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"typed no such key", &types.NoSuchKey{}, true},
		{"typed not found", fmt.Errorf("head: %w", &types.NotFound{}), true},
		{"error code only", &smithy.GenericAPIError{Code: "NoSuchKey"}, true},
		{"bare 404", status(http.StatusNotFound), true},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, false},
		{"server error", status(http.StatusInternalServerError), false},
		{"transport", errors.New("connection reset"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := missingObject(tt.err); got != tt.want {
				t.Errorf("missingObject() = %v, want %v", got, tt.want)
			}
		})
	}
}
