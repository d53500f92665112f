package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/alanyoungcy/polyview/internal/domain"
)

const (
	latestObject     = "latest.json"
	jsonContentType  = "application/json"
	snapshotFileStem = "snapshot"
)

// snapshotDocument is the archived JSON layout.
type snapshotDocument struct {
	Run     archivedRun     `json:"run"`
	Markets []domain.Market `json:"markets"`
}

type archivedRun struct {
	Generation    uint64    `json:"generation"`
	MarketCount   int       `json:"market_count"`
	TrendingCount int       `json:"trending_count"`
	EventCount    int       `json:"event_count"`
	Synthesized   int       `json:"synthesized"`
	NoMarkets     bool      `json:"no_markets"`
	FetchedAt     time.Time `json:"fetched_at"`
}

// latestPointer is the body of latest.json.
type latestPointer struct {
	Path string `json:"path"`
}

// SnapshotArchive implements domain.SnapshotArchive on top of a blob writer
// and reader. Snapshots are written under {prefix}/YYYY/MM/DD/ and a
// latest.json pointer names the newest one.
type SnapshotArchive struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	prefix string
}

// NewSnapshotArchive creates a SnapshotArchive rooted at prefix.
func NewSnapshotArchive(writer domain.BlobWriter, reader domain.BlobReader, prefix string) *SnapshotArchive {
	return &SnapshotArchive{
		writer: writer,
		reader: reader,
		prefix: strings.Trim(prefix, "/"),
	}
}

// Archive uploads one snapshot and moves the latest pointer to it. It returns
// the object path of the snapshot.
func (a *SnapshotArchive) Archive(ctx context.Context, run domain.RefreshRun, markets []domain.Market) (string, error) {
	doc := snapshotDocument{
		Run: archivedRun{
			Generation:    run.Generation,
			MarketCount:   run.MarketCount,
			TrendingCount: run.TrendingCount,
			EventCount:    run.EventCount,
			Synthesized:   run.Synthesized,
			NoMarkets:     run.NoMarkets,
			FetchedAt:     run.FetchedAt.UTC(),
		},
		Markets: markets,
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal snapshot %d: %w", run.Generation, err)
	}

	p := a.snapshotPath(run)
	if err := a.writer.Put(ctx, p, bytes.NewReader(body), jsonContentType); err != nil {
		return "", fmt.Errorf("s3blob: archive snapshot: %w", err)
	}

	ptr, err := json.Marshal(latestPointer{Path: p})
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal latest pointer: %w", err)
	}
	if err := a.writer.Put(ctx, a.join(latestObject), bytes.NewReader(ptr), jsonContentType); err != nil {
		return "", fmt.Errorf("s3blob: update latest pointer: %w", err)
	}
	return p, nil
}

// LoadLatest reads the newest archived snapshot. When the latest pointer is
// missing it falls back to the most recently modified snapshot object.
// domain.ErrNotFound is returned when nothing has been archived.
func (a *SnapshotArchive) LoadLatest(ctx context.Context) (domain.RefreshRun, []domain.Market, error) {
	p, err := a.latestPath(ctx)
	if err != nil {
		return domain.RefreshRun{}, nil, err
	}

	rc, err := a.reader.Get(ctx, p)
	if err != nil {
		return domain.RefreshRun{}, nil, fmt.Errorf("s3blob: load snapshot: %w", err)
	}
	defer rc.Close()

	var doc snapshotDocument
	if err := json.NewDecoder(rc).Decode(&doc); err != nil {
		return domain.RefreshRun{}, nil, fmt.Errorf("s3blob: decode snapshot %s: %w", p, err)
	}

	run := domain.RefreshRun{
		Generation:    doc.Run.Generation,
		MarketCount:   doc.Run.MarketCount,
		TrendingCount: doc.Run.TrendingCount,
		EventCount:    doc.Run.EventCount,
		Synthesized:   doc.Run.Synthesized,
		NoMarkets:     doc.Run.NoMarkets,
		FetchedAt:     doc.Run.FetchedAt,
	}
	return run, doc.Markets, nil
}

// Prune deletes archived snapshots last modified before cutoff. The snapshot
// named by the latest pointer is kept. It returns the number removed.
func (a *SnapshotArchive) Prune(ctx context.Context, before time.Time) (int, error) {
	deleter, ok := a.writer.(domain.BlobDeleter)
	if !ok {
		return 0, fmt.Errorf("s3blob: prune: writer cannot delete objects")
	}
	keep, err := a.latestPath(ctx)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return 0, err
	}

	infos, err := a.reader.List(ctx, a.join(""))
	if err != nil {
		return 0, fmt.Errorf("s3blob: list snapshots: %w", err)
	}
	removed := 0
	for _, info := range infos {
		if info.Path == keep || !strings.HasPrefix(path.Base(info.Path), snapshotFileStem+"-") {
			continue
		}
		if !info.LastModified.Before(before) {
			continue
		}
		if err := deleter.Delete(ctx, info.Path); err != nil {
			return removed, fmt.Errorf("s3blob: prune: %w", err)
		}
		removed++
	}
	return removed, nil
}

func (a *SnapshotArchive) latestPath(ctx context.Context) (string, error) {
	rc, err := a.reader.Get(ctx, a.join(latestObject))
	if err == nil {
		defer rc.Close()
		var ptr latestPointer
		data, readErr := io.ReadAll(rc)
		if readErr == nil && json.Unmarshal(data, &ptr) == nil && ptr.Path != "" {
			return ptr.Path, nil
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return "", fmt.Errorf("s3blob: read latest pointer: %w", err)
	}

	infos, err := a.reader.List(ctx, a.join(""))
	if err != nil {
		return "", fmt.Errorf("s3blob: list snapshots: %w", err)
	}
	var newest *domain.BlobInfo
	for i := range infos {
		name := path.Base(infos[i].Path)
		if !strings.HasPrefix(name, snapshotFileStem+"-") {
			continue
		}
		if newest == nil || infos[i].LastModified.After(newest.LastModified) {
			newest = &infos[i]
		}
	}
	if newest == nil {
		return "", fmt.Errorf("s3blob: no archived snapshot: %w", domain.ErrNotFound)
	}
	return newest.Path, nil
}

func (a *SnapshotArchive) snapshotPath(run domain.RefreshRun) string {
	ts := run.FetchedAt.UTC()
	name := fmt.Sprintf("%s-%s-g%d.json", snapshotFileStem, ts.Format("20060102T150405Z"), run.Generation)
	return a.join(ts.Format("2006/01/02"), name)
}

func (a *SnapshotArchive) join(elem ...string) string {
	p := path.Join(append([]string{a.prefix}, elem...)...)
	if len(elem) == 1 && elem[0] == "" && p != "" {
		return p + "/"
	}
	return p
}

// Compile-time interface check.
var _ domain.SnapshotArchive = (*SnapshotArchive)(nil)
