package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/volant-labs/surety/pkg/canonicalize"
	"github.com/volant-labs/surety/pkg/ledger"
)

// Manifest describes one archived segment of the commit log. The manifest is
// canonicalized before hashing, so two exports of the same range produce the
// same manifest address regardless of field ordering.
type Manifest struct {
	Start       uint64    `json:"start"`
	End         uint64    `json:"end"`
	Records     int       `json:"records"`
	SegmentHash string    `json:"segment_hash"`
	HeadCommit  string    `json:"head_commit"`
	ExportedAt  time.Time `json:"exported_at"`
}

// Exporter snapshots commit-log ranges into a Store.
type Exporter struct {
	log   ledger.Log
	store Store
}

// NewExporter creates an exporter over the given log and store.
func NewExporter(log ledger.Log, store Store) *Exporter {
	return &Exporter{log: log, store: store}
}

// Export archives the records in [start, end): the segment blob first, then
// a manifest pointing at it. It returns the manifest and its content hash.
// The range is verified before export; a broken chain is never archived.
func (e *Exporter) Export(ctx context.Context, start, end uint64) (*Manifest, string, error) {
	ok, err := e.log.Verify(ctx, start, end)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, "", fmt.Errorf("archive: refusing to export broken chain [%d, %d)", start, end)
	}

	records, err := e.log.Range(ctx, start, end)
	if err != nil {
		return nil, "", err
	}
	if len(records) == 0 {
		return nil, "", fmt.Errorf("archive: empty range [%d, %d)", start, end)
	}

	segment, err := canonicalize.JCS(records)
	if err != nil {
		return nil, "", err
	}
	segmentHash, err := e.store.Store(ctx, segment)
	if err != nil {
		return nil, "", err
	}

	m := &Manifest{
		Start:       start,
		End:         start + uint64(len(records)),
		Records:     len(records),
		SegmentHash: segmentHash,
		HeadCommit:  records[len(records)-1].CommitHash,
		ExportedAt:  time.Now().UTC(),
	}
	blob, err := canonicalize.JCS(m)
	if err != nil {
		return nil, "", err
	}
	manifestHash, err := e.store.Store(ctx, blob)
	if err != nil {
		return nil, "", err
	}
	return m, manifestHash, nil
}

// Load fetches an archived segment back through its manifest hash.
func (e *Exporter) Load(ctx context.Context, manifestHash string) (*Manifest, []*ledger.Record, error) {
	blob, err := e.store.Get(ctx, manifestHash)
	if err != nil {
		return nil, nil, err
	}
	var m Manifest
	if err := json.Unmarshal(blob, &m); err != nil {
		return nil, nil, fmt.Errorf("archive: decode manifest: %w", err)
	}

	segment, err := e.store.Get(ctx, m.SegmentHash)
	if err != nil {
		return nil, nil, err
	}
	var records []*ledger.Record
	if err := json.Unmarshal(segment, &records); err != nil {
		return nil, nil, fmt.Errorf("archive: decode segment: %w", err)
	}
	if len(records) != m.Records {
		return nil, nil, fmt.Errorf("archive: manifest claims %d records, segment holds %d", m.Records, len(records))
	}
	return &m, records, nil
}
