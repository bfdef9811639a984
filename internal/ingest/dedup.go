package ingest

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"

	"BitLedger/internal/observability"
)

// Deduper drops redelivered operations. JetStream guarantees at-least-once
// delivery, so after a consumer restart or a slow ACK the same op_id can
// arrive twice; the LRU remembers recent ids and the window is sized well
// beyond the redelivery horizon.
type Deduper struct {
	seen    *lru.Cache[uuid.UUID, struct{}]
	metrics *observability.Metrics
}

// NewDeduper builds a deduper remembering the last size op ids.
func NewDeduper(size int, metrics *observability.Metrics) (*Deduper, error) {
	cache, err := lru.New[uuid.UUID, struct{}](size)
	if err != nil {
		return nil, err
	}
	return &Deduper{seen: cache, metrics: metrics}, nil
}

// Seen records the id and reports whether it was already present.
func (d *Deduper) Seen(id uuid.UUID) bool {
	if _, ok := d.seen.Get(id); ok {
		if d.metrics != nil {
			d.metrics.IngestDuplicates.Inc()
		}
		return true
	}
	d.seen.Add(id, struct{}{})
	if d.metrics != nil {
		d.metrics.DedupLRUSize.Set(float64(d.seen.Len()))
	}
	return false
}
