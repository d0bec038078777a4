package indexer

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ccoin/shieldpool/internal/accounts"
)

// MarkerSource lists commitment markers the canonical store holds, in
// index order, so the reconciliation loop can catch up on whatever the
// webhook missed. A real deployment backs this with a query over the
// verifier's commitment_markers table ordered by index; ReconcileLoop
// takes the interface rather than *accounts.PostgresStore directly so
// tests can substitute a fake.
type MarkerSource interface {
	// MarkersFrom returns every commitment marker with index >= from, in
	// ascending index order.
	MarkersFrom(ctx context.Context, from uint64) ([]*accounts.CommitmentMarker, error)
}

// ReconcileLoop periodically reconciles the replica against a MarkerSource.
// Per spec.md §9, this is additive to the webhook path, not a replacement
// for it: a full rebuild would throw away ingest ordering guarantees the
// replica depends on, so every pass only asks for what's new since
// next_index and applies it the same way the webhook would.
type ReconcileLoop struct {
	index    *CommitmentIndex
	source   MarkerSource
	interval time.Duration
	gossip   *Gossip
}

// NewReconcileLoop builds a loop that polls source every interval.
func NewReconcileLoop(index *CommitmentIndex, source MarkerSource, interval time.Duration, gossip *Gossip) *ReconcileLoop {
	return &ReconcileLoop{index: index, source: source, interval: interval, gossip: gossip}
}

// Run blocks until ctx is cancelled, reconciling on each tick.
func (l *ReconcileLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.reconcileOnce(ctx); err != nil {
				logrus.WithError(err).Warn("indexer: reconciliation pass failed")
			}
		}
	}
}

func (l *ReconcileLoop) reconcileOnce(ctx context.Context) error {
	from := l.index.NextIndex()
	markers, err := l.source.MarkersFrom(ctx, from)
	if err != nil {
		return err
	}
	for _, m := range markers {
		if err := l.index.Ingest(m.Commitment, m.Index, m.EncryptedOutput); err != nil {
			logrus.WithError(err).WithField("index", m.Index).Warn("indexer: reconciliation ingest failed")
			continue
		}
		if l.gossip != nil {
			if err := l.gossip.Announce(CommitmentAnnouncement{Commitment: m.Commitment, Index: m.Index, EncryptedOutput: m.EncryptedOutput}); err != nil {
				logrus.WithError(err).Debug("indexer: reconciliation announce failed")
			}
		}
	}
	return nil
}

// StartGossipListener wires incoming peer announcements into the replica.
// Announcements are applied exactly like any other ingest: future-indexed
// ones are rejected, not buffered, since the webhook/poll path will bring
// the replica current on its own.
func StartGossipListener(ctx context.Context, index *CommitmentIndex, g *Gossip) {
	go g.Listen(func(a CommitmentAnnouncement) {
		if err := index.Ingest(a.Commitment, a.Index, a.EncryptedOutput); err != nil {
			logrus.WithError(err).WithField("index", a.Index).Debug("indexer: gossip-sourced ingest skipped")
		}
	})
	<-ctx.Done()
}
