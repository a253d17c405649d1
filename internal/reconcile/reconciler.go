// Package reconcile decides, per offline item, whether a client edit wins
// (PUSH) or the stored copy stands (PULL).
//
// The decision compares a single per-item version counter. Two clients that
// edit the same item from the same base version both arrive with base+1; the
// first one to reconcile wins and the second is reported as PULL, its payload
// silently dropped. There is no causal conflict detection.
package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kalambet/offsync/internal/accounting"
	"github.com/kalambet/offsync/internal/apperr"
	"github.com/kalambet/offsync/internal/clock"
	"github.com/kalambet/offsync/internal/kind"
	"github.com/kalambet/offsync/internal/storage"
)

// Direction says which side's data prevailed.
type Direction string

const (
	Push Direction = "PUSH"
	Pull Direction = "PULL"
)

// Result is the outcome of one reconciliation.
type Result struct {
	Accepted         bool                `json:"accepted"`
	ResultingVersion int                 `json:"resulting_version"`
	Direction        Direction           `json:"direction"`
	Item             storage.OfflineItem `json:"item"`
}

// UsageReporter reports an owner's storage footprint.
type UsageReporter interface {
	GetUsage(ctx context.Context, ownerID int64) (accounting.Usage, error)
}

// Reconciler applies client versions to the mirror store. Calls for the same
// item run one at a time in the order they acquire the item lock.
type Reconciler struct {
	store  *storage.Store
	clock  clock.Clock
	usage  UsageReporter
	locks  *keyedMutex
	logger *slog.Logger
}

// New returns a Reconciler. usage may be nil, in which case quota overruns are
// not reported.
func New(store *storage.Store, clk clock.Clock, usage UsageReporter) *Reconciler {
	return &Reconciler{
		store:  store,
		clock:  clk,
		usage:  usage,
		locks:  newKeyedMutex(),
		logger: slog.Default(),
	}
}

// Reconcile applies incomingVersion of a source item for owner.
func (r *Reconciler) Reconcile(ctx context.Context, k kind.Kind, ownerID int64, sourceID string, incomingVersion int, payload kind.Payload) (Result, error) {
	spec, ok := kind.SpecFor(k)
	if !ok {
		return Result{}, apperr.InvalidArgument("unknown kind %q", k)
	}
	if sourceID == "" {
		return Result{}, apperr.InvalidArgument("source_id is required")
	}
	if incomingVersion < 1 {
		return Result{}, apperr.InvalidArgument("version must be at least 1, got %d", incomingVersion)
	}
	if err := spec.Validate(payload); err != nil {
		return Result{}, apperr.InvalidArgument("%s", err.Error())
	}

	unlock := r.locks.Lock(fmt.Sprintf("%d/%s/%s", ownerID, k, sourceID))
	defer unlock()

	now := r.clock.Now()
	var (
		dir   Direction
		delta int64
	)
	item, err := r.store.ApplyItem(ctx, ownerID, k, sourceID, func(existing *storage.OfflineItem) (*storage.OfflineItem, error) {
		switch {
		case existing == nil:
			dir = Push
			size := spec.Size(payload)
			delta = size
			return &storage.OfflineItem{
				OfflineID: uuid.NewString(),
				Title:     spec.Title(payload),
				Payload:   payload,
				SizeBytes: size,
				Version:   incomingVersion,
				Synced:    true,
				CreatedAt: now,
				UpdatedAt: now,
			}, nil

		case incomingVersion > existing.Version:
			dir = Push
			next := *existing
			next.Payload = payload
			if title := spec.Title(payload); title != "" {
				next.Title = title
			}
			next.SizeBytes = spec.Size(payload)
			delta = next.SizeBytes - existing.SizeBytes
			next.Version = incomingVersion
			next.Synced = true
			next.UpdatedAt = now
			return &next, nil

		default:
			dir = Pull
			if incomingVersion == existing.Version && samePayload(existing.Payload, payload) {
				// Replay of the push that produced the stored version.
				dir = Push
			}
			if existing.Synced {
				return nil, nil
			}
			next := *existing
			next.Synced = true
			next.UpdatedAt = now
			return &next, nil
		}
	})
	if err != nil {
		return Result{}, apperr.Infrastructure(err, "applying reconciliation")
	}

	r.logger.Debug("item reconciled",
		"owner_id", ownerID,
		"kind", k,
		"source_id", sourceID,
		"incoming_version", incomingVersion,
		"version", item.Version,
		"direction", dir,
	)
	if delta > 0 {
		r.reportOverrun(ctx, ownerID)
	}

	return Result{
		Accepted:         dir == Push,
		ResultingVersion: item.Version,
		Direction:        dir,
		Item:             item,
	}, nil
}

func samePayload(a, b kind.Payload) bool {
	if a == nil {
		a = kind.Payload{}
	}
	if b == nil {
		b = kind.Payload{}
	}
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ja, jb)
}

// reportOverrun logs when a push left the owner above quota. Pushes are never
// rejected for size.
func (r *Reconciler) reportOverrun(ctx context.Context, ownerID int64) {
	if r.usage == nil {
		return
	}
	u, err := r.usage.GetUsage(ctx, ownerID)
	if err != nil {
		r.logger.Warn("reading usage after reconcile", "owner_id", ownerID, "error", err)
		return
	}
	if u.UsedBytes > u.LimitBytes {
		r.logger.Warn("owner over storage quota", "owner_id", ownerID, "used_bytes", u.UsedBytes, "limit_bytes", u.LimitBytes)
	}
}
