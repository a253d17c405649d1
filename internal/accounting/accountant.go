// Package accounting estimates how much space an owner's offline mirrors use,
// enforces the per-owner quota on growth paths and clears the offline cache.
package accounting

import (
	"context"
	"log/slog"
	"math"

	"github.com/kalambet/offsync/internal/apperr"
	"github.com/kalambet/offsync/internal/clock"
	"github.com/kalambet/offsync/internal/kind"
	"github.com/kalambet/offsync/internal/storage"
)

const (
	MinLimitMB     = 1
	MaxLimitMB     = 10240
	DefaultLimitMB = 1024

	bytesPerMB = 1 << 20
)

// Usage is a point-in-time estimate of an owner's offline footprint.
type Usage struct {
	UsedBytes  int64                           `json:"used_bytes"`
	LimitMB    int                             `json:"limit_mb"`
	LimitBytes int64                           `json:"limit_bytes"`
	Percent    float64                         `json:"percent"`
	PerKind    map[kind.Kind]storage.KindUsage `json:"per_kind"`
}

// Accountant reads and enforces storage quotas.
type Accountant struct {
	store          *storage.Store
	clock          clock.Clock
	defaultLimitMB int
	logger         *slog.Logger
}

// New returns an Accountant. defaultLimitMB applies to owners without a stored
// limit; values outside the valid range fall back to DefaultLimitMB.
func New(store *storage.Store, clk clock.Clock, defaultLimitMB int) *Accountant {
	if defaultLimitMB < MinLimitMB || defaultLimitMB > MaxLimitMB {
		defaultLimitMB = DefaultLimitMB
	}
	return &Accountant{
		store:          store,
		clock:          clk,
		defaultLimitMB: defaultLimitMB,
		logger:         slog.Default(),
	}
}

// GetUsage sums the stored size estimates of every mirrored kind.
func (a *Accountant) GetUsage(ctx context.Context, ownerID int64) (Usage, error) {
	perKind, err := a.store.UsageByKind(ctx, ownerID)
	if err != nil {
		return Usage{}, apperr.Infrastructure(err, "reading storage usage")
	}
	limitMB, err := a.limitMB(ctx, ownerID)
	if err != nil {
		return Usage{}, err
	}

	u := Usage{
		LimitMB:    limitMB,
		LimitBytes: int64(limitMB) * bytesPerMB,
		PerKind:    make(map[kind.Kind]storage.KindUsage, len(kind.All)),
	}
	for _, k := range kind.All {
		ku := perKind[k]
		u.PerKind[k] = ku
		u.UsedBytes += ku.Bytes
	}
	u.Percent = math.Round(float64(u.UsedBytes)/float64(u.LimitBytes)*10000) / 100
	return u, nil
}

// SetLimit stores a new quota for the owner.
func (a *Accountant) SetLimit(ctx context.Context, ownerID int64, limitMB int) (Usage, error) {
	if limitMB < MinLimitMB || limitMB > MaxLimitMB {
		return Usage{}, apperr.InvalidArgument("limit_mb must be between %d and %d, got %d", MinLimitMB, MaxLimitMB, limitMB)
	}
	if err := a.store.SetQuotaLimit(ctx, ownerID, limitMB, a.clock.Now()); err != nil {
		return Usage{}, apperr.Infrastructure(err, "storing quota")
	}
	a.logger.Info("storage limit updated", "owner_id", ownerID, "limit_mb", limitMB)
	return a.GetUsage(ctx, ownerID)
}

// CheckGrowth returns ResourceExhausted if adding deltaBytes would push the
// owner past their quota. Non-positive deltas always pass.
func (a *Accountant) CheckGrowth(ctx context.Context, ownerID int64, deltaBytes int64) error {
	if deltaBytes <= 0 {
		return nil
	}
	u, err := a.GetUsage(ctx, ownerID)
	if err != nil {
		return err
	}
	if u.UsedBytes+deltaBytes > u.LimitBytes {
		return apperr.ResourceExhausted("storage quota exceeded: %d of %d bytes used, %d more requested",
			u.UsedBytes, u.LimitBytes, deltaBytes)
	}
	return nil
}

// CheckRoom fails when the owner has no space left at all.
func (a *Accountant) CheckRoom(ctx context.Context, ownerID int64) error {
	return a.CheckGrowth(ctx, ownerID, 1)
}

// ClearCache deletes every offline item and download task of the owner.
func (a *Accountant) ClearCache(ctx context.Context, ownerID int64) (storage.ClearResult, error) {
	res, err := a.store.ClearOwner(ctx, ownerID)
	if err != nil {
		return storage.ClearResult{}, apperr.Infrastructure(err, "clearing offline cache")
	}
	a.logger.Info("offline cache cleared",
		"owner_id", ownerID,
		"deleted_items", res.DeletedItems,
		"deleted_tasks", res.DeletedTasks,
		"freed_bytes", res.FreedBytes,
	)
	return res, nil
}

func (a *Accountant) limitMB(ctx context.Context, ownerID int64) (int, error) {
	limit, ok, err := a.store.GetQuotaLimit(ctx, ownerID)
	if err != nil {
		return 0, apperr.Infrastructure(err, "reading quota")
	}
	if !ok {
		return a.defaultLimitMB, nil
	}
	return limit, nil
}
