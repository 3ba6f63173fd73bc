package coordinator

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/driftfs/driftfs/internal/logger"
	"github.com/driftfs/driftfs/pkg/errdefs"
	"github.com/driftfs/driftfs/pkg/model"
)

// Path leases give cooperating clients exclusive write access to a path for
// a bounded time. They are advisory: the upload protocol itself serializes
// conflicting commits, so leases only prevent two clients from wasting
// bandwidth on the same path.

// AcquireLease grants a lease on a path, renewing it when the same client
// already holds it. A live lease owned by another client fails the request.
func (c *Coordinator) AcquireLease(req model.LeaseAcquireRequest) (model.Lease, error) {
	if err := model.Validate(req); err != nil {
		return model.Lease{}, fmt.Errorf("%v: %w", err, errdefs.ErrInvalid)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()

	ttl := c.cfg.LeaseTTL
	if req.TTLSecs > 0 {
		ttl = time.Duration(req.TTLSecs) * time.Second
	}

	if existing, err := c.store.GetLeaseByPath(req.Path); err == nil {
		if !existing.Expired(now) && existing.ClientID != req.ClientID {
			return model.Lease{}, fmt.Errorf("path %s leased by %s until %s: %w",
				req.Path, existing.ClientID, existing.ExpiresAt.Format("15:04:05"), errdefs.ErrLeaseHeld)
		}
		// Expired or same owner: replace.
		if err := c.store.DeleteLease(existing.ID); err != nil {
			return model.Lease{}, err
		}
	}

	lease := model.Lease{
		ID:        uuid.NewString(),
		Path:      req.Path,
		ClientID:  req.ClientID,
		ExpiresAt: now.Add(ttl),
	}
	if err := c.store.PutLease(lease); err != nil {
		return model.Lease{}, err
	}

	logger.Debug("lease acquired",
		logger.KeyLeaseID, lease.ID,
		logger.KeyPath, lease.Path,
		"client_id", lease.ClientID)
	return lease, nil
}

// ReleaseLease drops a lease. Releasing an unknown lease succeeds: the
// holder only cares that it is gone.
func (c *Coordinator) ReleaseLease(req model.LeaseReleaseRequest) error {
	if err := model.Validate(req); err != nil {
		return fmt.Errorf("%v: %w", err, errdefs.ErrInvalid)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.DeleteLease(req.LeaseID)
}

// Leases returns every unexpired lease.
func (c *Coordinator) Leases() ([]model.Lease, error) {
	all, err := c.store.ListLeases()
	if err != nil {
		return nil, err
	}
	now := c.now()
	live := make([]model.Lease, 0, len(all))
	for _, l := range all {
		if !l.Expired(now) {
			live = append(live, l)
		}
	}
	return live, nil
}

// sweepLeases drops expired leases so the table does not grow unbounded.
func (c *Coordinator) sweepLeases() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()

	all, err := c.store.ListLeases()
	if err != nil {
		logger.Warn("lease sweep failed", logger.KeyError, err.Error())
		return
	}
	for _, l := range all {
		if l.Expired(now) {
			if err := c.store.DeleteLease(l.ID); err != nil {
				logger.Warn("failed to drop expired lease",
					logger.KeyLeaseID, l.ID,
					logger.KeyError, err.Error())
			}
		}
	}
}
