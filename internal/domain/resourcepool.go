package domain

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// ResourcePoolUpdater reconciles one pool's idle VMs against its declared
// size and stemcell (spec.md 4.4): deletes VMs whose stemcell is stale and
// creates VMs to meet the target size. Pools are independent of each other
// and run in parallel subject to the caller's concurrency cap.
type ResourcePoolUpdater struct {
	Store Store
	CPI   CPI
}

// Reconcile walks every resource pool in the plan concurrently (bounded by
// maxInFlight) and reconciles idle VM counts. A single VM creation failure
// surfaces as a task failure and aborts the containing stage, per spec.md
// 4.4; other pools already in flight are allowed to finish.
func (u *ResourcePoolUpdater) Reconcile(ctx context.Context, plan *Plan, maxInFlight int, sink EventSink, now func() int64) error {
	pools := make([]*ResourcePool, 0, len(plan.ResourcePools))
	for _, p := range plan.ResourcePools {
		pools = append(pools, p)
	}
	stage := NewStager(sink, "Updating resource pools", len(pools), now)

	sem := make(chan struct{}, maxInFlight)
	var wg sync.WaitGroup
	errs := make([]error, len(pools))
	var failed atomic.Bool

	for i, pool := range pools {
		i, pool := i, pool
		sem <- struct{}{}
		if failed.Load() {
			<-sem
			break
		}
		wg.Add(1)
		stage.Started(i+1, fmt.Sprintf("resource pool %s", pool.Name))
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := u.reconcilePool(ctx, plan.DeploymentName, pool); err != nil {
				errs[i] = err
				failed.Store(true)
				stage.Failed(i+1, fmt.Sprintf("resource pool %s", pool.Name), err)
				return
			}
			stage.Finished(i+1, fmt.Sprintf("resource pool %s", pool.Name))
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (u *ResourcePoolUpdater) reconcilePool(ctx context.Context, deployment DeploymentName, pool *ResourcePool) error {
	idle, err := u.Store.IdleVMs(ctx, deployment, pool.Name)
	if err != nil {
		return fmt.Errorf("%w: listing idle vms for pool %s: %v", ErrCPI, pool.Name, err)
	}

	var stale []VMRecord
	var fresh []VMRecord
	for _, vm := range idle {
		if vm.Stemcell != pool.Stemcell {
			stale = append(stale, vm)
		} else {
			fresh = append(fresh, vm)
		}
	}

	for _, vm := range stale {
		if err := u.CPI.DeleteVM(ctx, vm.VMID); err != nil {
			return fmt.Errorf("%w: deleting stale idle vm %s: %v", ErrCPI, vm.VMID, err)
		}
		if err := u.Store.DeleteVM(ctx, vm.VMID); err != nil {
			return fmt.Errorf("%w: removing vm record %s: %v", ErrStoreTransactionFailed, vm.VMID, err)
		}
	}

	deficit := pool.Size - len(fresh)
	for i := 0; i < deficit; i++ {
		cid, err := u.CPI.CreateVM(ctx, pool.Stemcell, pool.CloudProperties, []NetworkName{pool.Network}, nil)
		if err != nil {
			return fmt.Errorf("%w: creating vm for pool %s: %v", ErrCPI, pool.Name, err)
		}
		rec := VMRecord{
			VMID:       cid,
			Deployment: deployment,
			Pool:       pool.Name,
			Stemcell:   pool.Stemcell,
			Networks:   []NetworkName{pool.Network},
			IsIdle:     true,
		}
		if err := u.Store.SaveVM(ctx, rec); err != nil {
			return fmt.Errorf("%w: recording vm %s: %v", ErrStoreTransactionFailed, cid, err)
		}
	}

	if deficit < 0 {
		excess := fresh[:-deficit]
		for _, vm := range excess {
			if err := u.CPI.DeleteVM(ctx, vm.VMID); err != nil {
				return fmt.Errorf("%w: deleting excess idle vm %s: %v", ErrCPI, vm.VMID, err)
			}
			if err := u.Store.DeleteVM(ctx, vm.VMID); err != nil {
				return fmt.Errorf("%w: removing vm record %s: %v", ErrStoreTransactionFailed, vm.VMID, err)
			}
		}
	}

	return nil
}
