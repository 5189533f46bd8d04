// Package quota computes available budget for a tenant period. It is
// pure arithmetic over a ledger snapshot: limits minus consumed minus
// outstanding grants, with expiry applied logically so availability
// never depends on the sweeper having run.
package quota

import (
	"time"

	"github.com/pxl8/controlplane/internal/models"
	"github.com/pxl8/controlplane/internal/policy"
)

// Availability is the budget still grantable for one tenant period.
type Availability struct {
	BandwidthBytes int64
	Transforms     int64
}

// Available resolves grantable quota at the given instant. Leases past
// their deadline contribute zero even while still marked active. Results
// are clamped at zero: consumption can legitimately exceed limits (late
// reports are always accepted) but new grants never go negative.
func Available(quotas policy.Quotas, usage *models.PeriodUsage, leases []*models.Lease, now time.Time) Availability {
	var leasedBandwidth, leasedTransforms int64
	for _, lease := range leases {
		if !lease.Outstanding(now) {
			continue
		}
		leasedBandwidth += lease.BandwidthGrantedBytes
		leasedTransforms += lease.TransformsGranted
	}

	return Availability{
		BandwidthBytes: clamp(quotas.BandwidthLimitBytes - usage.BandwidthUsedBytes - leasedBandwidth),
		Transforms:     clamp(quotas.TransformsLimit - usage.TransformsUsed - leasedTransforms),
	}
}

// Grant caps a requested amount by what is available, per dimension.
func (a Availability) Grant(bandwidthRequested, transformsRequested int64) (int64, int64) {
	return min64(bandwidthRequested, a.BandwidthBytes), min64(transformsRequested, a.Transforms)
}

func clamp(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
