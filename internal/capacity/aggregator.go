// Package capacity aggregates recovery-backend usage across every account
// and region. Results are always best-effort partial: a single broken
// account or uninitialized region never fails the whole aggregation.
package capacity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/recoverly-io/recoverly/internal/backend"
	"github.com/recoverly-io/recoverly/internal/errdefs"
	"github.com/recoverly-io/recoverly/internal/logging"
	"github.com/recoverly-io/recoverly/internal/model"
)

const defaultParallelism = 10

// RegionUsage is one region's capacity snapshot with its classification.
type RegionUsage struct {
	Region            string `json:"region"`
	Replicating       int    `json:"replicating"`
	RecoveryInstances int    `json:"recoveryInstances"`
	Uninitialized     bool   `json:"uninitialized,omitempty"`
	ReplicationStatus Status `json:"replicationStatus"`
	RecoveryStatus    Status `json:"recoveryStatus"`
}

// AccountUsage aggregates one account across every supported region.
type AccountUsage struct {
	AccountID    string        `json:"accountId"`
	IsDefault    bool          `json:"isDefault"`
	Inaccessible bool          `json:"inaccessible,omitempty"`
	Error        string        `json:"error,omitempty"`
	Regions      []RegionUsage `json:"regions,omitempty"`
	Replicating  int           `json:"replicating"`
	Recovery     int           `json:"recoveryInstances"`
}

// CombinedCapacity is the fleet-wide aggregate: one target account plus the
// staging accounts, each contributing one ceiling per region.
type CombinedCapacity struct {
	Accounts         []AccountUsage `json:"accounts"`
	CombinedCeiling  int            `json:"combinedCeiling"`
	TotalReplicating int            `json:"totalReplicating"`
	TotalRecovery    int            `json:"totalRecovery"`
	Warnings         []string       `json:"warnings,omitempty"`
}

// Aggregator fans out read-only capacity queries account by account,
// region by region.
type Aggregator struct {
	backends    backend.Factory
	regions     []string
	parallelism int
}

// NewAggregator builds an aggregator over the supported region list.
func NewAggregator(backends backend.Factory, regions []string) *Aggregator {
	return &Aggregator{backends: backends, regions: regions, parallelism: defaultParallelism}
}

// QueryAllAccounts issues one concurrent query per account, and within each
// account one concurrent query per region. An inaccessible account is marked
// and excluded from totals; every other account still completes.
func (a *Aggregator) QueryAllAccounts(ctx context.Context, accounts []*model.AccountContext) *CombinedCapacity {
	results := make([]AccountUsage, len(accounts))

	sem := make(chan struct{}, a.parallelism)
	var wg sync.WaitGroup
	for i, acct := range accounts {
		wg.Add(1)
		go func(i int, acct *model.AccountContext) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = a.queryAccount(ctx, acct)
		}(i, acct)
	}
	wg.Wait()

	combined := &CombinedCapacity{Accounts: results}
	accessible := 0
	for _, usage := range results {
		if usage.Inaccessible {
			continue
		}
		accessible++
		combined.TotalReplicating += usage.Replicating
		combined.TotalRecovery += usage.Recovery
	}
	combined.CombinedCeiling = len(accounts) * ReplicationCeiling
	combined.Warnings = a.warnings(combined, accessible)
	return combined
}

func (a *Aggregator) queryAccount(ctx context.Context, acct *model.AccountContext) AccountUsage {
	usage := AccountUsage{AccountID: acct.AccountID, IsDefault: acct.IsDefault}
	regions := make([]RegionUsage, len(a.regions))

	var wg sync.WaitGroup
	var failure error
	var mu sync.Mutex

	for i, region := range a.regions {
		wg.Add(1)
		go func(i int, region string) {
			defer wg.Done()
			ru, err := a.queryRegion(ctx, acct.AccountID, region)
			if err != nil {
				mu.Lock()
				if failure == nil {
					failure = err
				}
				mu.Unlock()
				return
			}
			regions[i] = ru
		}(i, region)
	}
	wg.Wait()

	if failure != nil {
		var inaccessible *errdefs.AccountInaccessible
		if errors.As(failure, &inaccessible) {
			logging.Warn("account inaccessible, excluded from capacity totals",
				"account", acct.AccountID, "error", failure)
			usage.Inaccessible = true
			usage.Error = failure.Error()
			return usage
		}
		// Region-level backend failures degrade the account, same marking.
		usage.Inaccessible = true
		usage.Error = failure.Error()
		return usage
	}

	sort.Slice(regions, func(i, j int) bool { return regions[i].Region < regions[j].Region })
	usage.Regions = regions
	for _, r := range regions {
		usage.Replicating += r.Replicating
		usage.Recovery += r.RecoveryInstances
	}
	return usage
}

func (a *Aggregator) queryRegion(ctx context.Context, accountID, region string) (RegionUsage, error) {
	be, err := a.backends.Backend(ctx, accountID, region)
	if err != nil {
		return RegionUsage{}, err
	}
	summary, err := be.DescribeReplication(ctx)
	if err != nil {
		return RegionUsage{}, fmt.Errorf("failed to query %s/%s: %w", accountID, region, err)
	}
	ru := RegionUsage{
		Region:            region,
		Replicating:       summary.Replicating,
		RecoveryInstances: summary.RecoveryInstances,
		Uninitialized:     summary.Uninitialized,
		ReplicationStatus: ReplicationStatus(summary.Replicating, ReplicationCeiling),
		RecoveryStatus:    RecoveryStatus(summary.RecoveryInstances, ReplicationCeiling),
	}
	return ru, nil
}

// warnings emits per-account warnings and the combined-capacity warning
// independently; neither suppresses the other.
func (a *Aggregator) warnings(combined *CombinedCapacity, accessible int) []string {
	var out []string
	for _, usage := range combined.Accounts {
		if usage.Inaccessible {
			out = append(out, fmt.Sprintf("account %s is inaccessible and excluded from totals", usage.AccountID))
			continue
		}
		for _, r := range usage.Regions {
			switch r.ReplicationStatus {
			case StatusWarning, StatusCritical, StatusHyperCritical:
				out = append(out, fmt.Sprintf("account %s region %s replication at %d/%d (%s)",
					usage.AccountID, r.Region, r.Replicating, ReplicationCeiling, r.ReplicationStatus))
			}
			switch r.RecoveryStatus {
			case StatusWarning, StatusCritical:
				out = append(out, fmt.Sprintf("account %s region %s recovery capacity at %d/%d (%s)",
					usage.AccountID, r.Region, r.RecoveryInstances, ReplicationCeiling, r.RecoveryStatus))
			}
		}
	}
	if combined.CombinedCeiling > 0 &&
		float64(combined.TotalReplicating) >= 0.8*float64(combined.CombinedCeiling) {
		out = append(out, fmt.Sprintf("combined replication at %d of %d across %d accessible account(s)",
			combined.TotalReplicating, combined.CombinedCeiling, accessible))
	}
	return out
}
