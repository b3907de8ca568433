package model

import (
	"fmt"
	"sort"

	"github.com/recoverly-io/recoverly/internal/errdefs"
)

// MaxServersPerPlan is the backend's per-plan submission ceiling: the total
// server count across all waves of one plan may not exceed it.
const MaxServersPerPlan = 200

// ValidateGroup checks structural constraints on a protection group.
func ValidateGroup(g *ProtectionGroup) error {
	if g.GroupID == "" {
		return fmt.Errorf("protection group is missing groupId")
	}
	if g.AccountID == "" || g.Region == "" {
		return fmt.Errorf("protection group %s is missing accountId or region", g.GroupID)
	}
	if len(g.SourceServerIDs) == 0 && len(g.SelectionTags) == 0 {
		return fmt.Errorf("protection group %s has neither explicit servers nor selection tags", g.GroupID)
	}
	return nil
}

// ValidatePlan checks the structural invariants of a recovery plan: at least
// one wave, unique ascending wave numbers, each wave referencing exactly one
// membership source, and the per-plan submission ceiling for explicit waves.
// Cross-account group references are checked by the caller, which can load
// the referenced groups; groupAccounts maps groupId to owning account.
func ValidatePlan(p *RecoveryPlan, groupAccounts map[string]string) error {
	if p.PlanID == "" {
		return &errdefs.PlanValidation{PlanID: p.PlanID, Reason: "missing planId"}
	}
	if len(p.Waves) == 0 {
		return &errdefs.PlanValidation{PlanID: p.PlanID, Reason: "plan has no waves"}
	}

	seen := make(map[int]bool)
	explicit := 0
	for _, w := range p.Waves {
		if seen[w.WaveNumber] {
			return &errdefs.PlanValidation{
				PlanID: p.PlanID,
				Reason: fmt.Sprintf("duplicate wave number %d", w.WaveNumber),
			}
		}
		seen[w.WaveNumber] = true

		hasGroup := w.ProtectionGroupID != ""
		hasServers := len(w.SourceServerIDs) > 0
		if hasGroup == hasServers {
			return &errdefs.PlanValidation{
				PlanID: p.PlanID,
				Reason: fmt.Sprintf("wave %d must reference exactly one of a protection group or a server list", w.WaveNumber),
			}
		}
		explicit += len(w.SourceServerIDs)

		if hasGroup {
			acct, ok := groupAccounts[w.ProtectionGroupID]
			if !ok {
				return &errdefs.PlanValidation{
					PlanID: p.PlanID,
					Reason: fmt.Sprintf("wave %d references unknown protection group %s", w.WaveNumber, w.ProtectionGroupID),
				}
			}
			if acct != p.AccountID {
				return &errdefs.PlanValidation{
					PlanID: p.PlanID,
					Reason: fmt.Sprintf("wave %d references protection group %s in account %s; cross-account plans are not allowed", w.WaveNumber, w.ProtectionGroupID, acct),
				}
			}
		}
	}

	if explicit > MaxServersPerPlan {
		return &errdefs.PlanValidation{
			PlanID: p.PlanID,
			Reason: fmt.Sprintf("plan references %d servers, exceeding the per-plan ceiling of %d", explicit, MaxServersPerPlan),
		}
	}

	return nil
}

// SortedWaves returns the plan's waves ordered by wave number.
func (p *RecoveryPlan) SortedWaves() []Wave {
	waves := make([]Wave, len(p.Waves))
	copy(waves, p.Waves)
	sort.Slice(waves, func(i, j int) bool { return waves[i].WaveNumber < waves[j].WaveNumber })
	return waves
}
