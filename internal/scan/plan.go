package scan

import (
	"fmt"

	"github.com/L1nMay/vulnorch/internal/model"
)

type PlannedTarget struct {
	AssetID string `json:"assetId"`
	Name    string `json:"name"`
	Hosts   string `json:"hosts"`
}

// ScanPlan is what Start would create on the engine, without touching it.
type ScanPlan struct {
	Targets    []PlannedTarget `json:"targets"`
	PortListID string          `json:"portListId"`
	Reason     string          `json:"reason"`
}

func (r *Runner) Plan(assets []model.Asset) (*ScanPlan, error) {
	if err := ValidateAssets(assets); err != nil {
		return nil, err
	}
	assets = normalizeAssets(assets)

	plan := &ScanPlan{
		Targets:    make([]PlannedTarget, 0, len(assets)),
		PortListID: resolvePortList(r.portList),
	}
	for _, a := range assets {
		hosts, err := hostOf(a)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidAsset, assetLabel(a), err)
		}
		plan.Targets = append(plan.Targets, PlannedTarget{AssetID: a.ID, Name: a.Name, Hosts: hosts})
	}

	switch len(assets) {
	case 1:
		plan.Reason = "single asset: one target, one task"
	default:
		plan.Reason = fmt.Sprintf("%d assets: one target and one task each", len(assets))
	}
	return plan, nil
}
