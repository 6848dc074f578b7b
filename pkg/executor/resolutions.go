package executor

import (
	"github.com/yuya-takeyama/strict-dir-sync/pkg/types"
)

// ApplyResolutions folds merge decisions into plan. Overwrite sends the
// incoming file to the copy list; Skip and unresolved conflicts keep the
// existing file by excluding the path.
func ApplyResolutions(plan types.TransferPlan, conflicts []types.ConflictRecord) types.TransferPlan {
	if len(conflicts) == 0 || plan.Status == types.PlanNotFound {
		return plan
	}

	decided := make(map[string]types.ConflictRecord, len(conflicts))
	for _, c := range conflicts {
		decided[c.RelPath] = c
	}

	out := plan
	out.FilesToCopy = make([]types.FileRecord, 0, len(plan.FilesToCopy))
	out.FilesToSkip = append([]types.FileRecord{}, plan.FilesToSkip...)
	out.Reasons = make(map[string]string, len(plan.Reasons))
	for k, v := range plan.Reasons {
		out.Reasons[k] = v
	}

	for _, rec := range plan.FilesToCopy {
		c, conflicting := decided[rec.RelPath]
		if !conflicting || c.Resolution == types.ResolutionOverwrite {
			if conflicting {
				out.Reasons[rec.RelPath] = "conflict: " + c.Reason
			}
			out.FilesToCopy = append(out.FilesToCopy, rec)
			continue
		}
		out.FilesToSkip = append(out.FilesToSkip, rec)
		out.Reasons[rec.RelPath] = "conflict: " + c.Reason
	}
	types.SortRecords(out.FilesToSkip)

	if len(out.FilesToCopy) == 0 {
		out.Status = types.PlanComplete
	}
	return out
}
