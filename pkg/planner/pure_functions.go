package planner

import (
	"github.com/yuya-takeyama/strict-dir-sync/pkg/ledger"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/types"
)

// Classify routes each source file by ledger membership. Outputs are sorted
// by relative path.
func Classify(source []types.FileRecord, lookup func(relPath string) (ledger.Entry, bool), verify bool) Classification {
	result := Classification{
		New:       []types.FileRecord{},
		Completed: []types.FileRecord{},
		Changed:   []types.FileRecord{},
	}

	for _, rec := range source {
		entry, done := lookup(rec.RelPath)
		switch {
		case !done:
			result.New = append(result.New, rec)
		case verify && changed(rec, entry):
			result.Changed = append(result.Changed, rec)
		default:
			result.Completed = append(result.Completed, rec)
		}
	}

	types.SortRecords(result.New)
	types.SortRecords(result.Completed)
	types.SortRecords(result.Changed)
	return result
}

// changed is true only when the ledger holds metadata that disagrees with rec.
// Path-only entries are trusted.
func changed(rec types.FileRecord, entry ledger.Entry) bool {
	if entry.Size == 0 && entry.ModTime.IsZero() {
		return false
	}
	if rec.Size != entry.Size {
		return true
	}
	return !entry.ModTime.IsZero() && !rec.ModTime.Equal(entry.ModTime)
}

// GeneratePlan turns a classification into a folder plan.
func GeneratePlan(folder types.FolderUnit, key string, c Classification) types.TransferPlan {
	plan := types.TransferPlan{
		Folder:      folder,
		LedgerKey:   key,
		FilesToCopy: make([]types.FileRecord, 0, len(c.New)+len(c.Changed)),
		FilesToSkip: make([]types.FileRecord, 0, len(c.Completed)),
		Reasons:     make(map[string]string, len(c.New)+len(c.Changed)+len(c.Completed)),
	}

	for _, rec := range c.New {
		plan.FilesToCopy = append(plan.FilesToCopy, rec)
		plan.Reasons[rec.RelPath] = ReasonNew
	}
	for _, rec := range c.Changed {
		plan.FilesToCopy = append(plan.FilesToCopy, rec)
		plan.Reasons[rec.RelPath] = ReasonChanged
	}
	for _, rec := range c.Completed {
		plan.FilesToSkip = append(plan.FilesToSkip, rec)
		plan.Reasons[rec.RelPath] = ReasonCompleted
	}
	types.SortRecords(plan.FilesToCopy)

	if len(plan.FilesToCopy) == 0 {
		plan.Status = types.PlanComplete
	} else {
		plan.Status = types.PlanPending
	}
	return plan
}

// NotFoundPlan is the empty plan of a folder whose source is absent.
func NotFoundPlan(folder types.FolderUnit, key string) types.TransferPlan {
	return types.TransferPlan{
		Folder:      folder,
		LedgerKey:   key,
		FilesToCopy: []types.FileRecord{},
		FilesToSkip: []types.FileRecord{},
		Status:      types.PlanNotFound,
		Reasons:     map[string]string{},
	}
}

// Summarize aggregates plan counts.
func Summarize(plans []types.TransferPlan) Summary {
	var s Summary
	for _, p := range plans {
		s.Folders++
		switch p.Status {
		case types.PlanPending:
			s.Pending++
		case types.PlanComplete:
			s.Complete++
		case types.PlanNotFound:
			s.NotFound++
		}
		s.Copy += len(p.FilesToCopy)
		s.Skip += len(p.FilesToSkip)
		s.CopyBytes += p.CopyBytes()
	}
	return s
}
