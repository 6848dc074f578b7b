package planner

import (
	"github.com/yuya-takeyama/strict-dir-sync/internal/walker"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/ledger"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/logger"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/types"
)

type Planner struct {
	opts   Options
	logger logger.Logger
}

func NewPlanner(opts Options, log logger.Logger) *Planner {
	if opts.Exists == nil {
		opts.Exists = walker.Present
	}
	if log == nil {
		log = logger.NullLogger{}
	}
	return &Planner{opts: opts, logger: log}
}

// Plan computes the work list of folder, keyed in the ledger by folder name.
func (p *Planner) Plan(source Source, folder types.FolderUnit, completions Completions) types.TransferPlan {
	return p.PlanKey(source, folder, folder.Name, completions)
}

// PlanKey is Plan with an explicit ledger key, used when several sources feed
// the same folder.
func (p *Planner) PlanKey(source Source, folder types.FolderUnit, key string, completions Completions) types.TransferPlan {
	if !p.opts.Exists(folder.SourcePath) {
		p.logger.Skip(folder.SourcePath, types.ErrSourceNotFound.Error())
		return NotFoundPlan(folder, key)
	}

	records := walker.Collect(source)
	lookup := func(relPath string) (ledger.Entry, bool) {
		return completions.Lookup(key, relPath)
	}
	plan := GeneratePlan(folder, key, Classify(records, lookup, p.opts.VerifyCompleted))

	for _, rec := range plan.FilesToSkip {
		p.logger.Skip(rec.RelPath, ReasonCompleted)
	}
	return plan
}
