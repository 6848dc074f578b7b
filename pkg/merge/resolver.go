// Package merge detects files that a restore source would write over and
// decides, per file, which side wins. It never touches the filesystem.
package merge

import (
	"context"
	"errors"
	"fmt"

	"github.com/yuya-takeyama/strict-dir-sync/pkg/types"
)

const (
	ReasonPolicySkip      = "policy skip"
	ReasonPolicyOverwrite = "policy overwrite"
	ReasonIncomingNewer   = "incoming is newer"
	ReasonExistingNewer   = "existing is newer or same age"
	ReasonChosenSkip      = "chosen skip"
	ReasonChosenOverwrite = "chosen overwrite"
	ReasonIdentical       = "identical size and mtime"
	ReasonAborted         = "review aborted"
)

// Prompter asks the user about one conflict. remaining includes c.
type Prompter interface {
	Ask(ctx context.Context, c types.ConflictRecord, remaining int) (Decision, error)
}

type Result struct {
	Conflicts []types.ConflictRecord
	// Aborted is set when the user stopped the review. Conflicts after that
	// point are left pending.
	Aborted bool
}

// Resolver carries a sticky decision across Resolve calls, so one resolver
// should be used per merged source.
type Resolver struct {
	policy   Policy
	prompter Prompter
	sticky   *Decision
}

func NewResolver(policy Policy, prompter Prompter) *Resolver {
	return &Resolver{policy: policy, prompter: prompter}
}

// batch returns the decision in force for every remaining conflict, if any.
func (r *Resolver) batch() (Decision, bool) {
	if r.sticky == nil {
		return 0, false
	}
	return *r.sticky, true
}

// Detect lists the paths present on both sides, ordered by relative path.
func Detect(destination, incoming []types.FileRecord) []types.ConflictRecord {
	existing := types.IndexRecords(destination)

	sorted := append([]types.FileRecord(nil), incoming...)
	types.SortRecords(sorted)

	conflicts := []types.ConflictRecord{}
	for _, in := range sorted {
		ex, ok := existing[in.RelPath]
		if !ok {
			continue
		}
		conflicts = append(conflicts, types.ConflictRecord{
			RelPath:    in.RelPath,
			Existing:   ex,
			Incoming:   in,
			Resolution: types.ResolutionPending,
		})
	}
	return conflicts
}

// Resolve detects conflicts between destination and incoming and sets a
// resolution on each one.
func (r *Resolver) Resolve(ctx context.Context, destination, incoming []types.FileRecord) (Result, error) {
	conflicts := Detect(destination, incoming)

	switch r.policy {
	case PolicySkip:
		for i := range conflicts {
			resolve(&conflicts[i], DecisionSkip)
			conflicts[i].Reason = ReasonPolicySkip
		}
	case PolicyOverwrite:
		for i := range conflicts {
			resolve(&conflicts[i], DecisionOverwrite)
			conflicts[i].Reason = ReasonPolicyOverwrite
		}
	case PolicyIfNewer:
		for i := range conflicts {
			resolve(&conflicts[i], DecisionKeepNewer)
		}
	case PolicyAsk:
		return r.fold(ctx, conflicts)
	default:
		return Result{}, fmt.Errorf("unknown conflict policy %q", r.policy)
	}
	return Result{Conflicts: conflicts}, nil
}

func (r *Resolver) fold(ctx context.Context, conflicts []types.ConflictRecord) (Result, error) {
	if r.prompter == nil && len(conflicts) > 0 {
		return Result{}, errors.New("ask policy requires a prompter")
	}

	res := Result{Conflicts: conflicts}
	for i := range conflicts {
		c := &conflicts[i]
		if res.Aborted {
			c.Reason = ReasonAborted
			continue
		}

		if r.sticky != nil {
			resolve(c, *r.sticky)
			continue
		}

		if identical(c.Existing, c.Incoming) {
			c.Resolution = types.ResolutionSkip
			c.Reason = ReasonIdentical
			continue
		}

		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		d, err := r.prompter.Ask(ctx, *c, len(conflicts)-i)
		if err != nil {
			return Result{}, fmt.Errorf("prompt %s: %w", c.RelPath, err)
		}

		if d == DecisionAbort {
			res.Aborted = true
			c.Reason = ReasonAborted
			continue
		}
		if single, ok := d.sticky(); ok {
			r.sticky = &single
			d = single
		}
		resolve(c, d)
	}
	return res, nil
}

func resolve(c *types.ConflictRecord, d Decision) {
	switch d {
	case DecisionOverwrite:
		c.Resolution = types.ResolutionOverwrite
		c.Reason = ReasonChosenOverwrite
	case DecisionKeepNewer:
		if c.Incoming.ModTime.After(c.Existing.ModTime) {
			c.Resolution = types.ResolutionOverwrite
			c.Reason = ReasonIncomingNewer
		} else {
			c.Resolution = types.ResolutionSkip
			c.Reason = ReasonExistingNewer
		}
	default:
		c.Resolution = types.ResolutionSkip
		c.Reason = ReasonChosenSkip
	}
}

func identical(a, b types.FileRecord) bool {
	return a.Size == b.Size && a.ModTime.Equal(b.ModTime)
}
