package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yuya-takeyama/strict-dir-sync/pkg/planner"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/types"
)

// PlanReport is the machine readable form of the plans of a session.
type PlanReport struct {
	Files   []PlanFile      `json:"files"`
	Folders []PlanFolder    `json:"folders"`
	Summary planner.Summary `json:"summary"`
}

type PlanFolder struct {
	Name   string           `json:"name"`
	Key    string           `json:"key"`
	Source string           `json:"source"`
	Target string           `json:"target"`
	Status types.PlanStatus `json:"status"`
}

type PlanFile struct {
	Action string `json:"action"` // "copy" or "skip"
	Source string `json:"source"`
	Target string `json:"target"`
	Size   uint64 `json:"size"`
	Reason string `json:"reason"`
}

func NewPlanReport(plans []types.TransferPlan) PlanReport {
	report := PlanReport{
		Files:   []PlanFile{},
		Folders: []PlanFolder{},
		Summary: planner.Summarize(plans),
	}
	for _, p := range plans {
		report.Folders = append(report.Folders, PlanFolder{
			Name:   p.Folder.Name,
			Key:    p.LedgerKey,
			Source: p.Folder.SourcePath,
			Target: p.Folder.DestPath,
			Status: p.Status,
		})
		for _, rec := range p.FilesToCopy {
			report.Files = append(report.Files, planFile("copy", p, rec))
		}
		for _, rec := range p.FilesToSkip {
			report.Files = append(report.Files, planFile("skip", p, rec))
		}
	}
	return report
}

func planFile(action string, p types.TransferPlan, rec types.FileRecord) PlanFile {
	return PlanFile{
		Action: action,
		Source: filepath.Join(p.Folder.SourcePath, filepath.FromSlash(rec.RelPath)),
		Target: filepath.Join(p.Folder.DestPath, filepath.FromSlash(rec.RelPath)),
		Size:   rec.Size,
		Reason: p.Reasons[rec.RelPath],
	}
}

// WriteJSON writes the report to file.
func (r PlanReport) WriteJSON(file string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}
	if err := os.WriteFile(file, data, 0644); err != nil {
		return fmt.Errorf("failed to write plan: %w", err)
	}
	return nil
}
