// Package progress derives completion percentage and remaining time from
// ledger counters. Every function here is pure.
package progress

import (
	"fmt"
	"time"

	"github.com/yuya-takeyama/strict-dir-sync/pkg/types"
)

type Report struct {
	Percent float64
	ETA     time.Duration
	// Known is false until at least one file was completed in this run.
	Known bool
}

// Estimate computes a report for marker. baselineFilesDone is the number of
// files already done when the run started, so that resumed work does not
// inflate the observed rate.
func Estimate(marker types.ProgressMarker, baselineFilesDone int, startedAt, now time.Time) Report {
	var r Report

	switch {
	case marker.TotalFiles > 0:
		r.Percent = percent(marker.FilesDone, marker.TotalFiles)
	case marker.TotalFolders > 0:
		r.Percent = percent(marker.FoldersDone, marker.TotalFolders)
	default:
		return r
	}

	doneThisRun := marker.FilesDone - baselineFilesDone
	remaining := marker.TotalFiles - marker.FilesDone
	elapsed := now.Sub(startedAt)
	if doneThisRun <= 0 || elapsed <= 0 {
		return r
	}

	r.Known = true
	if remaining <= 0 {
		return r
	}
	perFile := elapsed / time.Duration(doneThisRun)
	r.ETA = perFile * time.Duration(remaining)
	return r
}

func percent(done, total int) float64 {
	if total <= 0 {
		return 0
	}
	if done >= total {
		return 100
	}
	if done < 0 {
		return 0
	}
	return float64(done) / float64(total) * 100
}

func (r Report) String() string {
	if !r.Known {
		return fmt.Sprintf("%.1f%%", r.Percent)
	}
	return fmt.Sprintf("%.1f%% (ETA %s)", r.Percent, r.ETA.Round(time.Second))
}
