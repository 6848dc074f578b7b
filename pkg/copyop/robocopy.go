package copyop

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type Robocopy struct {
	Binary string
	Run    Runner
}

func NewRobocopy(binary string) *Robocopy {
	return &Robocopy{Binary: binary, Run: ExecRunner}
}

func (r *Robocopy) Name() string { return "robocopy" }

func (r *Robocopy) Copy(ctx context.Context, req Request) (Result, error) {
	job, err := os.CreateTemp("", "strict-dir-sync-*.rcj")
	if err != nil {
		return Result{}, fmt.Errorf("create job file: %w", err)
	}
	defer os.Remove(job.Name())

	if _, err := job.WriteString(RobocopyJob(req)); err != nil {
		job.Close()
		return Result{}, fmt.Errorf("write job file: %w", err)
	}
	if err := job.Close(); err != nil {
		return Result{}, fmt.Errorf("close job file: %w", err)
	}

	code, out, err := r.Run(ctx, r.Binary, RobocopyArgs(req, job.Name())...)
	if err != nil {
		return Result{}, err
	}
	res := ClassifyRobocopy(code).result(code)
	if res.Tier == TierC && len(out) > 0 {
		res.Detail += ": " + lastLine(out)
	}
	return res, nil
}

// RobocopyArgs builds the robocopy command line. Exclusions travel in the
// job file to stay under the command line length limit.
func RobocopyArgs(req Request, jobFile string) []string {
	args := []string{req.Source, req.Dest}
	if req.Mirror {
		args = append(args, "/MIR")
	} else {
		args = append(args, "/E")
	}
	args = append(args,
		"/R:"+strconv.Itoa(req.Retries),
		"/W:"+strconv.Itoa(int(req.RetryWait.Seconds())),
		"/NP", "/NDL",
	)
	if req.LogFile != "" {
		args = append(args, "/LOG+:"+req.LogFile, "/TEE")
	}
	if jobFile != "" {
		args = append(args, "/JOB:"+jobFile)
	}
	return args
}

// RobocopyJob renders the exclusion list as a robocopy job file. Robocopy
// only matches names, so patterns are kept when they name a file or a
// directory anywhere in the tree ("*.tmp", "**/cache/").
func RobocopyJob(req Request) string {
	var files, dirs []string
	for _, ext := range req.ExcludeExtensions {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		files = append(files, "*"+ext)
	}
	for _, p := range req.ExcludePatterns {
		name := strings.TrimPrefix(p, "**/")
		switch {
		case strings.HasSuffix(name, "/") && !strings.Contains(strings.TrimSuffix(name, "/"), "/"):
			dirs = append(dirs, strings.TrimSuffix(name, "/"))
		case !strings.Contains(name, "/"):
			files = append(files, name)
		}
	}
	for _, p := range req.ExcludePaths {
		files = append(files, filepath.Join(req.Source, filepath.FromSlash(p)))
	}

	var b strings.Builder
	if len(files) > 0 {
		b.WriteString("/XF\r\n")
		for _, f := range files {
			b.WriteString("\t" + f + "\r\n")
		}
	}
	if len(dirs) > 0 {
		b.WriteString("/XD\r\n")
		for _, d := range dirs {
			b.WriteString("\t" + d + "\r\n")
		}
	}
	return b.String()
}
