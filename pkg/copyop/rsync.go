package copyop

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type Rsync struct {
	Binary string
	Run    Runner
}

func NewRsync(binary string) *Rsync {
	return &Rsync{Binary: binary, Run: ExecRunner}
}

func (r *Rsync) Name() string { return "rsync" }

func (r *Rsync) Copy(ctx context.Context, req Request) (Result, error) {
	filter, err := os.CreateTemp("", "strict-dir-sync-exclude-*.txt")
	if err != nil {
		return Result{}, fmt.Errorf("create exclude file: %w", err)
	}
	defer os.Remove(filter.Name())

	if _, err := filter.WriteString(strings.Join(RsyncExcludeRules(req), "\n")); err != nil {
		filter.Close()
		return Result{}, fmt.Errorf("write exclude file: %w", err)
	}
	if err := filter.Close(); err != nil {
		return Result{}, fmt.Errorf("close exclude file: %w", err)
	}

	if err := os.MkdirAll(req.Dest, 0755); err != nil {
		return ClassifyRsync(11).result(11), nil
	}

	code, out, err := r.Run(ctx, r.Binary, RsyncArgs(req, filter.Name())...)
	if err != nil {
		return Result{}, err
	}
	res := ClassifyRsync(code).result(code)
	if res.Tier != TierA && len(out) > 0 {
		res.Detail += ": " + lastLine(out)
	}
	return res, nil
}

// RsyncArgs builds the rsync command line for req. rsync has no per-file
// retry, so Retries and RetryWait are left to the executor.
func RsyncArgs(req Request, excludeFile string) []string {
	args := []string{"--archive", "--human-readable"}
	if req.Mirror {
		args = append(args, "--delete")
	}
	if excludeFile != "" {
		args = append(args, "--exclude-from="+excludeFile)
	}
	if req.LogFile != "" {
		args = append(args, "--log-file="+req.LogFile)
	}
	return append(args, withTrailingSlash(req.Source), withTrailingSlash(req.Dest))
}

// RsyncExcludeRules renders the exclusions of req as rsync filter rules.
// Patterns and paths are anchored to the transfer root.
func RsyncExcludeRules(req Request) []string {
	rules := make([]string, 0, len(req.ExcludeExtensions)+len(req.ExcludePatterns)+len(req.ExcludePaths))
	for _, ext := range req.ExcludeExtensions {
		rules = append(rules, "*"+caseInsensitiveGlob(ext))
	}
	for _, p := range req.ExcludePatterns {
		rules = append(rules, "/"+strings.TrimPrefix(p, "/"))
	}
	for _, p := range req.ExcludePaths {
		rules = append(rules, "/"+escapeRsyncPattern(p))
	}
	return rules
}

func caseInsensitiveGlob(ext string) string {
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	var b strings.Builder
	for _, r := range ext {
		lower, upper := strings.ToLower(string(r)), strings.ToUpper(string(r))
		if lower == upper {
			b.WriteString(escapeRsyncPattern(string(r)))
			continue
		}
		b.WriteString("[" + lower + upper + "]")
	}
	return b.String()
}

func escapeRsyncPattern(p string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`)
	return replacer.Replace(p)
}

func withTrailingSlash(p string) string {
	if strings.HasSuffix(p, string(filepath.Separator)) {
		return p
	}
	return p + string(filepath.Separator)
}

func lastLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
