package copyop

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRun struct {
	code    int
	out     string
	err     error
	name    string
	args    []string
	extract func(args []string)
}

func (f *fakeRun) run(_ context.Context, name string, args ...string) (int, []byte, error) {
	f.name = name
	f.args = args
	if f.extract != nil {
		f.extract(args)
	}
	return f.code, []byte(f.out), f.err
}

func TestRsyncArgs(t *testing.T) {
	req := Request{Source: "/src", Dest: "/dst", Mirror: true, LogFile: "/log/copy.log"}
	got := RsyncArgs(req, "/tmp/ex.txt")

	assert.Equal(t, []string{
		"--archive", "--human-readable", "--delete",
		"--exclude-from=/tmp/ex.txt", "--log-file=/log/copy.log",
		"/src/", "/dst/",
	}, got)
}

func TestRsyncExcludeRules(t *testing.T) {
	got := RsyncExcludeRules(Request{
		ExcludeExtensions: []string{".pst", "ost"},
		ExcludePaths:      []string{"a/b.txt", "weird[1]*.txt"},
	})

	assert.Equal(t, []string{
		"*.[pP][sS][tT]",
		"*.[oO][sS][tT]",
		"/a/b.txt",
		`/weird\[1]\*.txt`,
	}, got)
}

func TestRsyncCopyClassifiesExitCode(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "dst")
	var rules string
	fake := &fakeRun{code: 23, out: "rsync: some files could not be transferred\n"}
	fake.extract = func(args []string) {
		for _, a := range args {
			if strings.HasPrefix(a, "--exclude-from=") {
				data, err := os.ReadFile(strings.TrimPrefix(a, "--exclude-from="))
				require.NoError(t, err)
				rules = string(data)
			}
		}
	}
	op := &Rsync{Binary: "rsync", Run: fake.run}

	res, err := op.Copy(context.Background(), Request{Source: "/src", Dest: dest, ExcludePaths: []string{"done.txt"}})
	require.NoError(t, err)

	assert.Equal(t, "rsync", fake.name)
	assert.Equal(t, 23, res.ExitCode)
	assert.Equal(t, TierB, res.Tier)
	assert.True(t, res.Retryable)
	assert.Contains(t, res.Detail, "some files could not be transferred")
	assert.Equal(t, "/done.txt", rules)
	assert.DirExists(t, dest)
}

func TestRsyncCopyStartFailure(t *testing.T) {
	fake := &fakeRun{err: errors.New("executable file not found")}
	op := &Rsync{Binary: "rsync", Run: fake.run}

	_, err := op.Copy(context.Background(), Request{Source: "/src", Dest: t.TempDir()})
	assert.Error(t, err)
}

func TestRobocopyArgsAndJob(t *testing.T) {
	req := Request{
		Source:            filepath.FromSlash("/src"),
		Dest:              filepath.FromSlash("/dst"),
		Retries:           2,
		RetryWait:         5 * time.Second,
		LogFile:           "copy.log",
		ExcludeExtensions: []string{"pst"},
		ExcludePaths:      []string{"sub/a.txt"},
	}

	assert.Equal(t, []string{
		req.Source, req.Dest, "/E", "/R:2", "/W:5", "/NP", "/NDL",
		"/LOG+:copy.log", "/TEE", "/JOB:job.rcj",
	}, RobocopyArgs(req, "job.rcj"))

	job := RobocopyJob(req)
	assert.True(t, strings.HasPrefix(job, "/XF\r\n"))
	assert.Contains(t, job, "\t*.pst\r\n")
	assert.Contains(t, job, "\t"+filepath.Join(req.Source, "sub", "a.txt")+"\r\n")

	assert.Empty(t, RobocopyJob(Request{}))
	assert.Contains(t, RobocopyArgs(Request{Mirror: true}, ""), "/MIR")
}

func TestRobocopyCopyClassifiesExitCode(t *testing.T) {
	fake := &fakeRun{code: 1}
	op := &Robocopy{Binary: "robocopy", Run: fake.run}

	res, err := op.Copy(context.Background(), Request{Source: "C:/src", Dest: "D:/dst"})
	require.NoError(t, err)
	assert.Equal(t, TierA, res.Tier)
	assert.Equal(t, 1, res.ExitCode)
}

func TestNewOperator(t *testing.T) {
	for _, name := range []string{"", "native", "rsync", "robocopy"} {
		op, err := New(name)
		require.NoError(t, err, name)
		assert.NotNil(t, op)
	}
	_, err := New("scp")
	assert.Error(t, err)
}

func TestExcludePatternRendering(t *testing.T) {
	req := Request{
		Source:          filepath.FromSlash("/src"),
		ExcludePatterns: []string{"**/cache/", "*.tmp", "build/out/"},
	}

	assert.Equal(t, []string{"/**/cache/", "/*.tmp", "/build/out/"}, RsyncExcludeRules(req))

	job := RobocopyJob(req)
	assert.Equal(t, "/XF\r\n\t*.tmp\r\n/XD\r\n\tcache\r\n", job)
}
