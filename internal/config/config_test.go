package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yuya-takeyama/strict-dir-sync/pkg/types"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "empty.toml", ""), nil)
	require.NoError(t, err)

	names := make([]string, 0, len(cfg.Folders))
	for _, f := range cfg.Folders {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"Desktop", "Documents", "Downloads", "Music", "Pictures", "Videos"}, names)
	assert.Equal(t, []string{".pst", ".ost"}, cfg.ExcludeExtensions)
	assert.Equal(t, "ask", cfg.Conflict)
	assert.Equal(t, "native", cfg.Operator)
	assert.True(t, cfg.VerifyCompleted)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.RetryDelay)
	assert.Equal(t, time.Second, cfg.RetryWait)
}

func TestLoadTOMLFile(t *testing.T) {
	path := writeConfig(t, "config.toml", `
conflict = "ifnewer"
retry_delay = "250ms"

[[folders]]
name = "Documents"
source = "/data/docs"

[[folders]]
name = "Work"
source = "/data/onedrive/Work"
kind = "synced_root"
`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	require.Len(t, cfg.Folders, 2)
	assert.Equal(t, "Work", cfg.Folders[1].Name)
	assert.Equal(t, types.KindSyncedRoot, cfg.Folders[1].FolderKind())
	assert.Equal(t, types.KindStandard, cfg.Folders[0].FolderKind())
	assert.Equal(t, "ifnewer", cfg.Conflict)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryDelay)
	assert.Equal(t, path, cfg.Source)
}

func TestLoadYAMLFile(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
operator: rsync
mirror: true
exclude_patterns:
  - "**/node_modules/"
folders:
  - name: Projects
    source: /src
`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "rsync", cfg.Operator)
	assert.True(t, cfg.Mirror)
	assert.Equal(t, []string{"**/node_modules/"}, cfg.ExcludePatterns)
	require.Len(t, cfg.Folders, 1)
	assert.Equal(t, "/src", cfg.Folders[0].Source)
}

func TestLoadPrecedence(t *testing.T) {
	path := writeConfig(t, "config.toml", `
conflict = "skip"
max_attempts = 5
`)
	t.Setenv("STRICT_DIR_SYNC_MAX_ATTEMPTS", "7")
	t.Setenv("STRICT_DIR_SYNC_EXCLUDE_EXTENSIONS", ".iso,.vmdk")

	cfg, err := Load(path, map[string]interface{}{"conflict": "overwrite"})
	require.NoError(t, err)

	assert.Equal(t, "overwrite", cfg.Conflict)
	assert.Equal(t, 7, cfg.MaxAttempts)
	assert.Equal(t, []string{".iso", ".vmdk"}, cfg.ExcludeExtensions)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown policy", `conflict = "merge"`},
		{"unknown operator", `operator = "xcopy"`},
		{"zero attempts", `max_attempts = 0`},
		{"unknown kind", "[[folders]]\nname = \"A\"\nkind = \"cloud\""},
		{"duplicate folder", "[[folders]]\nname = \"A\"\n[[folders]]\nname = \"A\""},
		{"separator in name", "[[folders]]\nname = \"a/b\""},
		{"unnamed folder", "[[folders]]\nsource = \"/x\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "config.toml", tt.content), nil)
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"), nil)
	assert.Error(t, err)
}

func TestFolderPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	tests := []struct {
		name   string
		folder Folder
		want   string
	}{
		{"explicit", Folder{Name: "Docs", Source: "/data/docs"}, "/data/docs"},
		{"home relative", Folder{Name: "Docs", Source: "~/docs"}, filepath.Join(home, "docs")},
		{"fallback to home", Folder{Name: "Projects"}, filepath.Join(home, "Projects")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.folder.Path()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
