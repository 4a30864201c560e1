package file

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mensylisir/sshdeploy/common"
)

func TestResolver_Resolve(t *testing.T) {
	dir1Tree := []string{"/tmp/dir1", "/tmp/dir1/b.txt", "/tmp/dir1/sub", "/tmp/dir1/sub/c.txt"}

	tests := []struct {
		name     string
		patterns []string
		want     []string
		wantErr  error
	}{
		{
			name:     "literal file",
			patterns: []string{"/tmp/a.txt"},
			want:     []string{"/tmp/a.txt"},
		},
		{
			name:     "directory yields its descendants",
			patterns: []string{"/tmp/dir1"},
			want:     dir1Tree,
		},
		{
			name:     "relative pattern is rooted at the work dir",
			patterns: []string{"a.txt"},
			want:     []string{"/tmp/a.txt"},
		},
		{
			name:     "single segment wildcard",
			patterns: []string{"/tmp/*.txt"},
			want:     []string{"/tmp/a.txt", "/tmp/z.txt"},
		},
		{
			name:     "globstar crosses directories",
			patterns: []string{"/tmp/**/c.txt"},
			want:     []string{"/tmp/dir1/sub/c.txt"},
		},
		{
			name:     "wildcard does not descend through files",
			patterns: []string{"/tmp/*/x.txt"},
			want:     []string{"/tmp/dir10/x.txt"},
		},
		{
			name:     "exclude removes a subtree",
			patterns: []string{"/tmp/dir1", "!/tmp/dir1/sub"},
			want:     []string{"/tmp/dir1", "/tmp/dir1/b.txt"},
		},
		{
			name:     "later include re-adds an excluded path",
			patterns: []string{"/tmp/dir1", "!/tmp/dir1/**", "/tmp/dir1/b.txt"},
			want:     []string{"/tmp/dir1/b.txt"},
		},
		{
			name:     "blank lines and comments are ignored",
			patterns: []string{"", "   ", "# a comment", "  /tmp/a.txt  "},
			want:     []string{"/tmp/a.txt"},
		},
		{
			name:     "duplicates keep first position",
			patterns: []string{"/tmp/dir1/b.txt", "/tmp/dir1", "/tmp/dir1/b.txt"},
			want:     []string{"/tmp/dir1/b.txt", "/tmp/dir1", "/tmp/dir1/sub", "/tmp/dir1/sub/c.txt"},
		},
		{
			name:     "no matches",
			patterns: []string{"/nope/*", "/tmp/missing.txt"},
			want:     nil,
		},
		{
			name:     "empty directory",
			patterns: []string{"/tmp/empty"},
			want:     []string{"/tmp/empty"},
		},
		{
			name:     "malformed pattern",
			patterns: []string{"/tmp/[a-"},
			wantErr:  ErrBadPattern,
		},
		{
			name:     "bare exclusion mark",
			patterns: []string{"!"},
			wantErr:  ErrBadPattern,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(newTestFS(t), "/tmp")
			got, err := r.Resolve(tt.patterns)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolver_OSFilesystem(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.log"), []byte("x"), common.FileMode0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.txt"), []byte("x"), common.FileMode0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "conf", "nested"), common.FileMode0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "conf", "nested", "x.yaml"), []byte("x"), common.FileMode0644))

	r := NewResolver(NewOSFilesystem(), dir)
	got, err := r.Resolve([]string{"*.log", "conf"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "app.log"),
		filepath.Join(dir, "conf"),
		filepath.Join(dir, "conf", "nested"),
		filepath.Join(dir, "conf", "nested", "x.yaml"),
	}, got)
}
