package edit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automation-gateway/api"
	"automation-gateway/internal/apperr"
)

func strp(s string) *string { return &s }
func intp(i int) *int       { return &i }

func apply(t *testing.T, e *Editor, req api.EditRequest) (string, error) {
	t.Helper()
	cmd, err := Decode(req)
	if err != nil {
		return "", err
	}
	return e.Apply(cmd)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestEditor_CreateThenView(t *testing.T) {
	e := NewEditor("", nil)
	path := filepath.Join(t.TempDir(), "test.txt")

	msg, err := apply(t, e, api.EditRequest{Command: "create", Path: path, FileText: strp("Line1\nLine2\nLine3")})
	require.NoError(t, err)
	assert.Equal(t, "File created successfully at: "+path, msg)

	out, err := apply(t, e, api.EditRequest{Command: "view", Path: path})
	require.NoError(t, err)
	assert.Contains(t, out, "Line1")
	assert.Equal(t, "Line1\nLine2\nLine3", out)
}

func TestEditor_ViewRange(t *testing.T) {
	e := NewEditor("", nil)
	path := filepath.Join(t.TempDir(), "range.txt")
	writeFile(t, path, "Line1\nLine2\nLine3")

	cases := []struct {
		name    string
		rng     []int
		want    string
		wantErr string
	}{
		{name: "first two", rng: []int{1, 2}, want: "Line1\nLine2"},
		{name: "single line", rng: []int{3, 3}, want: "Line3"},
		{name: "to end", rng: []int{2, -1}, want: "Line2\nLine3"},
		{name: "start past end", rng: []int{5, 1}, wantErr: "first element 5 should be within range [1, 3]"},
		{name: "start zero", rng: []int{0, 1}, wantErr: "first element 0"},
		{name: "end too large", rng: []int{1, 9}, wantErr: "second element 9 should be smaller than number of lines 3"},
		{name: "end before start", rng: []int{3, 2}, wantErr: "second element 2 should be larger or equal to first element 3"},
		{name: "wrong length", rng: []int{1}, wantErr: "view_range should contain exactly 2 integers"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := apply(t, e, api.EditRequest{Command: "view", Path: path, ViewRange: tc.rng})
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				assert.Equal(t, 400, apperr.Status(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, out)
		})
	}
}

func TestEditor_ViewMissingFile(t *testing.T) {
	e := NewEditor("", nil)
	path := filepath.Join(t.TempDir(), "nope.txt")
	_, err := apply(t, e, api.EditRequest{Command: "view", Path: path})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	assert.Equal(t, "File not found: "+path, err.Error())
	assert.Equal(t, 400, apperr.Status(err))
}

func TestEditor_StrReplaceAndUndo(t *testing.T) {
	e := NewEditor("", nil)
	path := filepath.Join(t.TempDir(), "f.txt")
	before := "alpha beta\nbeta gamma\n"
	writeFile(t, path, before)

	msg, err := apply(t, e, api.EditRequest{Command: "str_replace", Path: path, OldStr: strp("beta"), NewStr: strp("BETA")})
	require.NoError(t, err)
	assert.Equal(t, "String replacement completed successfully", msg)
	assert.Equal(t, "alpha BETA\nBETA gamma\n", readFile(t, path))
	assert.Equal(t, before, readFile(t, path+DefaultBackupSuffix))

	msg, err = apply(t, e, api.EditRequest{Command: "undo_edit", Path: path})
	require.NoError(t, err)
	assert.Equal(t, "Edit undone successfully", msg)
	assert.Equal(t, before, readFile(t, path))
	assert.NoFileExists(t, path+DefaultBackupSuffix)

	_, err = apply(t, e, api.EditRequest{Command: "undo_edit", Path: path})
	require.Error(t, err)
	assert.Equal(t, "No backup file found to undo", err.Error())
	assert.Equal(t, 400, apperr.Status(err))
}

func TestEditor_StrReplaceWithoutMatchKeepsContent(t *testing.T) {
	e := NewEditor("", nil)
	path := filepath.Join(t.TempDir(), "f.txt")
	writeFile(t, path, "abc")

	msg, err := apply(t, e, api.EditRequest{Command: "str_replace", Path: path, OldStr: strp("zzz"), NewStr: strp("x")})
	require.NoError(t, err)
	assert.Equal(t, "String replacement completed successfully", msg)
	assert.Equal(t, "abc", readFile(t, path))
	assert.Equal(t, "abc", readFile(t, path+DefaultBackupSuffix))

	_, err = apply(t, e, api.EditRequest{Command: "undo_edit", Path: path})
	require.NoError(t, err)
	assert.Equal(t, "abc", readFile(t, path))
}

func TestEditor_StrReplaceMissingFile(t *testing.T) {
	e := NewEditor("", nil)
	path := filepath.Join(t.TempDir(), "missing.txt")
	_, err := apply(t, e, api.EditRequest{Command: "str_replace", Path: path, OldStr: strp("a"), NewStr: strp("b")})
	require.Error(t, err)
	assert.Equal(t, 500, apperr.Status(err))
}

func TestEditor_Insert(t *testing.T) {
	e := NewEditor("", nil)
	dir := t.TempDir()

	t.Run("middle", func(t *testing.T) {
		path := filepath.Join(dir, "mid.txt")
		writeFile(t, path, "L1\nL2\nL3\n")
		msg, err := apply(t, e, api.EditRequest{Command: "insert", Path: path, FileText: strp("NEW"), InsertLine: intp(2)})
		require.NoError(t, err)
		assert.Equal(t, "Text inserted successfully", msg)
		assert.Equal(t, "L1\nL2\nNEW\nL3\n", readFile(t, path))
		assert.Equal(t, "L1\nL2\nL3\n", readFile(t, path+DefaultBackupSuffix))
	})

	t.Run("top", func(t *testing.T) {
		path := filepath.Join(dir, "top.txt")
		writeFile(t, path, "L1\nL2")
		_, err := apply(t, e, api.EditRequest{Command: "insert", Path: path, FileText: strp("NEW"), InsertLine: intp(0)})
		require.NoError(t, err)
		assert.Equal(t, "NEW\nL1\nL2", readFile(t, path))
	})

	t.Run("end", func(t *testing.T) {
		path := filepath.Join(dir, "end.txt")
		writeFile(t, path, "L1\nL2\nL3")
		_, err := apply(t, e, api.EditRequest{Command: "insert", Path: path, FileText: strp("NEW"), InsertLine: intp(3)})
		require.NoError(t, err)
		assert.Equal(t, "L1\nL2\nL3\nNEW", readFile(t, path))
	})

	t.Run("out of range", func(t *testing.T) {
		path := filepath.Join(dir, "oor.txt")
		writeFile(t, path, "L1\nL2\nL3")
		_, err := apply(t, e, api.EditRequest{Command: "insert", Path: path, FileText: strp("NEW"), InsertLine: intp(10)})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Line number 10 is out of range")
		assert.Equal(t, 400, apperr.Status(err))
		assert.Equal(t, "L1\nL2\nL3", readFile(t, path))
		assert.NoFileExists(t, path+DefaultBackupSuffix)
	})

	t.Run("negative", func(t *testing.T) {
		path := filepath.Join(dir, "neg.txt")
		writeFile(t, path, "L1")
		_, err := apply(t, e, api.EditRequest{Command: "insert", Path: path, FileText: strp("NEW"), InsertLine: intp(-1)})
		require.Error(t, err)
		assert.Equal(t, 400, apperr.Status(err))
	})
}

func TestEditor_SecondEditReplacesBackup(t *testing.T) {
	e := NewEditor(".orig", nil)
	path := filepath.Join(t.TempDir(), "f.txt")
	writeFile(t, path, "v1")

	_, err := apply(t, e, api.EditRequest{Command: "str_replace", Path: path, OldStr: strp("v1"), NewStr: strp("v2")})
	require.NoError(t, err)
	_, err = apply(t, e, api.EditRequest{Command: "str_replace", Path: path, OldStr: strp("v2"), NewStr: strp("v3")})
	require.NoError(t, err)

	_, err = apply(t, e, api.EditRequest{Command: "undo_edit", Path: path})
	require.NoError(t, err)
	assert.Equal(t, "v2", readFile(t, path))
}

func TestDecode_Validation(t *testing.T) {
	cases := []struct {
		name string
		req  api.EditRequest
		want string
	}{
		{"unknown command", api.EditRequest{Command: "delete", Path: "/tmp/x"}, "Unsupported edit command"},
		{"missing path", api.EditRequest{Command: "view"}, "path is required for view action"},
		{"create without text", api.EditRequest{Command: "create", Path: "/tmp/x"}, "file_text is required"},
		{"replace without new", api.EditRequest{Command: "str_replace", Path: "/tmp/x", OldStr: strp("a")}, "old_str and new_str are required"},
		{"replace empty old", api.EditRequest{Command: "str_replace", Path: "/tmp/x", OldStr: strp(""), NewStr: strp("b")}, "old_str must not be empty"},
		{"insert without line", api.EditRequest{Command: "insert", Path: "/tmp/x", FileText: strp("a")}, "insert_line are required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.req)
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.KindValidation))
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}
