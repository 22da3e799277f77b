package repository

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"beadboard/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgsForSpecIssues(t *testing.T) {
	args, err := argsForSpec(models.SubscriptionSpec{Type: "issues"})
	require.NoError(t, err)
	assert.Equal(t, []string{"list", "--json"}, args)

	args, err = argsForSpec(models.SubscriptionSpec{Type: "issues", Params: map[string]any{
		"status":       "open",
		"priority_max": float64(2),
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"list", "--json", "--status", "open", "--priority-max", "2"}, args)
}

func TestArgsForSpecEpicChildren(t *testing.T) {
	args, err := argsForSpec(models.SubscriptionSpec{Type: "epic_children", Params: map[string]any{
		"parent": "bb-7",
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"list", "--json", "--parent", "bb-7"}, args)

	_, err = argsForSpec(models.SubscriptionSpec{Type: "epic_children"})
	assert.Error(t, err)

	_, err = argsForSpec(models.SubscriptionSpec{Type: "everything"})
	assert.Error(t, err)
}

func TestParseIssueList(t *testing.T) {
	issues, err := parseIssueList([]byte(`[
		{"id": "bb-1", "title": "first", "status": "open", "priority": 1},
		{"id": "bb-2", "title": "second", "status": "closed", "priority": 0}
	]`))
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Equal(t, "bb-1", issues[0].ID)
	assert.Equal(t, models.StatusClosed, issues[1].Status)

	// bd prints nothing for an empty result set.
	issues, err = parseIssueList([]byte("  \n"))
	require.NoError(t, err)
	assert.Empty(t, issues)

	_, err = parseIssueList([]byte("Error: no database found"))
	assert.Error(t, err)
}

// fakeBD writes a shell script that plays the bd binary, so Fetch runs the
// real exec path end to end.
func fakeBD(t *testing.T, script string) (binary, dir string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake requires a POSIX shell")
	}

	dir = t.TempDir()
	binary = filepath.Join(dir, "bd")
	require.NoError(t, os.WriteFile(binary, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	return binary, dir
}

func TestFetchRunsBinary(t *testing.T) {
	binary, dir := fakeBD(t, `echo '[{"id": "bb-1", "title": "from fake bd", "priority": 2}]'`)
	repo := NewBDRepository(binary, dir)

	issues, err := repo.Fetch(context.Background(), models.SubscriptionSpec{Type: "issues"})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "from fake bd", issues[0].Title)
}

func TestFetchSurfacesStderr(t *testing.T) {
	binary, dir := fakeBD(t, `echo 'no database found' >&2; exit 1`)
	repo := NewBDRepository(binary, dir)

	_, err := repo.Fetch(context.Background(), models.SubscriptionSpec{Type: "issues"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no database found")
}

func TestUpdateRequiresFields(t *testing.T) {
	repo := NewBDRepository("bd", ".")
	err := repo.Update(context.Background(), "bb-1", &models.IssueUpdate{})
	assert.Error(t, err)
}

func TestSetWorkspace(t *testing.T) {
	repo := NewBDRepository("bd", "/tmp/a")
	assert.Equal(t, "/tmp/a", repo.Workspace())

	repo.SetWorkspace("/tmp/b")
	assert.Equal(t, "/tmp/b", repo.Workspace())
}
