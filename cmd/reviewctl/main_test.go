package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/postreview/internal/domain"
	"github.com/ashureev/postreview/internal/store"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "reviewctl dev")
	assert.Contains(t, out, "commit: none")
}

func TestParseCmd(t *testing.T) {
	out, err := run(t, "parse", "add", "रायपुर", "location")
	require.NoError(t, err)

	var in domain.Intent
	require.NoError(t, json.Unmarshal([]byte(out), &in))
	assert.Equal(t, domain.CategoryAddLocation, in.Category)
	assert.Contains(t, in.Actions, domain.ActionAddLocation)
}

func TestParseCmdNeedsMessage(t *testing.T) {
	_, err := run(t, "parse")
	require.Error(t, err)
}

func TestSweepCmd(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "review.db")
	repo, err := store.NewSQLite(dbPath)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, repo.SaveSession(ctx, domain.NewSession("old", time.Now().Add(-72*time.Hour))))
	require.NoError(t, repo.SaveSession(ctx, domain.NewSession("fresh", time.Now())))
	require.NoError(t, repo.Close())

	out, err := run(t, "sweep", "--db", dbPath, "--idle", "24h", "--dry-run")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "would delete"))

	out, err = run(t, "sweep", "--db", dbPath, "--idle", "24h")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted 1 idle sessions")
}

func TestLearnedCmd(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "review.db")
	repo, err := store.NewSQLite(dbPath)
	require.NoError(t, err)
	_, err = repo.Learn(context.Background(), domain.Correction{
		RecordID:  "r1",
		Field:     domain.FieldLocations,
		Original:  domain.ListValue("Durg"),
		Corrected: domain.ListValue("Durg", "Bhilai"),
		Reviewer:  "asha",
	})
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	out, err := run(t, "learned", domain.FieldLocations, "--db", dbPath)
	require.NoError(t, err)
	assert.Equal(t, "Bhilai\n", out)

	out, err = run(t, "learned", domain.FieldPeople, "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "nothing learned for people")
}
