package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/postreview/internal/backend"
	"github.com/ashureev/postreview/internal/config"
	"github.com/ashureev/postreview/internal/domain"
	"github.com/ashureev/postreview/internal/review"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Port:               "0",
		DBPath:             filepath.Join(t.TempDir(), "review.db"),
		Hosted:             config.BackendConfig{RequestsPerMinute: 10, InitialBackoff: time.Second, BackoffMultiplier: 2},
		Local:              config.BackendConfig{RequestsPerMinute: 60, InitialBackoff: time.Second, BackoffMultiplier: 2},
		BackendTimeout:     time.Second,
		UnhealthyErrorRate: 0.2,
		HealthMinSamples:   5,
		SessionIdleTimeout: time.Hour,
		RequestTimeout:     5 * time.Second,
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, "warn")
	l.Info("hidden")
	l.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	buf.Reset()
	NewLogger(&buf, "nonsense").Info("default level")
	assert.Contains(t, buf.String(), "default level")
}

func TestLoadCatalog(t *testing.T) {
	c, err := LoadCatalog("")
	require.NoError(t, err)
	assert.True(t, c.Exists("Raipur"))

	path := filepath.Join(t.TempDir(), "ref.yaml")
	require.NoError(t, os.WriteFile(path, []byte("locations:\n  - name: Jagdalpur\n    district: Bastar\n"), 0o600))
	c, err = LoadCatalog(path)
	require.NoError(t, err)
	assert.True(t, c.Exists("Jagdalpur"))

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestNewGatewayWithoutCredentials(t *testing.T) {
	cfg := testConfig(t)
	gw, limiter := NewGateway(cfg, NewLogger(&bytes.Buffer{}, "error"))
	assert.False(t, gw.Configured())
	assert.Equal(t, 10, limiter.Snapshot(backend.Hosted).Limit)
	assert.Equal(t, 60, limiter.Snapshot(backend.Local).Limit)

	cfg.Local.BaseURL = "http://127.0.0.1:1/v1"
	gw, _ = NewGateway(cfg, NewLogger(&bytes.Buffer{}, "error"))
	assert.True(t, gw.Configured())
	assert.True(t, gw.Status().Backends[backend.Local].Configured)
	assert.False(t, gw.Status().Backends[backend.Hosted].Configured)
}

func TestNewWiresReviewService(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	a, err := New(ctx, cfg, NewLogger(&bytes.Buffer{}, "error"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	require.NoError(t, a.Repo.PutRecord(ctx, &domain.Record{ID: "r1", Text: "Durg rally"}))
	resp, err := a.Review.Chat(ctx, review.ChatRequest{Message: "add Bilaspur location", RecordID: "r1", Reviewer: "asha"})
	require.NoError(t, err)
	require.Len(t, resp.ProposedChanges, 1)
	assert.Equal(t, "rules", resp.BackendUsed)

	res, err := a.Review.Approve(ctx, resp.SessionID, resp.ProposedChanges[0].ID, "asha")
	require.NoError(t, err)
	assert.True(t, res.Resolved)

	stored, err := a.Repo.GetRecord(ctx, "r1")
	require.NoError(t, err)
	assert.Contains(t, stored.Locations, "Bilaspur")
}

func TestApproveInlineRecord(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	a, err := New(ctx, cfg, NewLogger(&bytes.Buffer{}, "error"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	resp, err := a.Review.Chat(ctx, review.ChatRequest{
		Message:  "add रायपुर location",
		Record:   &domain.Record{EventType: "meeting"},
		Reviewer: "asha",
	})
	require.NoError(t, err)
	require.Len(t, resp.ProposedChanges, 1)

	res, err := a.Review.Approve(ctx, resp.SessionID, resp.ProposedChanges[0].ID, "asha")
	require.NoError(t, err)
	assert.True(t, res.Resolved)
	require.NotNil(t, res.Session)
	assert.Empty(t, res.Session.Pending)
	require.Len(t, res.Session.Approved, 1)
	assert.Equal(t, domain.StageCompleted, res.Session.Stage)
	assert.Contains(t, res.Session.Record.Locations, "रायपुर")
}

func TestNewWritesTranscripts(t *testing.T) {
	cfg := testConfig(t)
	cfg.Transcript = config.TranscriptConfig{Enabled: true, Dir: filepath.Join(t.TempDir(), "transcripts"), QueueSize: 16}
	ctx := context.Background()
	a, err := New(ctx, cfg, NewLogger(&bytes.Buffer{}, "error"))
	require.NoError(t, err)
	require.NotNil(t, a.Transcript)

	require.NoError(t, a.Repo.PutRecord(ctx, &domain.Record{ID: "r1", Text: "Durg rally"}))
	resp, err := a.Review.Chat(ctx, review.ChatRequest{Message: "add Bilaspur location", RecordID: "r1", Reviewer: "asha"})
	require.NoError(t, err)
	require.NoError(t, a.Close())

	data, err := os.ReadFile(a.Transcript.Path(resp.SessionID))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"event_type":"chat_message"`)
	assert.Contains(t, string(data), `"event_type":"chat_response"`)
}
