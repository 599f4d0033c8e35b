package facade

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/saltctl/internal/client"
	"github.com/mattjoyce/saltctl/internal/config"
	"github.com/mattjoyce/saltctl/internal/publish"
	"github.com/mattjoyce/saltctl/internal/saltctlerr"
	"github.com/mattjoyce/saltctl/internal/wire"
)

type stubPublisher struct {
	result publish.PublishResult
}

func (s *stubPublisher) Publish(ctx context.Context, req publish.PublishRequest) (publish.PublishResult, error) {
	return s.result, nil
}

func writeReturn(t *testing.T, cfg *config.Config, jid, agentID, value string) {
	t.Helper()
	dir, err := wire.JobDirPath(cfg.CacheDir, cfg.HashType, jid)
	require.NoError(t, err)
	agentDir := filepath.Join(dir, agentID)
	require.NoError(t, os.MkdirAll(agentDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(agentDir, "return.p"), []byte(value), 0o644))
}

func TestNew_DiscoversFunctions(t *testing.T) {
	cfg := &config.Config{DefaultTimeout: 50 * time.Millisecond, ExtensionQuantum: 50 * time.Millisecond, CacheDir: t.TempDir(), HashType: wire.HashSHA256}
	pub := &stubPublisher{result: publish.PublishResult{JID: "20260731000300", Minions: []string{"web1"}}}
	cl := client.New(cfg, pub, nil)

	writeReturn(t, cfg, "20260731000300", "web1", `["test.ping", "cmd.run"]`)

	f, err := New(context.Background(), cl, "web1")
	require.NoError(t, err)
	assert.True(t, f.Has("test.ping"))
	assert.False(t, f.Has("state.sls"))
}

func TestCall_UnknownFunction(t *testing.T) {
	cfg := &config.Config{DefaultTimeout: 50 * time.Millisecond, ExtensionQuantum: 50 * time.Millisecond, CacheDir: t.TempDir(), HashType: wire.HashSHA256}
	pub := &stubPublisher{result: publish.PublishResult{JID: "0"}}
	cl := client.New(cfg, pub, nil)

	f, err := New(context.Background(), cl, "web1")
	require.NoError(t, err)

	_, err = f.Call(context.Background(), "nope.func", nil, nil)
	require.Error(t, err)
	var notFound *saltctlerr.ErrFunctionNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestCall_KnownFunctionReturnsAgentEntry(t *testing.T) {
	cfg := &config.Config{DefaultTimeout: 50 * time.Millisecond, ExtensionQuantum: 50 * time.Millisecond, CacheDir: t.TempDir(), HashType: wire.HashSHA256}
	pub := &stubPublisher{result: publish.PublishResult{JID: "20260731000301", Minions: []string{"web1"}}}
	cl := client.New(cfg, pub, nil)
	writeReturn(t, cfg, "20260731000301", "web1", `["test.ping"]`)

	f, err := New(context.Background(), cl, "web1")
	require.NoError(t, err)

	writeReturn(t, cfg, "20260731000301", "web1", `true`)
	out, err := f.Call(context.Background(), "test.ping", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}
