// ABOUTME: Tests for source resolution races, attach retries and provisioning outcomes
// ABOUTME: Runs the real client against the in-memory agent service fake

package provision

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/fixie-bridge/internal/memgpt"
	"github.com/2389/fixie-bridge/internal/memgpt/memgpttest"
	"github.com/2389/fixie-bridge/internal/profile"
	"github.com/2389/fixie-bridge/internal/store"
)

func newClient(srv *memgpttest.Server) *memgpt.Client {
	return memgpt.NewClient(srv.BaseURL(), "secret", 5*time.Second,
		memgpt.WithRetryPolicy(memgpt.RetryPolicy{
			MaxAttempts: 3,
			Delay:       time.Millisecond,
			Classify:    memgpt.NewClassifier(memgpt.DefaultNotReadyMarkers...),
		}),
	)
}

func TestResolveOrCreate_ExistingSource(t *testing.T) {
	srv := memgpttest.New(t)
	id := srv.AddSource("docs")

	got, err := NewSources(newClient(srv), nil).ResolveOrCreate(context.Background(), "docs")
	require.NoError(t, err)
	assert.Equal(t, id, got)
	assert.Equal(t, 0, srv.Count(http.MethodPost, "/api/sources"))
}

func TestResolveOrCreate_CreatesMissing(t *testing.T) {
	srv := memgpttest.New(t)

	got, err := NewSources(newClient(srv), nil).ResolveOrCreate(context.Background(), "docs")
	require.NoError(t, err)
	assert.NotEmpty(t, got)
	assert.Equal(t, 1, srv.Count(http.MethodPost, "/api/sources"))
}

func TestResolveOrCreate_ConcurrentCallersConverge(t *testing.T) {
	srv := memgpttest.New(t)

	// The first creation loses a race: someone else created the source just before.
	var first atomic.Bool
	srv.CreateSource = func(name string) (int, string) {
		if first.CompareAndSwap(false, true) {
			srv.AddSource(name)
			return http.StatusInternalServerError, "source " + name + " already exists"
		}
		return 0, ""
	}

	sources := NewSources(newClient(srv), nil)
	ids := make([]string, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = sources.ResolveOrCreate(context.Background(), "docs")
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.NotEmpty(t, ids[0])
	assert.Equal(t, ids[0], ids[1])
}

func TestResolveOrCreate_OtherFailureIsNotRetriedForever(t *testing.T) {
	srv := memgpttest.New(t)
	srv.CreateSource = func(name string) (int, string) {
		return http.StatusBadRequest, "invalid name"
	}

	_, err := NewSources(newClient(srv), nil).ResolveOrCreate(context.Background(), "docs")
	require.Error(t, err)
	assert.Equal(t, 1, srv.Count(http.MethodPost, "/api/sources"))
	assert.Equal(t, 1, srv.Count(http.MethodGet, "/api/sources"))
}

func TestAttach_RetriesAgentNotYetVisible(t *testing.T) {
	srv := memgpttest.New(t)
	sourceID := srv.AddSource("docs")

	var calls atomic.Int32
	srv.Attach = func(agentID, sourceID string) (int, string) {
		if calls.Add(1) == 1 {
			return http.StatusInternalServerError, "agent_id " + agentID + " does not exist"
		}
		srv.AddAgent(agentID)
		return http.StatusOK, ""
	}

	ok := NewSources(newClient(srv), nil).Attach(context.Background(), "A1", sourceID)
	assert.True(t, ok)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []string{sourceID}, srv.Attached("A1"))
}

func TestAttach_PermanentFailureReportsFalse(t *testing.T) {
	srv := memgpttest.New(t)
	srv.Attach = func(agentID, sourceID string) (int, string) {
		return http.StatusForbidden, "nope"
	}

	ok := NewSources(newClient(srv), nil).Attach(context.Background(), "A1", "S1")
	assert.False(t, ok)
	assert.Equal(t, 1, srv.Count(http.MethodPost, "/api/sources/S1/attach"))
}

func TestOutcomeOf(t *testing.T) {
	tests := []struct {
		attached, total int
		want            Outcome
	}{
		{0, 0, Ready},
		{2, 2, Ready},
		{1, 2, Degraded},
		{0, 2, Unready},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, OutcomeOf(tt.attached, tt.total), "%d/%d", tt.attached, tt.total)
	}
	assert.Contains(t, Degraded.Message("Fixie"), "some data sources")
	assert.Contains(t, Ready.Message("Fixie"), "Fixie is ready")
}

const twoSourceProfiles = `
default = "Helper"

[[profile]]
name = "Helper"
preset = "memgpt_chat"
sources = ["docs", "faq"]
human = "First name: {{.Pseudonym}}"
persona = "I help."
`

type fixture struct {
	srv  *memgpttest.Server
	dir  *store.MockStore
	prov *Provisioner
}

func newFixture(t *testing.T, profiles string) *fixture {
	t.Helper()
	srv := memgpttest.New(t)
	client := newClient(srv)

	path := filepath.Join(t.TempDir(), "profiles.toml")
	require.NoError(t, os.WriteFile(path, []byte(profiles), 0644))

	reg := profile.NewRegistry(path, NewSources(client, nil), nil)
	_, err := reg.Reload(context.Background())
	require.NoError(t, err)

	dir := store.NewMockStore()
	require.NoError(t, dir.SaveUser(context.Background(), &store.User{ID: "42", Pseudonym: "ann"}))

	return &fixture{
		srv:  srv,
		dir:  dir,
		prov: New(client, dir, reg, Config{AttachDelay: time.Millisecond}),
	}
}

func TestProvision_Ready(t *testing.T) {
	f := newFixture(t, twoSourceProfiles)

	res, err := f.prov.Provision(context.Background(), "42", "ann")
	require.NoError(t, err)
	assert.Equal(t, Ready, res.Outcome)
	assert.Len(t, res.Attached, 2)
	assert.Empty(t, res.Failed)
	assert.Equal(t, "Helper", res.Assistant)

	u, err := f.dir.GetUser(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, res.AgentID, u.AgentID)

	var cfg memgpt.AgentConfig
	require.NoError(t, json.Unmarshal(f.srv.AgentConfig(res.AgentID), &cfg))
	assert.Equal(t, "ann's Helper", cfg.Name)
	assert.Equal(t, "memgpt_chat", cfg.Preset)
	assert.Equal(t, "First name: ann", cfg.Human)
}

func TestProvision_DegradedIdentifiesFailedSource(t *testing.T) {
	f := newFixture(t, twoSourceProfiles)
	faqID := f.srv.AddSource("faq") // already resolved by the fixture, same id

	f.srv.Attach = func(agentID, sourceID string) (int, string) {
		if sourceID == faqID {
			return http.StatusBadRequest, "cannot attach"
		}
		return http.StatusOK, ""
	}

	res, err := f.prov.Provision(context.Background(), "42", "ann")
	require.NoError(t, err)
	assert.Equal(t, Degraded, res.Outcome)
	assert.Equal(t, []string{faqID}, res.Failed)
	assert.Len(t, res.Attached, 1)
	assert.Contains(t, res.Message(), "Helper may have limited knowledge")
}

func TestProvision_Unready(t *testing.T) {
	f := newFixture(t, twoSourceProfiles)
	f.srv.Attach = func(agentID, sourceID string) (int, string) {
		return http.StatusBadRequest, "cannot attach"
	}

	res, err := f.prov.Provision(context.Background(), "42", "ann")
	require.NoError(t, err)
	assert.Equal(t, Unready, res.Outcome)
	assert.Len(t, res.Failed, 2)

	// the agent stays bound even without sources
	u, err := f.dir.GetUser(context.Background(), "42")
	require.NoError(t, err)
	assert.True(t, u.Provisioned())
}

func TestProvision_CancelledBeforeAttachKeepsAgent(t *testing.T) {
	f := newFixture(t, twoSourceProfiles)
	f.prov.attachDelay = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	res, err := f.prov.Provision(ctx, "42", "ann")
	require.NoError(t, err, "the agent is bound, so the run is reported as a result")
	assert.Equal(t, Unready, res.Outcome)
	assert.Empty(t, res.Attached)
	assert.Len(t, res.Failed, 2)
	assert.Equal(t, 0, f.srv.Count(http.MethodPost, "/api/sources/"))

	u, err := f.dir.GetUser(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, res.AgentID, u.AgentID)
}

func TestProvision_UnknownUserRemovesAgent(t *testing.T) {
	f := newFixture(t, twoSourceProfiles)

	_, err := f.prov.Provision(context.Background(), "ghost", "casper")
	require.ErrorIs(t, err, store.ErrNotFound)

	assert.Equal(t, 1, f.srv.Count(http.MethodPost, "/api/agents"))
	assert.Equal(t, 1, f.srv.Count(http.MethodDelete, "/api/agents/"))
}

func TestProvision_NoCatalog(t *testing.T) {
	srv := memgpttest.New(t)
	client := newClient(srv)
	reg := profile.NewRegistry("", NewSources(client, nil), nil) // never reloaded

	_, err := New(client, store.NewMockStore(), reg, Config{}).Provision(context.Background(), "42", "ann")
	require.ErrorIs(t, err, ErrNoProfile)
	assert.Equal(t, 0, srv.Count(http.MethodPost, "/api/agents"))
}

func TestDeprovision(t *testing.T) {
	f := newFixture(t, twoSourceProfiles)
	ctx := context.Background()

	res, err := f.prov.Provision(ctx, "42", "ann")
	require.NoError(t, err)
	require.True(t, f.srv.HasAgent(res.AgentID))

	require.NoError(t, f.prov.Deprovision(ctx, "42"))
	assert.False(t, f.srv.HasAgent(res.AgentID))

	_, err = f.dir.GetUser(ctx, "42")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeprovision_AgentAlreadyGone(t *testing.T) {
	f := newFixture(t, twoSourceProfiles)
	ctx := context.Background()
	require.NoError(t, f.dir.SetAgentID(ctx, "42", "vanished"))

	require.NoError(t, f.prov.Deprovision(ctx, "42"))
	_, err := f.dir.GetUser(ctx, "42")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
