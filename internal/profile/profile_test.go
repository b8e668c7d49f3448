// ABOUTME: Tests for profile parsing, rendering and registry reloads
// ABOUTME: Uses a fake source resolver in place of the agent service

package profile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	mu    sync.Mutex
	ids   map[string]string
	calls []string
}

func (f *fakeResolver) ResolveOrCreate(ctx context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if id, ok := f.ids[name]; ok {
		return id, nil
	}
	return "", errors.New("boom")
}

const testProfiles = `
default = "Helper"

[[profile]]
name = "Helper"
preset = "memgpt_chat"
sources = ["docs", "faq", "docs"]
human = "First name: {{.Pseudonym}}"
persona = "I am {{.Profile}}, a {{.Role}}."
role = "guide"

[[profile]]
name = "Bare"
preset = "memgpt_docs"
human = "h"
persona = "p"
function_names = ["send_message"]
`

func TestDefaultFile(t *testing.T) {
	f := DefaultFile()
	assert.Equal(t, "FixieTheGenie", f.Default)
	require.Len(t, f.Profiles, 1)
	assert.Equal(t, "memgpt_chat", f.Profiles[0].Preset)
	assert.Equal(t, []string{"fxyzMain", "OTC"}, f.Profiles[0].Sources)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte("default = \"x\"\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("[[profile]\n"))
	assert.Error(t, err)
}

func TestCompile_Validation(t *testing.T) {
	_, err := compile(&File{Default: "missing", Profiles: []Spec{{Name: "a", Preset: "p"}}}, nil)
	assert.ErrorContains(t, err, "default profile")

	_, err = compile(&File{Default: "a", Profiles: []Spec{{Name: "a"}}}, nil)
	assert.ErrorContains(t, err, "preset")

	_, err = compile(&File{Default: "a", Profiles: []Spec{{Name: "a", Preset: "p"}, {Name: "a", Preset: "p"}}}, nil)
	assert.ErrorContains(t, err, "duplicate")

	_, err = compile(&File{Default: "a", Profiles: []Spec{{Name: "a", Preset: "p", Human: "{{.Nope"}}}, nil)
	assert.ErrorContains(t, err, "human template")
}

func TestAgentConfig_RendersTemplates(t *testing.T) {
	f, err := Parse([]byte(testProfiles))
	require.NoError(t, err)
	c, err := compile(f, map[string]string{"docs": "S1"})
	require.NoError(t, err)

	p, err := c.Default()
	require.NoError(t, err)
	assert.Equal(t, []string{"S1"}, p.SourceIDs)

	cfg, err := p.AgentConfig("ann")
	require.NoError(t, err)
	assert.Equal(t, "ann's Helper", cfg.Name)
	assert.Equal(t, "memgpt_chat", cfg.Preset)
	assert.Equal(t, "First name: ann", cfg.Human)
	assert.Equal(t, "I am Helper, a guide.", cfg.Persona)
	assert.Equal(t, []string{}, cfg.FunctionNames)

	bare, err := c.Get("Bare")
	require.NoError(t, err)
	assert.Empty(t, bare.SourceIDs)
	assert.Equal(t, []string{"send_message"}, bare.FunctionNames)

	_, err = c.Get("nope")
	assert.ErrorIs(t, err, ErrUnknownProfile)
}

func TestDefaultProfile_HumanTemplate(t *testing.T) {
	c, err := compile(DefaultFile(), map[string]string{"fxyzMain": "S1", "OTC": "S2"})
	require.NoError(t, err)
	p, err := c.Default()
	require.NoError(t, err)
	assert.Equal(t, []string{"S1", "S2"}, p.SourceIDs)

	cfg, err := p.AgentConfig("Zed")
	require.NoError(t, err)
	assert.Equal(t, "Zed's FixieTheGenie", cfg.Name)
	assert.Contains(t, cfg.Human, "First name: Zed\n")
	assert.Contains(t, cfg.Persona, "My name is GenieTheFixie")
}

func TestRegistry_ReloadPartialSources(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.toml")
	require.NoError(t, os.WriteFile(path, []byte(testProfiles), 0644))

	res := &fakeResolver{ids: map[string]string{"faq": "F1"}}
	r := NewRegistry(path, res, nil)
	assert.Nil(t, r.Current())

	c, err := r.Reload(context.Background())
	require.NoError(t, err)
	assert.Same(t, c, r.Current())

	// each distinct name is resolved once
	assert.Equal(t, []string{"docs", "faq"}, res.calls)

	p, err := c.Default()
	require.NoError(t, err)
	assert.Equal(t, []string{"F1"}, p.SourceIDs)
}

func TestRegistry_ReloadKeepsPreviousWhenNoSourceResolves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.toml")
	require.NoError(t, os.WriteFile(path, []byte(testProfiles), 0644))

	res := &fakeResolver{ids: map[string]string{"docs": "D1"}}
	r := NewRegistry(path, res, nil)
	first, err := r.Reload(context.Background())
	require.NoError(t, err)

	res.mu.Lock()
	res.ids = map[string]string{}
	res.mu.Unlock()

	_, err = r.Reload(context.Background())
	require.Error(t, err)
	assert.Same(t, first, r.Current())
}

func TestRegistry_EmbeddedDefaults(t *testing.T) {
	res := &fakeResolver{ids: map[string]string{"fxyzMain": "S1", "OTC": "S2"}}
	r := NewRegistry("", res, nil)

	c, err := r.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "FixieTheGenie", c.DefaultName())

	assert.Error(t, r.Watch(context.Background()))
}

func TestRegistry_SetDefaultOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.toml")
	require.NoError(t, os.WriteFile(path, []byte(testProfiles), 0644))

	r := NewRegistry(path, &fakeResolver{ids: map[string]string{"docs": "D1"}}, nil)
	r.SetDefault("Bare")
	c, err := r.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bare", c.DefaultName())

	r.SetDefault("Nobody")
	_, err = r.Reload(context.Background())
	require.Error(t, err)
	assert.Same(t, c, r.Current())
}

func TestRegistry_WatchReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.toml")
	require.NoError(t, os.WriteFile(path, []byte(testProfiles), 0644))

	res := &fakeResolver{ids: map[string]string{"docs": "D1", "faq": "F1"}}
	r := NewRegistry(path, res, nil)
	_, err := r.Reload(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Watch(ctx) }()

	updated := `
[[profile]]
name = "Other"
preset = "memgpt_chat"
human = "h"
persona = "p"
`
	// the watcher may not be registered yet; rewrite slower than the debounce until the reload lands
	require.Eventually(t, func() bool {
		if r.Current().DefaultName() == "Other" {
			return true
		}
		_ = os.WriteFile(path, []byte(updated), 0644)
		return false
	}, 5*time.Second, 400*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
