// ABOUTME: Agent creation profiles loaded from TOML and compiled into an immutable Catalog
// ABOUTME: Templates are rendered per user to build the agent's human and persona blocks

package profile

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/BurntSushi/toml"

	"github.com/2389/fixie-bridge/internal/memgpt"
)

//go:embed default_profiles.toml
var defaultProfiles []byte

// ErrUnknownProfile is returned when a named profile is not in the catalog.
var ErrUnknownProfile = errors.New("unknown profile")

// Spec is one profile as written in the TOML file.
type Spec struct {
	Name          string   `toml:"name"`
	Role          string   `toml:"role"`
	Preset        string   `toml:"preset"`
	Human         string   `toml:"human"`
	Persona       string   `toml:"persona"`
	FunctionNames []string `toml:"function_names"`
	Sources       []string `toml:"sources"`
}

// File is the top-level TOML document.
type File struct {
	Default  string `toml:"default"`
	Profiles []Spec `toml:"profile"`
}

// Profile is a compiled profile with its sources resolved to remote ids.
type Profile struct {
	Spec

	// SourceIDs holds the ids of the sources that resolved, in file order.
	SourceIDs []string

	human   *template.Template
	persona *template.Template
}

// TemplateData is passed to the human and persona templates.
type TemplateData struct {
	Pseudonym string
	Profile   string
	Role      string
}

// AgentConfig renders the agent creation payload for pseudonym.
func (p *Profile) AgentConfig(pseudonym string) (memgpt.AgentConfig, error) {
	data := TemplateData{Pseudonym: pseudonym, Profile: p.Name, Role: p.Role}

	human, err := render(p.human, data)
	if err != nil {
		return memgpt.AgentConfig{}, fmt.Errorf("rendering human template: %w", err)
	}
	persona, err := render(p.persona, data)
	if err != nil {
		return memgpt.AgentConfig{}, fmt.Errorf("rendering persona template: %w", err)
	}

	return memgpt.AgentConfig{
		Name:          AgentName(pseudonym, p.Name),
		Preset:        p.Preset,
		Human:         human,
		Persona:       persona,
		FunctionNames: p.FunctionNames,
	}, nil
}

// AgentName is the remote agent name for a user of the given profile.
func AgentName(pseudonym, profile string) string {
	return fmt.Sprintf("%s's %s", pseudonym, profile)
}

func render(t *template.Template, data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return strings.TrimLeft(buf.String(), "\n"), nil
}

// Catalog is an immutable set of compiled profiles.
type Catalog struct {
	defaultName string
	profiles    map[string]*Profile
	order       []string
}

// Default returns the default profile.
func (c *Catalog) Default() (*Profile, error) {
	if c == nil {
		return nil, ErrUnknownProfile
	}
	return c.Get(c.defaultName)
}

// Get returns the named profile.
func (c *Catalog) Get(name string) (*Profile, error) {
	if c == nil {
		return nil, ErrUnknownProfile
	}
	p, ok := c.profiles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}
	return p, nil
}

// Names returns profile names in file order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// DefaultName returns the name of the default profile.
func (c *Catalog) DefaultName() string {
	return c.defaultName
}

// Parse decodes a profiles TOML document. An empty default falls back to the first profile.
func Parse(data []byte) (*File, error) {
	var f File
	if _, err := toml.Decode(string(data), &f); err != nil {
		return nil, fmt.Errorf("decoding profiles: %w", err)
	}
	if len(f.Profiles) == 0 {
		return nil, errors.New("no profiles defined")
	}
	if f.Default == "" {
		f.Default = f.Profiles[0].Name
	}
	return &f, nil
}

// DefaultFile returns the built-in profiles.
func DefaultFile() *File {
	f, err := Parse(defaultProfiles)
	if err != nil {
		panic(fmt.Sprintf("embedded profiles are invalid: %v", err))
	}
	return f
}

// compile validates f and builds a catalog, looking source ids up in ids.
// Sources missing from ids are skipped and duplicates collapse.
func compile(f *File, ids map[string]string) (*Catalog, error) {
	c := &Catalog{
		defaultName: f.Default,
		profiles:    make(map[string]*Profile, len(f.Profiles)),
	}

	for _, spec := range f.Profiles {
		if spec.Name == "" {
			return nil, errors.New("profile without a name")
		}
		if _, dup := c.profiles[spec.Name]; dup {
			return nil, fmt.Errorf("duplicate profile %q", spec.Name)
		}
		if spec.Preset == "" {
			return nil, fmt.Errorf("profile %q: preset is required", spec.Name)
		}

		human, err := template.New(spec.Name + ".human").Option("missingkey=error").Parse(spec.Human)
		if err != nil {
			return nil, fmt.Errorf("profile %q: parsing human template: %w", spec.Name, err)
		}
		persona, err := template.New(spec.Name + ".persona").Option("missingkey=error").Parse(spec.Persona)
		if err != nil {
			return nil, fmt.Errorf("profile %q: parsing persona template: %w", spec.Name, err)
		}

		p := &Profile{Spec: spec, human: human, persona: persona}
		if p.FunctionNames == nil {
			p.FunctionNames = []string{}
		}
		seen := make(map[string]bool)
		for _, name := range spec.Sources {
			if id := ids[name]; id != "" && !seen[id] {
				seen[id] = true
				p.SourceIDs = append(p.SourceIDs, id)
			}
		}

		c.profiles[spec.Name] = p
		c.order = append(c.order, spec.Name)
	}

	if _, ok := c.profiles[c.defaultName]; !ok {
		return nil, fmt.Errorf("default profile %q is not defined", c.defaultName)
	}
	return c, nil
}
