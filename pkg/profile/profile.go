package profile

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed profiles/*.yaml
var profilesFS embed.FS

const DefaultName = "shipsticks"

// Profile is the white-label vocabulary for one deployment.
type Profile struct {
	Name        string `yaml:"name"`
	DisplayName string `yaml:"displayName"`
	// Context is a short description of the business included in model prompts.
	Context          string   `yaml:"context"`
	Entities         []string `yaml:"entities"`
	CannedQuestions  []string `yaml:"cannedQuestions"`
	DataAreas        []string `yaml:"dataAreas"`
	ExampleQuestions []string `yaml:"exampleQuestions"`
}

func (p *Profile) Validate() error {
	if p.Name == "" {
		return errors.New("profile name is required")
	}
	if p.DisplayName == "" {
		p.DisplayName = p.Name
	}
	if len(p.DataAreas) == 0 {
		return fmt.Errorf("profile %q: dataAreas is required", p.Name)
	}
	if len(p.ExampleQuestions) == 0 {
		return fmt.Errorf("profile %q: exampleQuestions is required", p.Name)
	}
	return nil
}

// Load returns a built-in profile by name.
func Load(name string) (*Profile, error) {
	if name == "" {
		name = DefaultName
	}
	data, err := profilesFS.ReadFile(path.Join("profiles", name+".yaml"))
	if err != nil {
		return nil, fmt.Errorf("unknown profile %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return parse(data)
}

// LoadFile reads a profile from a YAML file on disk.
func LoadFile(file string) (*Profile, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile file: %w", err)
	}
	return parse(data)
}

// Names lists the built-in profiles.
func Names() []string {
	entries, err := profilesFS.ReadDir("profiles")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names
}

func parse(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
