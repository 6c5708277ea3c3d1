package offline

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/yairfalse/cirrus/internal/status"
	"github.com/yairfalse/cirrus/pkg/resource"
)

//go:embed demo.yaml
var demoFixtures []byte

var validate = validator.New(validator.WithRequiredStructEnabled())

// File is the on-disk fixture format.
type File struct {
	Resources []Entry `yaml:"resources" validate:"dive"`
	// Faults maps a resource key to the error every action on it returns.
	Faults map[string]string `yaml:"faults"`
}

// Entry is one fixture resource. Status is the provider-native status.
type Entry struct {
	Family resource.Family   `yaml:"family" validate:"required"`
	ID     string            `yaml:"id" validate:"required"`
	Name   string            `yaml:"name"`
	Region string            `yaml:"region" validate:"required"`
	Group  string            `yaml:"group"`
	Status string            `yaml:"status" validate:"required"`
	Labels map[string]string `yaml:"labels"`
	Attrs  map[string]any    `yaml:"attrs"`
}

// Load reads fixtures from path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	return Parse(data)
}

// Demo returns the built-in demo fixtures.
func Demo() *File {
	f, err := Parse(demoFixtures)
	if err != nil {
		panic(fmt.Sprintf("embedded demo fixtures: %v", err))
	}
	return f
}

// Parse decodes and validates fixture YAML.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}
	if err := validate.Struct(&f); err != nil {
		return nil, fmt.Errorf("validate fixtures: %w", err)
	}
	for i, e := range f.Resources {
		if !e.Family.Valid() {
			return nil, fmt.Errorf("fixture %d (%s): %w: %q", i, e.ID, resource.ErrUnsupportedFamily, e.Family)
		}
		if e.Family.GroupScoped() && e.Group == "" {
			return nil, fmt.Errorf("fixture %d (%s): %s needs a group", i, e.ID, e.Family)
		}
	}
	return &f, nil
}

func (e Entry) toResource() (resource.Resource, error) {
	id := e.ID
	if e.Family.GroupScoped() {
		id = resource.QualifyID(e.Group, e.ID)
		if e.Name == "" {
			e.Name = e.ID
		}
	}
	r := resource.Resource{
		Family:       e.Family,
		ID:           id,
		Name:         e.Name,
		Region:       e.Region,
		Group:        e.Group,
		Status:       status.Map(e.Family, e.Status),
		NativeStatus: e.Status,
		Labels:       e.Labels,
	}
	if r.Labels == nil {
		r.Labels = make(map[string]string)
	}

	raw, err := json.Marshal(e.Attrs)
	if err != nil {
		return r, fmt.Errorf("encode attrs of %s: %w", e.ID, err)
	}
	if e.Attrs == nil {
		raw = []byte("{}")
	}
	attrs, err := resource.DecodeAttributes(e.Family, raw)
	if err != nil {
		return r, fmt.Errorf("decode attrs of %s: %w", e.ID, err)
	}
	r.Attrs = attrs
	return r, nil
}
