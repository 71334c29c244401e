package indicator

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// catalogFile is the YAML shape for deployment-specific descriptors.
// Durations are integer seconds, matching the config file convention.
type catalogFile struct {
	Indicators []fileDescriptor `yaml:"indicators"`
}

type fileDescriptor struct {
	ID           string             `yaml:"id"`
	Name         string             `yaml:"name"`
	Unit         string             `yaml:"unit"`
	Category     string             `yaml:"category"`
	Kind         string             `yaml:"kind"`
	Symbols      map[string]string  `yaml:"symbols"`
	Scales       map[string]float64 `yaml:"scales"`
	PinProvider  string             `yaml:"pin_provider"`
	TTLSecs      int                `yaml:"ttl_secs"`
	Dependencies []string           `yaml:"dependencies"`
	Transform    string             `yaml:"transform"`
}

func (f fileDescriptor) descriptor() Descriptor {
	return Descriptor{
		ID:           f.ID,
		Name:         f.Name,
		Unit:         f.Unit,
		Category:     Category(f.Category),
		Kind:         Kind(f.Kind),
		Symbols:      f.Symbols,
		Scales:       f.Scales,
		PinProvider:  f.PinProvider,
		TTL:          time.Duration(f.TTLSecs) * time.Second,
		Dependencies: f.Dependencies,
		Transform:    f.Transform,
	}
}

// LoadFile reads descriptors from a YAML catalog file. Structural
// validation happens at registration, not here.
func LoadFile(path string) ([]Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}

	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing catalog file %s: %w", path, err)
	}

	out := make([]Descriptor, 0, len(f.Indicators))
	for _, fd := range f.Indicators {
		out = append(out, fd.descriptor())
	}
	return out, nil
}

// RegisterFile loads a YAML catalog file into the registry on top of
// whatever is already registered. Duplicate ids, unknown kinds, and
// dependency cycles fail the same way programmatic registration does.
func RegisterFile(r *Registry, path string) error {
	descriptors, err := LoadFile(path)
	if err != nil {
		return err
	}
	for _, d := range descriptors {
		if err := r.Register(d); err != nil {
			return fmt.Errorf("catalog file %s: %w", path, err)
		}
	}
	return nil
}
