package profiles

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed profiles.yaml
var embedded []byte

var ErrUnknownProfile = errors.New("unknown generator profile")

// Catalog is the immutable set of configured profiles.
type Catalog struct {
	byID    map[int]*Profile
	ordered []*Profile
}

// Load reads the catalog from path, or the embedded catalog when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Parse(embedded)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles %q: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var file struct {
		Profiles []*Profile `yaml:"profiles"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse profiles: %w", err)
	}
	if len(file.Profiles) == 0 {
		return nil, fmt.Errorf("parse profiles: catalog is empty")
	}

	c := &Catalog{byID: make(map[int]*Profile, len(file.Profiles))}
	for _, p := range file.Profiles {
		if err := p.compile(); err != nil {
			return nil, err
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate profile id %d", p.ID)
		}
		c.byID[p.ID] = p
		c.ordered = append(c.ordered, p)
	}
	sort.Slice(c.ordered, func(i, j int) bool { return c.ordered[i].ID < c.ordered[j].ID })
	return c, nil
}

// Get returns the profile with the given id or ErrUnknownProfile.
func (c *Catalog) Get(id int) (*Profile, error) {
	p, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownProfile, id)
	}
	return p, nil
}

func (c *Catalog) All() []*Profile {
	return c.ordered
}
