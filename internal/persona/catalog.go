package persona

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

var ErrUnknownPersona = errors.New("unknown persona")

//go:embed personas/*.yaml
var builtin embed.FS

type document struct {
	Personas []Spec `yaml:"personas"`
}

// Catalog is an immutable set of compiled personas.
type Catalog struct {
	byKey   map[string]*Persona
	aliases map[string]string
	order   []string
}

// Parse decodes one YAML document of personas.
func Parse(data []byte) ([]Spec, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode personas: %w", err)
	}
	return doc.Personas, nil
}

// Builtin returns the specs shipped with the binary, in key order.
func Builtin() ([]Spec, error) {
	return loadFS(builtin, "personas/*.yaml")
}

func loadFS(fsys fs.FS, pattern string) ([]Spec, error) {
	names, err := fs.Glob(fsys, pattern)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	var out []Spec
	for _, n := range names {
		b, err := fs.ReadFile(fsys, n)
		if err != nil {
			return nil, err
		}
		specs, err := Parse(b)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path.Base(n), err)
		}
		out = append(out, specs...)
	}
	return out, nil
}

// Load builds a catalog from the builtin personas, replacing or adding any
// persona defined in the override file. An empty path means builtin only.
func Load(overridePath string) (*Catalog, error) {
	specs, err := Builtin()
	if err != nil {
		return nil, err
	}
	if overridePath != "" {
		b, err := os.ReadFile(overridePath)
		if err != nil {
			return nil, fmt.Errorf("read persona file: %w", err)
		}
		override, err := Parse(b)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", overridePath, err)
		}
		specs = merge(specs, override)
	}
	return NewCatalog(specs)
}

func merge(base, override []Spec) []Spec {
	out := append([]Spec(nil), base...)
	for _, o := range override {
		key := strings.ToLower(strings.TrimSpace(o.Key))
		replaced := false
		for i := range out {
			if strings.EqualFold(out[i].Key, key) {
				out[i] = o
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, o)
		}
	}
	return out
}

// NewCatalog compiles every spec. Keys and aliases must be unique.
func NewCatalog(specs []Spec) (*Catalog, error) {
	c := &Catalog{
		byKey:   make(map[string]*Persona, len(specs)),
		aliases: make(map[string]string),
	}
	for _, s := range specs {
		p, err := Compile(s)
		if err != nil {
			return nil, err
		}
		if _, dup := c.byKey[p.Key]; dup {
			return nil, fmt.Errorf("%w: duplicate key %q", ErrInvalidPersona, p.Key)
		}
		c.byKey[p.Key] = p
		c.order = append(c.order, p.Key)
	}
	for _, key := range c.order {
		for _, a := range c.byKey[key].Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" {
				continue
			}
			if _, clash := c.byKey[a]; clash {
				return nil, fmt.Errorf("%w: alias %q shadows a persona key", ErrInvalidPersona, a)
			}
			if prev, dup := c.aliases[a]; dup && prev != key {
				return nil, fmt.Errorf("%w: alias %q used by %q and %q", ErrInvalidPersona, a, prev, key)
			}
			c.aliases[a] = key
		}
	}
	if len(c.order) == 0 {
		return nil, fmt.Errorf("%w: catalog is empty", ErrInvalidPersona)
	}
	return c, nil
}

// Get resolves a key or alias, case-insensitively.
func (c *Catalog) Get(key string) (*Persona, error) {
	k := strings.ToLower(strings.TrimSpace(key))
	if alias, ok := c.aliases[k]; ok {
		k = alias
	}
	p, ok := c.byKey[k]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPersona, key)
	}
	return p, nil
}

// Keys lists persona keys in load order.
func (c *Catalog) Keys() []string {
	return append([]string(nil), c.order...)
}

// All lists personas in load order.
func (c *Catalog) All() []*Persona {
	out := make([]*Persona, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.byKey[k])
	}
	return out
}

// Source hands out the current catalog and lets a reload swap it in
// without blocking readers.
type Source struct {
	cur atomic.Pointer[Catalog]
}

func NewSource(c *Catalog) *Source {
	s := &Source{}
	s.cur.Store(c)
	return s
}

func (s *Source) Current() *Catalog { return s.cur.Load() }

func (s *Source) Swap(c *Catalog) { s.cur.Store(c) }

// Get resolves against the current catalog.
func (s *Source) Get(key string) (*Persona, error) { return s.Current().Get(key) }
