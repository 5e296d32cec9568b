package scripts

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"
)

// Collection is an immutable snapshot of every script known at build time.
// Handlers take one snapshot per request; a concurrent reload never mutates a
// snapshot already handed out.
type Collection struct {
	scripts map[string]*Descriptor
}

// Get returns the descriptor registered under name.
func (c *Collection) Get(name string) (*Descriptor, bool) {
	d, ok := c.scripts[strings.ToLower(name)]
	return d, ok
}

// Len reports how many scripts the snapshot holds.
func (c *Collection) Len() int { return len(c.scripts) }

// Names returns the sorted names of all scripts matching q.
func (c *Collection) Names(q TagQuery) []string {
	names := make([]string, 0, len(c.scripts))
	for _, d := range c.scripts {
		if q.Match(d.Tags) {
			names = append(names, d.Name)
		}
	}
	sort.Strings(names)
	return names
}

// Metadata returns the descriptors of all scripts matching q, sorted by name.
func (c *Collection) Metadata(q TagQuery) []*Descriptor {
	ds := make([]*Descriptor, 0, len(c.scripts))
	for _, d := range c.scripts {
		if q.Match(d.Tags) {
			ds = append(ds, d)
		}
	}
	sort.Slice(ds, func(i, j int) bool { return ds[i].Name < ds[j].Name })
	return ds
}

// Build scans dir (non-recursive) for executable regular files and parses
// their metadata headers. Hidden files and files without the executable bit
// are skipped. Duplicate script names are an error.
func Build(dir string, defaultTimeout time.Duration) (*Collection, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read script directory: %w", err)
	}

	c := &Collection{scripts: make(map[string]*Descriptor)}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		if !info.Mode().IsRegular() || info.Mode().Perm()&0o111 == 0 {
			continue
		}

		path, err := filepath.Abs(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		fallback := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		d, err := parseDescriptor(path, fallback, defaultTimeout)
		if err != nil {
			return nil, fmt.Errorf("script %s: %w", e.Name(), err)
		}
		key := strings.ToLower(d.Name)
		if prev, ok := c.scripts[key]; ok {
			return nil, fmt.Errorf("duplicate script name %q (%s and %s)", d.Name, prev.Path, d.Path)
		}
		c.scripts[key] = d
	}
	return c, nil
}

// Registry holds the current Collection behind an atomically swapped pointer.
// Load replaces the whole snapshot in one exchange, so readers always see a
// complete, consistent script set.
type Registry struct {
	dir            string
	defaultTimeout time.Duration
	current        atomic.Pointer[Collection]
}

// NewRegistry creates a registry over dir. The registry is empty until the
// first Load.
func NewRegistry(dir string, defaultTimeout time.Duration) *Registry {
	r := &Registry{dir: dir, defaultTimeout: defaultTimeout}
	r.current.Store(&Collection{scripts: make(map[string]*Descriptor)})
	return r
}

// Load rebuilds the collection from disk and swaps it in. On error the
// previous snapshot stays in effect.
func (r *Registry) Load() error {
	c, err := Build(r.dir, r.defaultTimeout)
	if err != nil {
		return err
	}
	r.current.Store(c)
	return nil
}

// Snapshot returns the collection currently in effect.
func (r *Registry) Snapshot() *Collection { return r.current.Load() }

// Dir returns the directory the registry scans.
func (r *Registry) Dir() string { return r.dir }
