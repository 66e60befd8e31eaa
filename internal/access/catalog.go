package access

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// Catalog lists the known pages of each gated role.
type Catalog struct {
	pages map[Role][]string
}

type catalogFile struct {
	Pages map[string][]string `yaml:"pages"`
}

// DefaultCatalog returns the catalog compiled into the binary.
func DefaultCatalog() (*Catalog, error) {
	return LoadCatalog(bytes.NewReader(defaultCatalogYAML))
}

// LoadCatalogFile reads a catalog from a YAML file.
func LoadCatalogFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("access: open catalog: %w", err)
	}
	defer f.Close()
	return LoadCatalog(f)
}

// LoadCatalog parses a YAML catalog. Unknown or ungated roles and empty page
// names are rejected; duplicate pages are collapsed.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var file catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("access: decode catalog: %w", err)
	}
	catalog := &Catalog{pages: make(map[Role][]string, len(file.Pages))}
	for rawRole, pages := range file.Pages {
		role, err := ParseRole(rawRole)
		if err != nil {
			return nil, fmt.Errorf("access: catalog: %w", err)
		}
		if !role.Gated() {
			return nil, fmt.Errorf("access: catalog: role %q is not gated", role)
		}
		seen := make(map[string]struct{}, len(pages))
		for _, page := range pages {
			page = NormalizePage(page)
			if page == "" {
				return nil, fmt.Errorf("access: catalog: empty page for role %q", role)
			}
			if _, dup := seen[page]; dup {
				continue
			}
			seen[page] = struct{}{}
			catalog.pages[role] = append(catalog.pages[role], page)
		}
		sort.Strings(catalog.pages[role])
	}
	return catalog, nil
}

// Pages returns the pages of role in name order.
func (c *Catalog) Pages(role Role) []string {
	if c == nil {
		return nil
	}
	out := make([]string, len(c.pages[role]))
	copy(out, c.pages[role])
	return out
}

// AllPages returns every distinct page of every role in name order.
func (c *Catalog) AllPages() []string {
	if c == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, pages := range c.pages {
		for _, page := range pages {
			if _, ok := seen[page]; ok {
				continue
			}
			seen[page] = struct{}{}
			out = append(out, page)
		}
	}
	sort.Strings(out)
	return out
}

// Size reports the number of (role, page) pairs.
func (c *Catalog) Size() int {
	if c == nil {
		return 0
	}
	n := 0
	for _, pages := range c.pages {
		n += len(pages)
	}
	return n
}

// Reconcile seeds every catalog page for every role and facility. Existing
// entries keep their state. It returns the number of triples ensured.
func Reconcile(ctx context.Context, store Store, catalog *Catalog) (int, error) {
	ensured := 0
	for _, facility := range Facilities() {
		for _, role := range GatedRoles() {
			for _, page := range catalog.Pages(role) {
				if _, err := store.UpsertSeed(ctx, facility, role, page); err != nil {
					return ensured, fmt.Errorf("seed %s/%s/%s: %w", facility, role, page, err)
				}
				ensured++
			}
		}
	}
	return ensured, nil
}
