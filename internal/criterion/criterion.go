// Package criterion defines the abstract selection constraint used to bind jobs to
// registered resources, and the matching rules over a candidate resource's
// attributes.
package criterion

import (
	"fmt"
	"slices"
	"strings"
)

// Criterion is an immutable, partially-specified constraint. Empty fields are
// wildcards. All present fields are ANDed; there is no OR/NOT.
type Criterion struct {
	ID      string   `json:"id,omitempty" yaml:"id,omitempty"`
	Name    string   `json:"name,omitempty" yaml:"name,omitempty"`
	Version string   `json:"version,omitempty" yaml:"version,omitempty"`
	Status  string   `json:"status,omitempty" yaml:"status,omitempty"`
	Tags    []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// New returns a Criterion with tags deduplicated, empties dropped and the rest
// sorted, so equal criteria compare and render identically.
func New(id, name, version, status string, tags []string) Criterion {
	return Criterion{
		ID:      id,
		Name:    name,
		Version: version,
		Status:  status,
		Tags:    normalizeTags(tags),
	}
}

// Normalize returns a copy of c with its tag set normalized.
func (c Criterion) Normalize() Criterion {
	c.Tags = normalizeTags(c.Tags)
	return c
}

// IsEmpty reports whether every field of the criterion is a wildcard.
func (c Criterion) IsEmpty() bool {
	return c.ID == "" && c.Name == "" && c.Version == "" && c.Status == "" && len(c.Tags) == 0
}

// String renders the criterion for diagnostics, e.g.
// {id=, name=hive, version=, status=, tags=[prod sla]}.
func (c Criterion) String() string {
	return fmt.Sprintf(
		"{id=%s, name=%s, version=%s, status=%s, tags=[%s]}",
		c.ID, c.Name, c.Version, c.Status, strings.Join(c.Tags, " "),
	)
}

func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	if len(out) == 0 {
		return nil
	}
	slices.Sort(out)
	return out
}

// Attributes is the view of a candidate resource the matcher evaluates. The
// resource type supplies DefaultActiveStatus (e.g. UP for clusters, ACTIVE for
// commands) so that an unqualified criterion implicitly excludes
// inactive/deprecated/terminated resources.
type Attributes struct {
	ID                  string
	Name                string
	Version             string
	Status              string
	Tags                []string
	DefaultActiveStatus string
}

// Matches decides whether the resource described by attrs satisfies c.
//
//   - present id/name/version require exact equality
//   - present status requires exact equality; absent status requires the
//     resource's status to equal the type's default active status
//   - every criterion tag must appear in the resource's tag set (subset test)
func Matches(c Criterion, attrs Attributes) bool {
	if c.ID != "" && c.ID != attrs.ID {
		return false
	}
	if c.Name != "" && c.Name != attrs.Name {
		return false
	}
	if c.Version != "" && c.Version != attrs.Version {
		return false
	}
	if c.Status != "" {
		if c.Status != attrs.Status {
			return false
		}
	} else if attrs.Status != attrs.DefaultActiveStatus {
		return false
	}
	return containsAll(attrs.Tags, c.Tags)
}

// containsAll reports whether every want tag is present in have.
func containsAll(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(have))
	for _, tag := range have {
		set[tag] = struct{}{}
	}
	for _, tag := range want {
		if _, ok := set[tag]; !ok {
			return false
		}
	}
	return true
}
