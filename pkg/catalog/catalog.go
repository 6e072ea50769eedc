// Package catalog serves the read-only list of portfolio projects the
// assistant can be asked about.
package catalog

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
)

//go:embed projects.json
var embeddedProjects []byte

type Project struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	SuggestedQuestions []string `json:"suggested_questions"`
	Context            string   `json:"context"`
}

type file struct {
	Projects []Project `json:"projects"`
}

type Catalog struct {
	projects []Project
	byID     map[string]int
}

// Default returns the catalog compiled into the binary.
func Default() *Catalog {
	c, err := Parse(embeddedProjects)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog: %v", err))
	}
	return c
}

// Load reads a catalog file. An empty path yields the embedded catalog.
func Load(path string) (*Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	c, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

func Parse(b []byte) (*Catalog, error) {
	var f file
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return New(f.Projects)
}

func New(projects []Project) (*Catalog, error) {
	c := &Catalog{projects: make([]Project, 0, len(projects)), byID: map[string]int{}}
	for _, p := range projects {
		p.ID = strings.TrimSpace(p.ID)
		p.Title = strings.TrimSpace(p.Title)
		if p.ID == "" {
			return nil, errors.New("project id cannot be empty")
		}
		if p.Title == "" {
			return nil, fmt.Errorf("project %q title cannot be empty", p.ID)
		}
		if _, ok := c.byID[p.ID]; ok {
			return nil, fmt.Errorf("duplicate project id %q", p.ID)
		}
		if p.SuggestedQuestions == nil {
			p.SuggestedQuestions = []string{}
		}
		c.byID[p.ID] = len(c.projects)
		c.projects = append(c.projects, p)
	}
	return c, nil
}

// List returns the projects in catalog order.
func (c *Catalog) List() []Project {
	out := make([]Project, len(c.projects))
	for i, p := range c.projects {
		p.SuggestedQuestions = slices.Clone(p.SuggestedQuestions)
		out[i] = p
	}
	return out
}

func (c *Catalog) Get(id string) (Project, bool) {
	i, ok := c.byID[strings.TrimSpace(id)]
	if !ok {
		return Project{}, false
	}
	p := c.projects[i]
	p.SuggestedQuestions = slices.Clone(p.SuggestedQuestions)
	return p, true
}

func (c *Catalog) Len() int {
	return len(c.projects)
}
