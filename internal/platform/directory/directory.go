// Package directory loads the people directory and review cycles from YAML.
package directory

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"pms/internal/domain/auth"
	"pms/internal/domain/workflow"
)

type document struct {
	People []workflow.Person `yaml:"people"`
	Cycles []cycleEntry      `yaml:"cycles"`
}

type cycleEntry struct {
	ID          string `yaml:"id"`
	Label       string `yaml:"label"`
	PeriodStart string `yaml:"period_start"`
	PeriodEnd   string `yaml:"period_end"`
	Status      string `yaml:"status"`
}

// Static is an immutable directory held in memory.
type Static struct {
	people map[string]workflow.Person
	order  []string
	cycles []workflow.Cycle
}

var _ workflow.Directory = (*Static)(nil)

// NewStatic builds a directory from people, validating roles and managers.
func NewStatic(people ...workflow.Person) (*Static, error) {
	s := &Static{people: make(map[string]workflow.Person, len(people))}
	for _, p := range people {
		p.ID = strings.TrimSpace(p.ID)
		if p.ID == "" {
			return nil, fmt.Errorf("directory: person without id")
		}
		role, ok := auth.ParseRole(string(p.Role))
		if !ok {
			return nil, fmt.Errorf("directory: %s: unknown role %q", p.ID, p.Role)
		}
		p.Role = role
		if _, dup := s.people[p.ID]; dup {
			return nil, fmt.Errorf("directory: duplicate person %s", p.ID)
		}
		s.people[p.ID] = p
		s.order = append(s.order, p.ID)
	}
	for _, p := range s.people {
		if p.ManagerID == "" {
			continue
		}
		if _, ok := s.people[p.ManagerID]; !ok {
			return nil, fmt.Errorf("directory: %s: unknown manager %s", p.ID, p.ManagerID)
		}
	}
	return s, nil
}

// Parse decodes a directory document.
func Parse(data []byte) (*Static, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("directory: payload is empty")
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("directory: decode: %w", err)
	}
	s, err := NewStatic(doc.People...)
	if err != nil {
		return nil, err
	}
	for _, entry := range doc.Cycles {
		cycle, err := entry.toCycle()
		if err != nil {
			return nil, err
		}
		s.cycles = append(s.cycles, cycle)
	}
	return s, nil
}

func Load(path string) (*Static, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("directory: read %s: %w", path, err)
	}
	s, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func (s *Static) Person(ctx context.Context, id string) (workflow.Person, error) {
	p, ok := s.people[id]
	if !ok {
		return workflow.Person{}, workflow.NotFoundError("person", nil)
	}
	return p, nil
}

// People returns every entry in file order.
func (s *Static) People() []workflow.Person {
	out := make([]workflow.Person, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.people[id])
	}
	return out
}

func (s *Static) Cycles() []workflow.Cycle {
	return append([]workflow.Cycle(nil), s.cycles...)
}

func (c cycleEntry) toCycle() (workflow.Cycle, error) {
	if c.ID == "" || c.Label == "" {
		return workflow.Cycle{}, fmt.Errorf("directory: cycle needs id and label")
	}
	cycle := workflow.Cycle{ID: c.ID, Label: c.Label, Status: workflow.CycleStatusOpen}
	switch c.Status {
	case "", workflow.CycleStatusOpen:
	case workflow.CycleStatusClosed:
		cycle.Status = workflow.CycleStatusClosed
	default:
		return workflow.Cycle{}, fmt.Errorf("directory: cycle %s: unknown status %q", c.ID, c.Status)
	}
	var err error
	if cycle.PeriodStart, err = parseDate(c.PeriodStart); err != nil {
		return workflow.Cycle{}, fmt.Errorf("directory: cycle %s: %w", c.ID, err)
	}
	if cycle.PeriodEnd, err = parseDate(c.PeriodEnd); err != nil {
		return workflow.Cycle{}, fmt.Errorf("directory: cycle %s: %w", c.ID, err)
	}
	return cycle, nil
}

func parseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", value)
}
