package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/papapumpkin/magnetar/internal/model"
)

// Memory is an in-memory Store. It backs tests and serves as the
// reference implementation the sqlite store mirrors. All methods are
// safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	projects map[string]*model.Project
	packages map[model.PackageID]*model.Package
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		projects: map[string]*model.Project{},
		packages: map[model.PackageID]*model.Package{},
	}
}

// AddProject upserts a project, panicking on an empty name. Intended for
// fixture construction; CreateProject is the create-or-fail variant.
func (m *Memory) AddProject(p *model.Project) *Memory {
	if p.Name == "" {
		panic("graph: project without name")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.projects[p.Name] = &cp
	return m
}

// AddPackage upserts a package. Intended for fixture construction.
func (m *Memory) AddPackage(p *model.Package) *Memory {
	if p.Project == "" || p.Name == "" {
		panic("graph: package without identity")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.packages[p.ID()] = &cp
	return m
}

// GetProject implements Accessor.
func (m *Memory) GetProject(_ context.Context, name string) (*model.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[name]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

// GetPackage implements Accessor.
func (m *Memory) GetPackage(_ context.Context, project, name string) (*model.Package, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.packages[model.PackageID{Project: project, Name: name}]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

// ProjectPackages implements Accessor.
func (m *Memory) ProjectPackages(_ context.Context, project string) ([]*model.Package, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Package
	for id, p := range m.packages {
		if id.Project == project {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// FindPackagesByAttribute implements Accessor.
func (m *Memory) FindPackagesByAttribute(_ context.Context, at model.AttributeName, name string) ([]*model.Package, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Package
	for _, p := range m.packages {
		if name != "" && p.Name != name {
			continue
		}
		if p.FindAttribute(at.Namespace, at.Name) != nil {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Project != out[j].Project {
			return out[i].Project < out[j].Project
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// FindProjectsByAttribute implements Accessor.
func (m *Memory) FindProjectsByAttribute(_ context.Context, at model.AttributeName) ([]*model.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Project
	for _, p := range m.projects {
		if p.FindAttribute(at.Namespace, at.Name) != nil {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ProjectRepositories implements Accessor.
func (m *Memory) ProjectRepositories(_ context.Context, project string) ([]model.Repository, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[project]
	if !ok {
		return nil, nil
	}
	out := make([]model.Repository, len(p.Repositories))
	copy(out, p.Repositories)
	return out, nil
}

// PackagesLinkingTo implements Accessor.
func (m *Memory) PackagesLinkingTo(_ context.Context, target model.PackageID) ([]*model.Package, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Package
	for _, p := range m.packages {
		t, ok := p.LinkTarget()
		if ok && t == target {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Project != out[j].Project {
			return out[i].Project < out[j].Project
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// CreateProject implements Store.
func (m *Memory) CreateProject(_ context.Context, p *model.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[p.Name]; ok {
		return fmt.Errorf("%w: %s", ErrProjectExists, p.Name)
	}
	cp := *p
	m.projects[p.Name] = &cp
	return nil
}

// SaveProject implements Store.
func (m *Memory) SaveProject(_ context.Context, p *model.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.projects[p.Name] = &cp
	return nil
}

// SavePackage implements Store.
func (m *Memory) SavePackage(_ context.Context, p *model.Package) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.packages[p.ID()] = &cp
	return nil
}
