package registry

import (
	"context"
	"slices"
	"sync"
	"time"

	"jobplane/internal/apperrors"
	"jobplane/internal/criterion"
)

// MemoryStore is an in-memory Store used for tests and single-process
// development mode. Mutations copy on write; queries never expose internal
// slices.
type MemoryStore struct {
	mu           sync.RWMutex
	clusters     map[string]Cluster
	commands     map[string]Command
	applications map[string]Application
	clusterCmds  map[string][]string // cluster id -> command ids
	commandApps  map[string][]string // command id -> application ids, ordered
}

// NewMemoryStore creates an empty in-memory registry.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clusters:     make(map[string]Cluster),
		commands:     make(map[string]Command),
		applications: make(map[string]Application),
		clusterCmds:  make(map[string][]string),
		commandApps:  make(map[string][]string),
	}
}

// FindClusters returns all clusters satisfying the criterion.
func (s *MemoryStore) FindClusters(ctx context.Context, c criterion.Criterion) ([]Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Cluster
	for _, cluster := range s.clusters {
		if criterion.Matches(c, cluster.Attributes()) {
			out = append(out, cluster)
		}
	}
	return out, nil
}

// FindCommands returns all commands satisfying the criterion.
func (s *MemoryStore) FindCommands(ctx context.Context, c criterion.Criterion) ([]Command, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Command
	for _, cmd := range s.commands {
		if criterion.Matches(c, cmd.Attributes()) {
			out = append(out, cmd)
		}
	}
	return out, nil
}

// FindClustersWithMatchingCommand returns clusters satisfying clusterCrit with at
// least one linked command satisfying commandCrit.
func (s *MemoryStore) FindClustersWithMatchingCommand(ctx context.Context, clusterCrit, commandCrit criterion.Criterion) ([]Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Cluster
	for _, cluster := range s.clusters {
		if !criterion.Matches(clusterCrit, cluster.Attributes()) {
			continue
		}
		for _, commandID := range s.clusterCmds[cluster.ID] {
			cmd, ok := s.commands[commandID]
			if ok && criterion.Matches(commandCrit, cmd.Attributes()) {
				out = append(out, cluster)
				break
			}
		}
	}
	return out, nil
}

// CommandsForCluster returns the cluster's linked commands satisfying the criterion.
func (s *MemoryStore) CommandsForCluster(ctx context.Context, clusterID string, c criterion.Criterion) ([]Command, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Command
	for _, commandID := range s.clusterCmds[clusterID] {
		cmd, ok := s.commands[commandID]
		if ok && criterion.Matches(c, cmd.Attributes()) {
			out = append(out, cmd)
		}
	}
	return out, nil
}

// ApplicationsForCommand returns the command's default applications in order.
func (s *MemoryStore) ApplicationsForCommand(ctx context.Context, commandID string) ([]Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Application
	for _, applicationID := range s.commandApps[commandID] {
		if app, ok := s.applications[applicationID]; ok {
			out = append(out, app)
		}
	}
	return out, nil
}

// GetCluster returns the cluster with the given id.
func (s *MemoryStore) GetCluster(ctx context.Context, id string) (*Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cluster, ok := s.clusters[id]
	if !ok {
		return nil, apperrors.NotFound("cluster", id)
	}
	return &cluster, nil
}

// GetCommand returns the command with the given id.
func (s *MemoryStore) GetCommand(ctx context.Context, id string) (*Command, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cmd, ok := s.commands[id]
	if !ok {
		return nil, apperrors.NotFound("command", id)
	}
	return &cmd, nil
}

// GetApplication returns the application with the given id.
func (s *MemoryStore) GetApplication(ctx context.Context, id string) (*Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	app, ok := s.applications[id]
	if !ok {
		return nil, apperrors.NotFound("application", id)
	}
	return &app, nil
}

// SaveCluster inserts or replaces a cluster.
func (s *MemoryStore) SaveCluster(ctx context.Context, c *Cluster) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if c.Created.IsZero() {
		c.Created = now
	}
	c.Updated = now
	s.clusters[c.ID] = *c
	return nil
}

// SaveCommand inserts or replaces a command.
func (s *MemoryStore) SaveCommand(ctx context.Context, c *Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if c.Created.IsZero() {
		c.Created = now
	}
	c.Updated = now
	s.commands[c.ID] = *c
	return nil
}

// SaveApplication inserts or replaces an application.
func (s *MemoryStore) SaveApplication(ctx context.Context, a *Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if a.Created.IsZero() {
		a.Created = now
	}
	a.Updated = now
	s.applications[a.ID] = *a
	return nil
}

// SetClusterCommands replaces the cluster -> command association.
func (s *MemoryStore) SetClusterCommands(ctx context.Context, clusterID string, commandIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clusterCmds[clusterID] = slices.Clone(commandIDs)
	return nil
}

// SetCommandApplications replaces the command -> application association.
func (s *MemoryStore) SetCommandApplications(ctx context.Context, commandID string, applicationIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.commandApps[commandID] = slices.Clone(applicationIDs)
	return nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
