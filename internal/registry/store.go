package registry

import (
	"context"

	"jobplane/internal/criterion"
)

// Store is the registry query and administration contract. The registry is
// read-mostly: queries vastly outnumber mutations and no coordination beyond
// normal transactional reads is required.
//
// All Find* methods apply criterion.Matches semantics, so an unqualified
// criterion only ever returns default-active resources.
type Store interface {
	// FindClusters returns all clusters satisfying the criterion.
	FindClusters(ctx context.Context, c criterion.Criterion) ([]Cluster, error)

	// FindCommands returns all commands satisfying the criterion.
	FindCommands(ctx context.Context, c criterion.Criterion) ([]Command, error)

	// FindClustersWithMatchingCommand returns clusters that satisfy clusterCrit
	// AND have at least one linked ACTIVE command satisfying commandCrit. A
	// cluster with zero eligible commands is not a valid resolution target even
	// if the cluster itself matches.
	FindClustersWithMatchingCommand(ctx context.Context, clusterCrit, commandCrit criterion.Criterion) ([]Cluster, error)

	// CommandsForCluster returns the cluster's linked commands satisfying the
	// criterion.
	CommandsForCluster(ctx context.Context, clusterID string, c criterion.Criterion) ([]Command, error)

	// ApplicationsForCommand returns the command's default applications in their
	// configured order.
	ApplicationsForCommand(ctx context.Context, commandID string) ([]Application, error)

	// GetCluster returns the cluster with the given id.
	GetCluster(ctx context.Context, id string) (*Cluster, error)

	// GetCommand returns the command with the given id.
	GetCommand(ctx context.Context, id string) (*Command, error)

	// GetApplication returns the application with the given id.
	GetApplication(ctx context.Context, id string) (*Application, error)

	// SaveCluster inserts or replaces a cluster.
	SaveCluster(ctx context.Context, c *Cluster) error

	// SaveCommand inserts or replaces a command.
	SaveCommand(ctx context.Context, c *Command) error

	// SaveApplication inserts or replaces an application.
	SaveApplication(ctx context.Context, a *Application) error

	// SetClusterCommands replaces the cluster -> command association.
	SetClusterCommands(ctx context.Context, clusterID string, commandIDs []string) error

	// SetCommandApplications replaces the command -> application association,
	// preserving order.
	SetCommandApplications(ctx context.Context, commandID string, applicationIDs []string) error

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error
}
