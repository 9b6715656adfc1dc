package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"jobplane/internal/apperrors"
	"jobplane/internal/criterion"
	"jobplane/internal/job"
)

// SQLiteStore is the Store implementation over the embedded relational store.
//
// Rows are loaded as typed resources and filtered through criterion.Matches in
// process, keeping the matcher the single source of matching truth and the SQL
// free of dialect-specific predicate tricks.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the registry tables if needed and returns the store.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize registry schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS clusters (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		version TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		tags TEXT NOT NULL DEFAULT '[]',
		created TEXT NOT NULL,
		updated TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS commands (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		version TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		tags TEXT NOT NULL DEFAULT '[]',
		executable TEXT NOT NULL DEFAULT '[]',
		resources TEXT NOT NULL DEFAULT '{}',
		images TEXT NOT NULL DEFAULT '{}',
		created TEXT NOT NULL,
		updated TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS applications (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		version TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		tags TEXT NOT NULL DEFAULT '[]',
		created TEXT NOT NULL,
		updated TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS cluster_commands (
		cluster_id TEXT NOT NULL REFERENCES clusters(id) ON DELETE CASCADE,
		command_id TEXT NOT NULL REFERENCES commands(id) ON DELETE CASCADE,
		PRIMARY KEY (cluster_id, command_id)
	);
	CREATE TABLE IF NOT EXISTS command_applications (
		command_id TEXT NOT NULL REFERENCES commands(id) ON DELETE CASCADE,
		application_id TEXT NOT NULL REFERENCES applications(id) ON DELETE CASCADE,
		ordinal INTEGER NOT NULL,
		PRIMARY KEY (command_id, application_id)
	);
	CREATE INDEX IF NOT EXISTS idx_clusters_status ON clusters(status);
	CREATE INDEX IF NOT EXISTS idx_commands_status ON commands(status);
	`
	_, err := s.db.Exec(schema)
	return err
}

// FindClusters returns all clusters satisfying the criterion.
func (s *SQLiteStore) FindClusters(ctx context.Context, c criterion.Criterion) ([]Cluster, error) {
	clusters, err := s.allClusters(ctx)
	if err != nil {
		return nil, err
	}
	var out []Cluster
	for _, cluster := range clusters {
		if criterion.Matches(c, cluster.Attributes()) {
			out = append(out, cluster)
		}
	}
	return out, nil
}

// FindCommands returns all commands satisfying the criterion.
func (s *SQLiteStore) FindCommands(ctx context.Context, c criterion.Criterion) ([]Command, error) {
	commands, err := s.queryCommands(ctx, `SELECT id, name, version, status, tags, executable, resources, images, created, updated FROM commands`)
	if err != nil {
		return nil, err
	}
	var out []Command
	for _, cmd := range commands {
		if criterion.Matches(c, cmd.Attributes()) {
			out = append(out, cmd)
		}
	}
	return out, nil
}

// FindClustersWithMatchingCommand returns clusters satisfying clusterCrit that
// also have at least one linked ACTIVE command satisfying commandCrit.
func (s *SQLiteStore) FindClustersWithMatchingCommand(ctx context.Context, clusterCrit, commandCrit criterion.Criterion) ([]Cluster, error) {
	candidates, err := s.FindClusters(ctx, clusterCrit)
	if err != nil {
		return nil, err
	}
	var out []Cluster
	for _, cluster := range candidates {
		commands, err := s.CommandsForCluster(ctx, cluster.ID, commandCrit)
		if err != nil {
			return nil, err
		}
		if len(commands) > 0 {
			out = append(out, cluster)
		}
	}
	return out, nil
}

// CommandsForCluster returns the cluster's linked commands satisfying the
// criterion. Only ACTIVE commands satisfy an unqualified criterion.
func (s *SQLiteStore) CommandsForCluster(ctx context.Context, clusterID string, c criterion.Criterion) ([]Command, error) {
	commands, err := s.queryCommands(ctx, `
		SELECT cm.id, cm.name, cm.version, cm.status, cm.tags, cm.executable, cm.resources, cm.images, cm.created, cm.updated
		FROM commands cm
		JOIN cluster_commands cc ON cc.command_id = cm.id
		WHERE cc.cluster_id = ?`, clusterID)
	if err != nil {
		return nil, err
	}
	var out []Command
	for _, cmd := range commands {
		if criterion.Matches(c, cmd.Attributes()) {
			out = append(out, cmd)
		}
	}
	return out, nil
}

// ApplicationsForCommand returns the command's default applications in order.
func (s *SQLiteStore) ApplicationsForCommand(ctx context.Context, commandID string) ([]Application, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.name, a.version, a.status, a.tags, a.created, a.updated
		FROM applications a
		JOIN command_applications ca ON ca.application_id = a.id
		WHERE ca.command_id = ?
		ORDER BY ca.ordinal`, commandID)
	if err != nil {
		return nil, apperrors.Internal("registry.applicationsForCommand", err)
	}
	defer rows.Close()

	var out []Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, apperrors.Internal("registry.applicationsForCommand", err)
		}
		out = append(out, app)
	}
	return out, rows.Err()
}

// GetCluster returns the cluster with the given id.
func (s *SQLiteStore) GetCluster(ctx context.Context, id string) (*Cluster, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, version, status, tags, created, updated FROM clusters WHERE id = ?`, id)
	cluster, err := scanCluster(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("cluster", id)
	}
	if err != nil {
		return nil, apperrors.Internal("registry.getCluster", err)
	}
	return &cluster, nil
}

// GetCommand returns the command with the given id.
func (s *SQLiteStore) GetCommand(ctx context.Context, id string) (*Command, error) {
	commands, err := s.queryCommands(ctx,
		`SELECT id, name, version, status, tags, executable, resources, images, created, updated FROM commands WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(commands) == 0 {
		return nil, apperrors.NotFound("command", id)
	}
	return &commands[0], nil
}

// GetApplication returns the application with the given id.
func (s *SQLiteStore) GetApplication(ctx context.Context, id string) (*Application, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, version, status, tags, created, updated FROM applications WHERE id = ?`, id)
	app, err := scanApplication(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("application", id)
	}
	if err != nil {
		return nil, apperrors.Internal("registry.getApplication", err)
	}
	return &app, nil
}

// SaveCluster inserts or replaces a cluster.
func (s *SQLiteStore) SaveCluster(ctx context.Context, c *Cluster) error {
	now := time.Now().UTC()
	if c.Created.IsZero() {
		c.Created = now
	}
	c.Updated = now
	tags, err := json.Marshal(normalizedOrEmpty(c.Tags))
	if err != nil {
		return apperrors.Internal("registry.saveCluster", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO clusters (id, name, version, status, tags, created, updated)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, version = excluded.version, status = excluded.status,
			tags = excluded.tags, updated = excluded.updated`,
		c.ID, c.Name, c.Version, c.Status, string(tags),
		c.Created.Format(time.RFC3339Nano), c.Updated.Format(time.RFC3339Nano))
	if err != nil {
		return apperrors.Internal("registry.saveCluster", err)
	}
	return nil
}

// SaveCommand inserts or replaces a command.
func (s *SQLiteStore) SaveCommand(ctx context.Context, c *Command) error {
	now := time.Now().UTC()
	if c.Created.IsZero() {
		c.Created = now
	}
	c.Updated = now
	tags, err := json.Marshal(normalizedOrEmpty(c.Tags))
	if err != nil {
		return apperrors.Internal("registry.saveCommand", err)
	}
	executable, err := json.Marshal(emptyIfNilSlice(c.Executable))
	if err != nil {
		return apperrors.Internal("registry.saveCommand", err)
	}
	resources, err := json.Marshal(c.Resources)
	if err != nil {
		return apperrors.Internal("registry.saveCommand", err)
	}
	images, err := json.Marshal(emptyIfNilImages(c.Images))
	if err != nil {
		return apperrors.Internal("registry.saveCommand", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO commands (id, name, version, status, tags, executable, resources, images, created, updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, version = excluded.version, status = excluded.status,
			tags = excluded.tags, executable = excluded.executable,
			resources = excluded.resources, images = excluded.images,
			updated = excluded.updated`,
		c.ID, c.Name, c.Version, c.Status, string(tags), string(executable),
		string(resources), string(images),
		c.Created.Format(time.RFC3339Nano), c.Updated.Format(time.RFC3339Nano))
	if err != nil {
		return apperrors.Internal("registry.saveCommand", err)
	}
	return nil
}

// SaveApplication inserts or replaces an application.
func (s *SQLiteStore) SaveApplication(ctx context.Context, a *Application) error {
	now := time.Now().UTC()
	if a.Created.IsZero() {
		a.Created = now
	}
	a.Updated = now
	tags, err := json.Marshal(normalizedOrEmpty(a.Tags))
	if err != nil {
		return apperrors.Internal("registry.saveApplication", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO applications (id, name, version, status, tags, created, updated)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, version = excluded.version, status = excluded.status,
			tags = excluded.tags, updated = excluded.updated`,
		a.ID, a.Name, a.Version, a.Status, string(tags),
		a.Created.Format(time.RFC3339Nano), a.Updated.Format(time.RFC3339Nano))
	if err != nil {
		return apperrors.Internal("registry.saveApplication", err)
	}
	return nil
}

// SetClusterCommands replaces the cluster -> command association.
func (s *SQLiteStore) SetClusterCommands(ctx context.Context, clusterID string, commandIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Internal("registry.setClusterCommands", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cluster_commands WHERE cluster_id = ?`, clusterID); err != nil {
		return apperrors.Internal("registry.setClusterCommands", err)
	}
	for _, commandID := range commandIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cluster_commands (cluster_id, command_id) VALUES (?, ?)`,
			clusterID, commandID); err != nil {
			return apperrors.Internal("registry.setClusterCommands", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Internal("registry.setClusterCommands", err)
	}
	return nil
}

// SetCommandApplications replaces the command -> application association,
// preserving the given order.
func (s *SQLiteStore) SetCommandApplications(ctx context.Context, commandID string, applicationIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Internal("registry.setCommandApplications", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM command_applications WHERE command_id = ?`, commandID); err != nil {
		return apperrors.Internal("registry.setCommandApplications", err)
	}
	for i, applicationID := range applicationIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO command_applications (command_id, application_id, ordinal) VALUES (?, ?, ?)`,
			commandID, applicationID, i); err != nil {
			return apperrors.Internal("registry.setCommandApplications", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Internal("registry.setCommandApplications", err)
	}
	return nil
}

// Ping verifies the backing store is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) allClusters(ctx context.Context) ([]Cluster, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, version, status, tags, created, updated FROM clusters`)
	if err != nil {
		return nil, apperrors.Internal("registry.findClusters", err)
	}
	defer rows.Close()

	var out []Cluster
	for rows.Next() {
		cluster, err := scanCluster(rows)
		if err != nil {
			return nil, apperrors.Internal("registry.findClusters", err)
		}
		out = append(out, cluster)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) queryCommands(ctx context.Context, query string, args ...any) ([]Command, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Internal("registry.findCommands", err)
	}
	defer rows.Close()

	var out []Command
	for rows.Next() {
		var (
			cmd                                 Command
			tags, executable, resources, images string
			created, updated                    string
		)
		if err := rows.Scan(&cmd.ID, &cmd.Name, &cmd.Version, &cmd.Status,
			&tags, &executable, &resources, &images, &created, &updated); err != nil {
			return nil, apperrors.Internal("registry.findCommands", err)
		}
		if err := json.Unmarshal([]byte(tags), &cmd.Tags); err != nil {
			return nil, apperrors.Internal("registry.findCommands", err)
		}
		if err := json.Unmarshal([]byte(executable), &cmd.Executable); err != nil {
			return nil, apperrors.Internal("registry.findCommands", err)
		}
		if err := json.Unmarshal([]byte(resources), &cmd.Resources); err != nil {
			return nil, apperrors.Internal("registry.findCommands", err)
		}
		if err := json.Unmarshal([]byte(images), &cmd.Images); err != nil {
			return nil, apperrors.Internal("registry.findCommands", err)
		}
		cmd.Created, _ = time.Parse(time.RFC3339Nano, created)
		cmd.Updated, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, cmd)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCluster(row rowScanner) (Cluster, error) {
	var (
		c                      Cluster
		tags, created, updated string
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Version, &c.Status, &tags, &created, &updated); err != nil {
		return Cluster{}, err
	}
	if err := json.Unmarshal([]byte(tags), &c.Tags); err != nil {
		return Cluster{}, err
	}
	c.Created, _ = time.Parse(time.RFC3339Nano, created)
	c.Updated, _ = time.Parse(time.RFC3339Nano, updated)
	return c, nil
}

func scanApplication(row rowScanner) (Application, error) {
	var (
		a                      Application
		tags, created, updated string
	)
	if err := row.Scan(&a.ID, &a.Name, &a.Version, &a.Status, &tags, &created, &updated); err != nil {
		return Application{}, err
	}
	if err := json.Unmarshal([]byte(tags), &a.Tags); err != nil {
		return Application{}, err
	}
	a.Created, _ = time.Parse(time.RFC3339Nano, created)
	a.Updated, _ = time.Parse(time.RFC3339Nano, updated)
	return a, nil
}

func normalizedOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func emptyIfNilSlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func emptyIfNilImages(m map[string]job.Image) map[string]job.Image {
	if m == nil {
		return map[string]job.Image{}
	}
	return m
}

var _ Store = (*SQLiteStore)(nil)
