// Package store persists the project/package graph in a local SQLite
// database. Documents are stored as TOML blobs with the columns the
// engine queries by (identity, link target, attributes) maintained
// alongside, so traversal stays in SQL while the model round-trips
// losslessly.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pelletier/go-toml/v2"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"github.com/papapumpkin/magnetar/internal/graph"
	"github.com/papapumpkin/magnetar/internal/model"
)

// schema contains the DDL executed on first open. Using IF NOT EXISTS
// makes it safe to run on every startup.
const schema = `
CREATE TABLE IF NOT EXISTS projects (
    name TEXT PRIMARY KEY,
    doc  BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS packages (
    project      TEXT NOT NULL,
    name         TEXT NOT NULL,
    link_project TEXT NOT NULL DEFAULT '',
    link_package TEXT NOT NULL DEFAULT '',
    doc          BLOB NOT NULL,
    PRIMARY KEY (project, name)
);

CREATE INDEX IF NOT EXISTS packages_link_idx ON packages (link_project, link_package);

CREATE TABLE IF NOT EXISTS attributes (
    owner_kind    TEXT NOT NULL,
    owner_project TEXT NOT NULL,
    owner_name    TEXT NOT NULL,
    namespace     TEXT NOT NULL,
    name          TEXT NOT NULL,
    PRIMARY KEY (owner_kind, owner_project, owner_name, namespace, name)
);
`

// SQLite implements graph.Store on a local SQLite database in WAL mode.
type SQLite struct {
	db *sql.DB
}

// Open opens (or creates) the database at path, enables WAL mode and a
// busy timeout, and creates the schema idempotently.
func Open(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	// Limit to one connection. SQLite only supports a single writer;
	// one connection avoids SQLITE_BUSY contention between pooled
	// connections that each need their own PRAGMA setup.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: set busy timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// GetProject returns the project or nil when it does not exist.
func (s *SQLite) GetProject(ctx context.Context, name string) (*model.Project, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, "SELECT doc FROM projects WHERE name = ?", name).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get project %q: %w", name, err)
	}
	var p model.Project
	if err := toml.Unmarshal(doc, &p); err != nil {
		return nil, fmt.Errorf("store: decode project %q: %w", name, err)
	}
	return &p, nil
}

// GetPackage returns the package or nil when it does not exist.
func (s *SQLite) GetPackage(ctx context.Context, project, name string) (*model.Package, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT doc FROM packages WHERE project = ? AND name = ?", project, name).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get package %s/%s: %w", project, name, err)
	}
	return decodePackage(doc, project, name)
}

// ProjectPackages lists the project's packages in name order.
func (s *SQLite) ProjectPackages(ctx context.Context, project string) ([]*model.Package, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT doc FROM packages WHERE project = ? ORDER BY name", project)
	if err != nil {
		return nil, fmt.Errorf("store: list packages of %q: %w", project, err)
	}
	defer rows.Close()
	return scanPackages(rows, project)
}

// FindPackagesByAttribute lists packages tagged with the attribute type,
// in (project, name) order. A non-empty name restricts the result to
// packages of that name.
func (s *SQLite) FindPackagesByAttribute(ctx context.Context, at model.AttributeName, name string) ([]*model.Package, error) {
	q := `
		SELECT p.doc FROM packages p
		JOIN attributes a ON a.owner_kind = 'package'
			AND a.owner_project = p.project AND a.owner_name = p.name
		WHERE a.namespace = ? AND a.name = ?`
	args := []any{at.Namespace, at.Name}
	if name != "" {
		q += " AND p.name = ?"
		args = append(args, name)
	}
	q += " ORDER BY p.project, p.name"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: find packages by attribute %s: %w", at, err)
	}
	defer rows.Close()
	return scanPackages(rows, "")
}

// FindProjectsByAttribute lists projects tagged with the attribute type,
// in name order.
func (s *SQLite) FindProjectsByAttribute(ctx context.Context, at model.AttributeName) ([]*model.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.doc FROM projects p
		JOIN attributes a ON a.owner_kind = 'project' AND a.owner_project = p.name
		WHERE a.namespace = ? AND a.name = ?
		ORDER BY p.name`, at.Namespace, at.Name)
	if err != nil {
		return nil, fmt.Errorf("store: find projects by attribute %s: %w", at, err)
	}
	defer rows.Close()

	var out []*model.Project
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("store: scan project: %w", err)
		}
		var p model.Project
		if err := toml.Unmarshal(doc, &p); err != nil {
			return nil, fmt.Errorf("store: decode project: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// ProjectRepositories lists the project's repositories, or
// ErrProjectNotFound.
func (s *SQLite) ProjectRepositories(ctx context.Context, project string) ([]model.Repository, error) {
	p, err := s.GetProject(ctx, project)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", graph.ErrProjectNotFound, project)
	}
	return p.Repositories, nil
}

// PackagesLinkingTo lists packages whose link points at the target, in
// (project, name) order.
func (s *SQLite) PackagesLinkingTo(ctx context.Context, target model.PackageID) ([]*model.Package, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc FROM packages
		WHERE link_project = ? AND link_package = ?
		ORDER BY project, name`, target.Project, target.Name)
	if err != nil {
		return nil, fmt.Errorf("store: find packages linking to %s: %w", target, err)
	}
	defer rows.Close()
	return scanPackages(rows, "")
}

// CreateProject inserts a new project, failing with ErrProjectExists on
// a name collision.
func (s *SQLite) CreateProject(ctx context.Context, p *model.Project) error {
	doc, err := toml.Marshal(p)
	if err != nil {
		return fmt.Errorf("store: encode project %q: %w", p.Name, err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	res, err := tx.ExecContext(ctx,
		"INSERT INTO projects (name, doc) VALUES (?, ?) ON CONFLICT(name) DO NOTHING", p.Name, doc)
	if err != nil {
		return fmt.Errorf("store: create project %q: %w", p.Name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", graph.ErrProjectExists, p.Name)
	}
	if err := writeAttributes(ctx, tx, "project", p.Name, "", p.Attributes); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit project %q: %w", p.Name, err)
	}
	return nil
}

// SaveProject upserts a project definition.
func (s *SQLite) SaveProject(ctx context.Context, p *model.Project) error {
	doc, err := toml.Marshal(p)
	if err != nil {
		return fmt.Errorf("store: encode project %q: %w", p.Name, err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	_, err = tx.ExecContext(ctx, `
		INSERT INTO projects (name, doc) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET doc = excluded.doc`, p.Name, doc)
	if err != nil {
		return fmt.Errorf("store: save project %q: %w", p.Name, err)
	}
	if err := writeAttributes(ctx, tx, "project", p.Name, "", p.Attributes); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit project %q: %w", p.Name, err)
	}
	return nil
}

// SavePackage upserts a package definition.
func (s *SQLite) SavePackage(ctx context.Context, p *model.Package) error {
	doc, err := toml.Marshal(p)
	if err != nil {
		return fmt.Errorf("store: encode package %s: %w", p.ID(), err)
	}
	linkProject, linkPackage := "", ""
	if target, ok := p.LinkTarget(); ok {
		linkProject, linkPackage = target.Project, target.Name
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	_, err = tx.ExecContext(ctx, `
		INSERT INTO packages (project, name, link_project, link_package, doc)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(project, name) DO UPDATE SET
			link_project = excluded.link_project,
			link_package = excluded.link_package,
			doc = excluded.doc`,
		p.Project, p.Name, linkProject, linkPackage, doc)
	if err != nil {
		return fmt.Errorf("store: save package %s: %w", p.ID(), err)
	}
	if err := writeAttributes(ctx, tx, "package", p.Project, p.Name, p.Attributes); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit package %s: %w", p.ID(), err)
	}
	return nil
}

// writeAttributes refreshes the attribute index rows for one owner.
func writeAttributes(ctx context.Context, tx *sql.Tx, kind, project, name string, attrs []model.Attribute) error {
	_, err := tx.ExecContext(ctx, `
		DELETE FROM attributes
		WHERE owner_kind = ? AND owner_project = ? AND owner_name = ?`, kind, project, name)
	if err != nil {
		return fmt.Errorf("store: clear attributes of %s %s/%s: %w", kind, project, name, err)
	}
	for _, a := range attrs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO attributes (owner_kind, owner_project, owner_name, namespace, name)
			VALUES (?, ?, ?, ?, ?)`, kind, project, name, a.Namespace, a.Name)
		if err != nil {
			return fmt.Errorf("store: index attribute %s:%s: %w", a.Namespace, a.Name, err)
		}
	}
	return nil
}

func decodePackage(doc []byte, project, name string) (*model.Package, error) {
	var p model.Package
	if err := toml.Unmarshal(doc, &p); err != nil {
		return nil, fmt.Errorf("store: decode package %s/%s: %w", project, name, err)
	}
	return &p, nil
}

func scanPackages(rows *sql.Rows, project string) ([]*model.Package, error) {
	var out []*model.Package
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("store: scan package: %w", err)
		}
		p, err := decodePackage(doc, project, "")
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
