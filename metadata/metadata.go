// Package metadata is the SQLite-backed store of record for every
// filesystem entry: directories, files, and the block chain each file's
// content lives in on the transport.
package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// RootID is the pre-seeded inode number of the filesystem root.
const RootID uint64 = 1

// Node is one row of the node table: either a directory or a regular file.
type Node struct {
	ID        uint64
	Name      string // empty for root
	Parent    uint64 // 0 for root (no parent)
	Directory bool
	Size      uint64 // only meaningful once ChainHead is set
	Ctime     float64
	Atime     float64
	ChainHead string // transport message id of the last block; "" until set
}

var (
	// ErrExists is returned when a create or move would collide with an
	// existing (parent, name) pair.
	ErrExists = errors.New("metadata: node already exists")

	// ErrNotFound is returned when an operation targets a node that isn't
	// there.
	ErrNotFound = errors.New("metadata: node not found")

	// ErrNotEmpty is returned by Delete when asked to remove a directory
	// that still has children.
	ErrNotEmpty = errors.New("metadata: directory not empty")
)

// Store is a handle to the node table in a SQLite database file. It performs
// no caching of its own; every call round-trips to the database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// ensures the node table and root row exist.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("metadata: failed to open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY storms

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`
create table if not exists node (
	id integer primary key autoincrement,
	name text not null default '',
	parent integer not null default 0,
	directory integer not null,
	size integer not null default 0,
	ctime real not null default 0,
	atime real not null default 0,
	chain_head text not null default '',
	foreign key(parent) references node(id)
);
create unique index if not exists node_parent_name on node(parent, name);
`)
	if err != nil {
		return fmt.Errorf("metadata: failed to initialize schema: %w", err)
	}

	var count int
	if err := s.db.QueryRow(`select count(*) from node where id = ?`, RootID).Scan(&count); err != nil {
		return fmt.Errorf("metadata: failed to check for root node: %w", err)
	}
	if count == 0 {
		_, err := s.db.Exec(
			`insert into node (id, name, parent, directory) values (?, '', 0, 1)`,
			RootID,
		)
		if err != nil {
			return fmt.Errorf("metadata: failed to seed root node: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

const nodeColumns = `id, name, parent, directory, size, ctime, atime, chain_head`

func scanNode(row interface{ Scan(...any) error }) (*Node, error) {
	var nd Node
	var directory int
	if err := row.Scan(&nd.ID, &nd.Name, &nd.Parent, &directory, &nd.Size, &nd.Ctime, &nd.Atime, &nd.ChainHead); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	nd.Directory = directory != 0
	return &nd, nil
}

// Get returns the child of parent named name, or nil if there isn't one.
func (s *Store) Get(ctx context.Context, parent uint64, name string) (*Node, error) {
	row := s.db.QueryRowContext(ctx, `select `+nodeColumns+` from node where parent = ? and name = ?`, parent, name)
	nd, err := scanNode(row)
	if err != nil {
		return nil, fmt.Errorf("metadata: get %d/%s: %w", parent, name, err)
	}
	return nd, nil
}

// GetByID returns the node with the given id, or nil if there isn't one.
func (s *Store) GetByID(ctx context.Context, id uint64) (*Node, error) {
	row := s.db.QueryRowContext(ctx, `select `+nodeColumns+` from node where id = ?`, id)
	nd, err := scanNode(row)
	if err != nil {
		return nil, fmt.Errorf("metadata: get by id %d: %w", id, err)
	}
	return nd, nil
}

// Create inserts a new child of parent named name. Ctime is stamped with
// now (seconds since epoch). The existence check and insert happen in one
// transaction, and the table's UNIQUE(parent,name) index converts any
// concurrent race into ErrExists as well.
func (s *Store) Create(ctx context.Context, parent uint64, name string, directory bool, now float64) (*Node, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("metadata: create %d/%s: %w", parent, name, err)
	}
	defer tx.Rollback()

	var existing int
	if err := tx.QueryRowContext(ctx, `select count(*) from node where parent = ? and name = ?`, parent, name).Scan(&existing); err != nil {
		return nil, fmt.Errorf("metadata: create %d/%s: %w", parent, name, err)
	}
	if existing > 0 {
		return nil, ErrExists
	}

	dirFlag := 0
	if directory {
		dirFlag = 1
	}
	res, err := tx.ExecContext(ctx,
		`insert into node (name, parent, directory, ctime, atime) values (?, ?, ?, ?, ?)`,
		name, parent, dirFlag, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrExists
		}
		return nil, fmt.Errorf("metadata: create %d/%s: %w", parent, name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("metadata: create %d/%s: %w", parent, name, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("metadata: create %d/%s: %w", parent, name, err)
	}

	return &Node{
		ID:        uint64(id),
		Name:      name,
		Parent:    parent,
		Directory: directory,
		Ctime:     now,
		Atime:     now,
	}, nil
}

// ListChildren returns every node whose parent is parent, in insertion
// (id) order.
func (s *Store) ListChildren(ctx context.Context, parent uint64) ([]*Node, error) {
	rows, err := s.db.QueryContext(ctx, `select `+nodeColumns+` from node where parent = ? order by id`, parent)
	if err != nil {
		return nil, fmt.Errorf("metadata: list children of %d: %w", parent, err)
	}
	defer rows.Close()

	var out []*Node
	for rows.Next() {
		nd, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("metadata: list children of %d: %w", parent, err)
		}
		out = append(out, nd)
	}
	return out, rows.Err()
}

// SetChainHead records the transport message id of the last block of a
// file's content, along with the file's final plaintext size. It's the
// single atomic step that makes a file's content visible to readers.
func (s *Store) SetChainHead(ctx context.Context, id uint64, head string, size uint64) error {
	res, err := s.db.ExecContext(ctx, `update node set chain_head = ?, size = ? where id = ?`, head, size, id)
	if err != nil {
		return fmt.Errorf("metadata: set chain head of %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("metadata: set chain head of %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAtime updates a node's last-accessed timestamp.
func (s *Store) SetAtime(ctx context.Context, id uint64, atime float64) error {
	res, err := s.db.ExecContext(ctx, `update node set atime = ? where id = ?`, atime, id)
	if err != nil {
		return fmt.Errorf("metadata: set atime of %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the child of parent named name, provided it matches the
// requested directory-ness and, if a directory, has no children.
func (s *Store) Delete(ctx context.Context, parent uint64, name string, directory bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("metadata: delete %d/%s: %w", parent, name, err)
	}
	defer tx.Rollback()

	dirFlag := 0
	if directory {
		dirFlag = 1
	}
	var id uint64
	err = tx.QueryRowContext(ctx, `select id from node where parent = ? and name = ? and directory = ?`, parent, name, dirFlag).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	} else if err != nil {
		return fmt.Errorf("metadata: delete %d/%s: %w", parent, name, err)
	}

	if directory {
		var children int
		if err := tx.QueryRowContext(ctx, `select count(*) from node where parent = ?`, id).Scan(&children); err != nil {
			return fmt.Errorf("metadata: delete %d/%s: %w", parent, name, err)
		}
		if children > 0 {
			return ErrNotEmpty
		}
	}

	if _, err := tx.ExecContext(ctx, `delete from node where id = ?`, id); err != nil {
		return fmt.Errorf("metadata: delete %d/%s: %w", parent, name, err)
	}
	return tx.Commit()
}

// Move relinquishes a node's current (parent, name) and gives it a new one,
// handling both renames within a directory and moves across directories.
func (s *Store) Move(ctx context.Context, oldParent uint64, oldName string, newParent uint64, newName string) error {
	res, err := s.db.ExecContext(ctx,
		`update node set parent = ?, name = ? where parent = ? and name = ?`,
		newParent, newName, oldParent, oldName,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrExists
		}
		return fmt.Errorf("metadata: move %d/%s: %w", oldParent, oldName, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("metadata: move %d/%s: %w", oldParent, oldName, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint")
}
