package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-filestore/pkg/filestore"
)

const backendName = "postgres"

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements filestore.MetadataStore using PostgreSQL
type Repository struct {
	db   DBTX
	pool *pgxpool.Pool // set when the repository owns its pool
	now  func() time.Time
}

// New creates a new PostgreSQL repository on db. The caller keeps ownership of db.
func New(db DBTX) *Repository {
	return &Repository{db: db, now: filestore.Now}
}

// Open connects to connString and returns a repository that closes the pool on Close.
func Open(ctx context.Context, connString string) (*Repository, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	r := New(pool)
	r.pool = pool
	return r, nil
}

// Error handling helper
func (r *Repository) handlePostgresError(operation, id string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: file %q", filestore.ErrNotFound, id)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: file %q", filestore.ErrConflict, id)
		case "42P01": // undefined_table
			err = fmt.Errorf("table does not exist - database migration required: %w", err)
		default:
			err = fmt.Errorf("%s (code: %s): %w", pgErr.Message, pgErr.Code, err)
		}
	}

	return filestore.NewStorageError(backendName, operation, id, err)
}

const recordColumns = `id, content_hash, content_type, content_length, name, tags,
	create_date, update_date, access_date, is_deleted`

func scanRecord(row pgx.Row) (*filestore.FileRecord, error) {
	var rec filestore.FileRecord
	var accessDate *time.Time
	if err := row.Scan(
		&rec.ID, &rec.ContentHash, &rec.ContentType, &rec.ContentLength, &rec.Name, &rec.Tags,
		&rec.CreateDate, &rec.UpdateDate, &accessDate, &rec.IsDeleted); err != nil {
		return nil, err
	}

	rec.CreateDate = filestore.Timestamp(rec.CreateDate)
	rec.UpdateDate = filestore.Timestamp(rec.UpdateDate)
	if accessDate != nil {
		t := filestore.Timestamp(*accessDate)
		rec.AccessDate = &t
	}
	if len(rec.Tags) == 0 {
		rec.Tags = nil
	}
	return &rec, nil
}

func (r *Repository) Put(ctx context.Context, id string, fields filestore.FileFields) (*filestore.FileRecord, error) {
	rec := filestore.NewFileRecord(id, fields, r.now())
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}

	query := `
		INSERT INTO files (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL, FALSE)`

	_, err := r.db.Exec(ctx, query,
		rec.ID, rec.ContentHash, rec.ContentType, rec.ContentLength, rec.Name, tags,
		rec.CreateDate, rec.UpdateDate)
	if err != nil {
		return nil, r.handlePostgresError("put", id, err)
	}

	return rec, nil
}

func (r *Repository) Get(ctx context.Context, id string) (*filestore.FileRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM files WHERE id = $1`

	rec, err := scanRecord(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, r.handlePostgresError("get", id, err)
	}
	return rec, nil
}

func (r *Repository) Has(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM files WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, r.handlePostgresError("has", id, err)
	}
	return exists, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	return r.execOne(ctx, "delete", id, `DELETE FROM files WHERE id = $1`, id)
}

func (r *Repository) SetDeleted(ctx context.Context, id string) error {
	query := `UPDATE files SET is_deleted = TRUE, update_date = GREATEST(update_date, $2) WHERE id = $1`
	return r.execOne(ctx, "set_deleted", id, query, id, r.now())
}

func (r *Repository) SetAccessDate(ctx context.Context, id string, when time.Time) error {
	query := `UPDATE files SET access_date = $2 WHERE id = $1`
	return r.execOne(ctx, "set_access_date", id, query, id, filestore.Timestamp(when))
}

func (r *Repository) SetUpdated(ctx context.Context, id string) error {
	query := `UPDATE files SET update_date = GREATEST(update_date, $2) WHERE id = $1`
	return r.execOne(ctx, "set_updated", id, query, id, r.now())
}

// execOne runs a statement that must affect exactly the row of id.
func (r *Repository) execOne(ctx context.Context, op, id, query string, args ...interface{}) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return r.handlePostgresError(op, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: file %q", filestore.ErrNotFound, id)
	}
	return nil
}

// where renders q as a WHERE clause with positional arguments.
func where(q filestore.Query) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if q.ContentHash != "" {
		add("content_hash = $%d", q.ContentHash)
	}
	if q.UpdatedSince != nil {
		add("update_date >= $%d", filestore.WindowStart(*q.UpdatedSince))
	}
	if q.Deleted != nil {
		add("is_deleted = $%d", *q.Deleted)
	}
	if q.Tag != "" {
		add("$%d = ANY(tags)", q.Tag)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func orderBy(order filestore.SortOrder) string {
	switch order {
	case filestore.SortUpdateDesc:
		return " ORDER BY update_date DESC, id ASC"
	case filestore.SortUpdateAsc:
		return " ORDER BY update_date ASC, id ASC"
	case filestore.SortCreateDesc:
		return " ORDER BY create_date DESC, id ASC"
	default:
		return " ORDER BY id ASC"
	}
}

func (r *Repository) Find(ctx context.Context, q filestore.Query, opts filestore.FindOptions) ([]*filestore.FileRecord, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	clause, args := where(q)
	query := `SELECT ` + recordColumns + ` FROM files` + clause + orderBy(opts.Sort)
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Skip > 0 {
		args = append(args, opts.Skip)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, r.handlePostgresError("find", "", err)
	}
	defer rows.Close()

	records := []*filestore.FileRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, r.handlePostgresError("find", "", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("find", "", err)
	}

	filestore.ApplySelect(records, opts.Select)
	return records, nil
}

func (r *Repository) Count(ctx context.Context, q filestore.Query) (int64, error) {
	clause, args := where(q)

	var n int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM files`+clause, args...).Scan(&n); err != nil {
		return 0, r.handlePostgresError("count", "", err)
	}
	return n, nil
}

func (r *Repository) ListUpdated(ctx context.Context, since time.Time, skip, limit int) ([]*filestore.FileRecord, error) {
	return r.Find(ctx, filestore.UpdatedSince(since), filestore.FindOptions{
		Sort:  filestore.SortUpdateDesc,
		Skip:  skip,
		Limit: limit,
	})
}

func (r *Repository) CountUpdated(ctx context.Context, since time.Time) (int64, error) {
	return r.Count(ctx, filestore.UpdatedSince(since))
}

// Close closes the pool if the repository opened it.
func (r *Repository) Close() error {
	if r.pool != nil {
		r.pool.Close()
	}
	return nil
}
