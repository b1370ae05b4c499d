// Package sqlite implements filestore.MetadataStore on an embedded SQLite
// database through GORM.
package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/tendant/simple-filestore/pkg/filestore"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const backendName = "sqlite"

// fileRow is the persisted form of a FileRecord. Dates are Unix
// microseconds so that ordering and range scans are plain integer compares.
type fileRow struct {
	ID            string `gorm:"primaryKey;size:1024"`
	ContentHash   string `gorm:"not null;index"`
	ContentType   string `gorm:"not null;default:''"`
	ContentLength int64  `gorm:"not null;default:0"`
	Name          string `gorm:"not null;default:''"`
	Tags          string `gorm:"type:text;not null;default:'[]'"` // JSON array
	CreateDate    int64  `gorm:"not null"`
	UpdateDate    int64  `gorm:"not null;index"`
	AccessDate    *int64
	IsDeleted     bool `gorm:"not null;default:false"`
}

// TableName returns the table name for fileRow.
func (fileRow) TableName() string {
	return "files"
}

func toRow(rec *filestore.FileRecord) (*fileRow, error) {
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}
	encoded, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("marshal tags: %w", err)
	}

	row := &fileRow{
		ID:            rec.ID,
		ContentHash:   rec.ContentHash,
		ContentType:   rec.ContentType,
		ContentLength: rec.ContentLength,
		Name:          rec.Name,
		Tags:          string(encoded),
		CreateDate:    rec.CreateDate.UnixMicro(),
		UpdateDate:    rec.UpdateDate.UnixMicro(),
		IsDeleted:     rec.IsDeleted,
	}
	if rec.AccessDate != nil {
		v := rec.AccessDate.UnixMicro()
		row.AccessDate = &v
	}
	return row, nil
}

func (row *fileRow) record() (*filestore.FileRecord, error) {
	rec := &filestore.FileRecord{
		ID:            row.ID,
		ContentHash:   row.ContentHash,
		ContentType:   row.ContentType,
		ContentLength: row.ContentLength,
		Name:          row.Name,
		CreateDate:    time.UnixMicro(row.CreateDate).UTC(),
		UpdateDate:    time.UnixMicro(row.UpdateDate).UTC(),
		IsDeleted:     row.IsDeleted,
	}
	if row.Tags != "" {
		if err := json.Unmarshal([]byte(row.Tags), &rec.Tags); err != nil {
			return nil, fmt.Errorf("decode tags of %q: %w", row.ID, err)
		}
		if len(rec.Tags) == 0 {
			rec.Tags = nil
		}
	}
	if row.AccessDate != nil {
		t := time.UnixMicro(*row.AccessDate).UTC()
		rec.AccessDate = &t
	}
	return rec, nil
}

// Config options for the SQLite repository
type Config struct {
	Path string // Database file
}

// Repository implements filestore.MetadataStore using SQLite
type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

// Open opens or creates the database at config.Path and migrates its schema.
func Open(config Config) (*Repository, error) {
	if config.Path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// journal_mode(WAL) lets readers run beside the single writer;
	// busy_timeout(5000) waits up to 5 seconds for a locked database.
	dsn := config.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&fileRow{}); err != nil {
		return nil, fmt.Errorf("failed to run database migration: %w", err)
	}

	return &Repository{db: db, now: filestore.Now}, nil
}

// isUniqueConstraintError checks if the error is a unique constraint violation.
func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (r *Repository) storageError(op, id string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: file %q", filestore.ErrNotFound, id)
	}
	return filestore.NewStorageError(backendName, op, id, err)
}

func (r *Repository) Put(ctx context.Context, id string, fields filestore.FileFields) (*filestore.FileRecord, error) {
	rec := filestore.NewFileRecord(id, fields, r.now())
	row, err := toRow(rec)
	if err != nil {
		return nil, err
	}

	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, fmt.Errorf("%w: file %q", filestore.ErrConflict, id)
		}
		return nil, r.storageError("put", id, err)
	}
	return rec, nil
}

func (r *Repository) Get(ctx context.Context, id string) (*filestore.FileRecord, error) {
	var row fileRow
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, r.storageError("get", id, err)
	}
	return row.record()
}

func (r *Repository) Has(ctx context.Context, id string) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&fileRow{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, r.storageError("has", id, err)
	}
	return n > 0, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&fileRow{})
	return r.checkOne("delete", id, result)
}

func (r *Repository) SetDeleted(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&fileRow{}).Where("id = ?", id).Updates(map[string]interface{}{
		"is_deleted":  true,
		"update_date": gorm.Expr("MAX(update_date, ?)", r.now().UnixMicro()),
	})
	return r.checkOne("set_deleted", id, result)
}

func (r *Repository) SetAccessDate(ctx context.Context, id string, when time.Time) error {
	result := r.db.WithContext(ctx).Model(&fileRow{}).Where("id = ?", id).
		Update("access_date", filestore.Timestamp(when).UnixMicro())
	return r.checkOne("set_access_date", id, result)
}

func (r *Repository) SetUpdated(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&fileRow{}).Where("id = ?", id).
		Update("update_date", gorm.Expr("MAX(update_date, ?)", r.now().UnixMicro()))
	return r.checkOne("set_updated", id, result)
}

// checkOne maps a write that matched no row to ErrNotFound.
func (r *Repository) checkOne(op, id string, result *gorm.DB) error {
	if result.Error != nil {
		return r.storageError(op, id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: file %q", filestore.ErrNotFound, id)
	}
	return nil
}

// scope applies the filters of q.
func scope(db *gorm.DB, q filestore.Query) *gorm.DB {
	if q.ContentHash != "" {
		db = db.Where("content_hash = ?", q.ContentHash)
	}
	if q.UpdatedSince != nil {
		db = db.Where("update_date >= ?", filestore.WindowStart(*q.UpdatedSince).UnixMicro())
	}
	if q.Deleted != nil {
		db = db.Where("is_deleted = ?", *q.Deleted)
	}
	if q.Tag != "" {
		db = db.Where("EXISTS (SELECT 1 FROM json_each(files.tags) WHERE json_each.value = ?)", q.Tag)
	}
	return db
}

func orderBy(order filestore.SortOrder) string {
	switch order {
	case filestore.SortUpdateDesc:
		return "update_date DESC, id ASC"
	case filestore.SortUpdateAsc:
		return "update_date ASC, id ASC"
	case filestore.SortCreateDesc:
		return "create_date DESC, id ASC"
	default:
		return "id ASC"
	}
}

func (r *Repository) Find(ctx context.Context, q filestore.Query, opts filestore.FindOptions) ([]*filestore.FileRecord, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	db := scope(r.db.WithContext(ctx).Model(&fileRow{}), q).Order(orderBy(opts.Sort))
	if opts.Limit > 0 {
		db = db.Limit(opts.Limit)
	} else {
		db = db.Limit(-1)
	}
	if opts.Skip > 0 {
		db = db.Offset(opts.Skip)
	}

	var rows []fileRow
	if err := db.Find(&rows).Error; err != nil {
		return nil, r.storageError("find", "", err)
	}

	records := make([]*filestore.FileRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].record()
		if err != nil {
			return nil, r.storageError("find", rows[i].ID, err)
		}
		records = append(records, rec)
	}

	filestore.ApplySelect(records, opts.Select)
	return records, nil
}

func (r *Repository) Count(ctx context.Context, q filestore.Query) (int64, error) {
	var n int64
	if err := scope(r.db.WithContext(ctx).Model(&fileRow{}), q).Count(&n).Error; err != nil {
		return 0, r.storageError("count", "", err)
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

// Close closes the underlying connection pool.
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
