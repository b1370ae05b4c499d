package filestore

import (
	"fmt"
	"slices"
	"sort"
	"time"
)

// SortOrder selects the order of Find results.
type SortOrder int

const (
	// SortNone leaves the order to the backend.
	SortNone SortOrder = iota
	// SortUpdateDesc orders by update date, newest first.
	SortUpdateDesc
	// SortUpdateAsc orders by update date, oldest first.
	SortUpdateAsc
	// SortCreateDesc orders by creation date, newest first.
	SortCreateDesc
)

// Query filters records. Zero-valued fields do not constrain the result.
type Query struct {
	ContentHash  string
	UpdatedSince *time.Time
	Deleted      *bool
	Tag          string
}

// FindOptions controls projection, order and pagination of Find.
// Limit 0 means no limit.
type FindOptions struct {
	Select []string
	Sort   SortOrder
	Skip   int
	Limit  int
}

// Selectable field names, as they appear in JSON.
const (
	FieldID            = "id"
	FieldContentHash   = "contentHash"
	FieldContentType   = "contentType"
	FieldContentLength = "contentLength"
	FieldName          = "name"
	FieldTags          = "tags"
	FieldCreateDate    = "createDate"
	FieldUpdateDate    = "updateDate"
	FieldAccessDate    = "accessDate"
	FieldIsDeleted     = "isDeleted"
)

var selectableFields = []string{
	FieldID, FieldContentHash, FieldContentType, FieldContentLength, FieldName,
	FieldTags, FieldCreateDate, FieldUpdateDate, FieldAccessDate, FieldIsDeleted,
}

// UpdatedSince is a Query matching the change feed window.
func UpdatedSince(since time.Time) Query {
	since = WindowStart(since)
	return Query{UpdatedSince: &since}
}

// ByContentHash is a Query matching every record that references hash.
func ByContentHash(hash string) Query {
	return Query{ContentHash: hash}
}

// Validate checks the options.
func (o FindOptions) Validate() error {
	if o.Skip < 0 || o.Limit < 0 {
		return fmt.Errorf("%w: skip and limit must not be negative", ErrValidation)
	}
	for _, f := range o.Select {
		if !slices.Contains(selectableFields, f) {
			return fmt.Errorf("%w: unknown field %q", ErrValidation, f)
		}
	}
	return nil
}

// Matches reports whether r satisfies q.
func (q Query) Matches(r *FileRecord) bool {
	if q.ContentHash != "" && r.ContentHash != q.ContentHash {
		return false
	}
	if q.UpdatedSince != nil && r.UpdateDate.Before(WindowStart(*q.UpdatedSince)) {
		return false
	}
	if q.Deleted != nil && r.IsDeleted != *q.Deleted {
		return false
	}
	if q.Tag != "" && !slices.Contains(r.Tags, q.Tag) {
		return false
	}
	return true
}

// SortRecords orders records in place. Ties are broken by id so that
// pagination is stable.
func SortRecords(records []*FileRecord, order SortOrder) {
	var less func(a, b *FileRecord) bool
	switch order {
	case SortUpdateDesc:
		less = func(a, b *FileRecord) bool {
			if !a.UpdateDate.Equal(b.UpdateDate) {
				return a.UpdateDate.After(b.UpdateDate)
			}
			return a.ID < b.ID
		}
	case SortUpdateAsc:
		less = func(a, b *FileRecord) bool {
			if !a.UpdateDate.Equal(b.UpdateDate) {
				return a.UpdateDate.Before(b.UpdateDate)
			}
			return a.ID < b.ID
		}
	case SortCreateDesc:
		less = func(a, b *FileRecord) bool {
			if !a.CreateDate.Equal(b.CreateDate) {
				return a.CreateDate.After(b.CreateDate)
			}
			return a.ID < b.ID
		}
	default:
		less = func(a, b *FileRecord) bool { return a.ID < b.ID }
	}
	sort.SliceStable(records, func(i, j int) bool { return less(records[i], records[j]) })
}

// Paginate applies skip and limit to records.
func Paginate(records []*FileRecord, skip, limit int) []*FileRecord {
	if skip >= len(records) {
		return []*FileRecord{}
	}
	records = records[skip:]
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records
}

// ApplySelect zeroes every field of the records not named in fields.
// The id is always kept. An empty selection keeps everything.
func ApplySelect(records []*FileRecord, fields []string) {
	if len(fields) == 0 {
		return
	}
	keep := func(f string) bool { return slices.Contains(fields, f) }
	for _, r := range records {
		if !keep(FieldContentHash) {
			r.ContentHash = ""
		}
		if !keep(FieldContentType) {
			r.ContentType = ""
		}
		if !keep(FieldContentLength) {
			r.ContentLength = 0
		}
		if !keep(FieldName) {
			r.Name = ""
		}
		if !keep(FieldTags) {
			r.Tags = nil
		}
		if !keep(FieldCreateDate) {
			r.CreateDate = time.Time{}
		}
		if !keep(FieldUpdateDate) {
			r.UpdateDate = time.Time{}
		}
		if !keep(FieldAccessDate) {
			r.AccessDate = nil
		}
		if !keep(FieldIsDeleted) {
			r.IsDeleted = false
		}
	}
}

// FindIn evaluates a Find over an in-memory candidate set. Backends without a
// query engine (memory, badger) use it after loading candidates.
func FindIn(candidates []*FileRecord, q Query, opts FindOptions) []*FileRecord {
	matched := make([]*FileRecord, 0, len(candidates))
	for _, r := range candidates {
		if q.Matches(r) {
			matched = append(matched, r)
		}
	}
	SortRecords(matched, opts.Sort)
	matched = Paginate(matched, opts.Skip, opts.Limit)
	ApplySelect(matched, opts.Select)
	return matched
}
