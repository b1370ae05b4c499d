package filestore

import "time"

// FileMeta is the caller supplied part of a file record.
type FileMeta struct {
	ContentType   string   `json:"contentType" validate:"max=255"`
	ContentLength int64    `json:"contentLength" validate:"gte=0"`
	Name          string   `json:"name,omitempty" validate:"max=1024"`
	Tags          []string `json:"tags,omitempty" validate:"dive,required,max=256"`
}

// FileFields is what the file store hands to a MetadataStore on create:
// the caller's meta plus the hash of the stored content.
type FileFields struct {
	FileMeta
	ContentHash string `json:"contentHash"`
}

// FileRecord is the stored metadata of one logical file.
type FileRecord struct {
	ID            string     `json:"id"`
	ContentHash   string     `json:"contentHash"`
	ContentType   string     `json:"contentType"`
	ContentLength int64      `json:"contentLength"`
	Name          string     `json:"name,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
	CreateDate    time.Time  `json:"createDate"`
	UpdateDate    time.Time  `json:"updateDate"`
	AccessDate    *time.Time `json:"accessDate"`
	IsDeleted     bool       `json:"isDeleted"`
}

// NewFileRecord builds a fresh record for id stamped with now.
func NewFileRecord(id string, fields FileFields, now time.Time) *FileRecord {
	var tags []string
	if len(fields.Tags) > 0 {
		tags = append([]string(nil), fields.Tags...)
	}
	return &FileRecord{
		ID:            id,
		ContentHash:   fields.ContentHash,
		ContentType:   fields.ContentType,
		ContentLength: fields.ContentLength,
		Name:          fields.Name,
		Tags:          tags,
		CreateDate:    now,
		UpdateDate:    now,
	}
}

// Meta returns the caller supplied part of the record.
func (r *FileRecord) Meta() FileMeta {
	return FileMeta{
		ContentType:   r.ContentType,
		ContentLength: r.ContentLength,
		Name:          r.Name,
		Tags:          r.Tags,
	}
}

// Clone returns a deep copy of the record.
func (r *FileRecord) Clone() *FileRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.Tags != nil {
		c.Tags = append([]string(nil), r.Tags...)
	}
	if r.AccessDate != nil {
		t := *r.AccessDate
		c.AccessDate = &t
	}
	return &c
}

// Now returns the current time in the precision every backend persists.
func Now() time.Time {
	return Timestamp(time.Now())
}

// Timestamp normalizes t to UTC with microsecond precision.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// WindowStart returns the earliest stored timestamp not before t: t rounded
// up to the next microsecond. Change-feed windows compare against it so that
// every backend agrees on "UpdateDate >= t".
func WindowStart(t time.Time) time.Time {
	ts := Timestamp(t)
	if ts.Before(t) {
		ts = ts.Add(time.Microsecond)
	}
	return ts
}

// Bump returns the next update date for a record last updated at prev.
// Update dates never move backwards.
func Bump(prev, now time.Time) time.Time {
	if now.Before(prev) {
		return prev
	}
	return now
}
