package filestore

import (
	"context"
	"errors"
	"log/slog"
)

// NoopEventSink is a no-operation implementation of EventSink
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

// FileCreated does nothing and returns nil
func (n *NoopEventSink) FileCreated(ctx context.Context, record *FileRecord) error {
	return nil
}

// FileSoftDeleted does nothing and returns nil
func (n *NoopEventSink) FileSoftDeleted(ctx context.Context, id string) error {
	return nil
}

// FileDeleted does nothing and returns nil
func (n *NoopEventSink) FileDeleted(ctx context.Context, id, hash string, blobRemoved bool) error {
	return nil
}

// LoggingEventSink is an event sink that logs events but takes no other action.
// Useful for development and debugging
type LoggingEventSink struct {
	logger *slog.Logger
}

// NewLoggingEventSink creates a new logging event sink
func NewLoggingEventSink(logger *slog.Logger) EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingEventSink{logger: logger}
}

// FileCreated logs the file creation event
func (l *LoggingEventSink) FileCreated(ctx context.Context, record *FileRecord) error {
	l.logger.InfoContext(ctx, "Added", "id", record.ID, "hash", record.ContentHash, "content_type", record.ContentType)
	return nil
}

// FileSoftDeleted logs the soft delete event
func (l *LoggingEventSink) FileSoftDeleted(ctx context.Context, id string) error {
	l.logger.InfoContext(ctx, "Deleted", "id", id, "soft", true)
	return nil
}

// FileDeleted logs the hard delete event
func (l *LoggingEventSink) FileDeleted(ctx context.Context, id, hash string, blobRemoved bool) error {
	l.logger.InfoContext(ctx, "Deleted", "id", id, "hash", hash, "blob_removed", blobRemoved)
	return nil
}

type multiEventSink []EventSink

// NewMultiEventSink fans events out to every sink. Errors are joined.
func NewMultiEventSink(sinks ...EventSink) EventSink {
	return multiEventSink(sinks)
}

func (m multiEventSink) FileCreated(ctx context.Context, record *FileRecord) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.FileCreated(ctx, record))
	}
	return errors.Join(errs...)
}

func (m multiEventSink) FileSoftDeleted(ctx context.Context, id string) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.FileSoftDeleted(ctx, id))
	}
	return errors.Join(errs...)
}

func (m multiEventSink) FileDeleted(ctx context.Context, id, hash string, blobRemoved bool) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.FileDeleted(ctx, id, hash, blobRemoved))
	}
	return errors.Join(errs...)
}
