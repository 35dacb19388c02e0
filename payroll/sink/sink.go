/*
Package sink delivers rendered payroll files to external storage.

PURPOSE:
  A payroll export is durable only once the same bytes sit on every
  configured sink. The exporter uploads to all sinks before it persists
  the export record and removes the files again when persisting fails.

IMPLEMENTATIONS:
  - s3.go:     S3-compatible object storage (bucket/folder/name)
  - sftp.go:   SFTP server (folder/name)
  - memory.go: In-process map for tests and development

SEE ALSO:
  - payroll/exporter.go: Dual upload and rollback
*/
package sink

import (
	"context"
	"path"
)

// Sink stores named files.
type Sink interface {
	// Name identifies the sink in logs and errors.
	Name() string

	// Upload stores content under name, replacing an existing file.
	Upload(ctx context.Context, name string, content []byte) error

	// Remove deletes a file. Removing a missing file is not an error.
	Remove(ctx context.Context, name string) error
}

// objectPath joins the configured folder and the file name.
func objectPath(folder, name string) string {
	if folder == "" {
		return name
	}
	return path.Join(folder, name)
}
