// Package archive uploads captured frames to an S3-compatible bucket
// (AWS S3 or MinIO).
//
// Uploads are write-once: a frame whose key already exists is rejected
// rather than overwritten. Keys have the form
//
//	<prefix>/<serial>/<utc timestamp>.<extension>
//
// Callers treat archiving as best-effort; a failed upload never fails the
// capture that produced it.
package archive
