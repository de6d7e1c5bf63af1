package domain

import (
	"strings"
	"time"
)

// Storage backend labels recorded on a File.
const (
	StorageRemote = "remote"
	StorageLocal  = "local"
)

// File is the metadata record of an uploaded file.
// The owning user is referenced by UserID; the reference is not enforced transactionally.
type File struct {
	// ID is the unique identifier ("file_...").
	ID string `json:"id" bson:"_id"`

	// UserID is the owner.
	UserID string `json:"userId" bson:"userId"`

	// OriginalName is the client-supplied filename.
	OriginalName string `json:"originalName" bson:"originalName"`

	// RemoteID is the object identifier assigned by the object store.
	RemoteID string `json:"remoteId" bson:"remoteId"`

	// URL is the public URL of the object.
	URL string `json:"url" bson:"url"`

	// Size is the byte size of the object.
	Size int64 `json:"size" bson:"size"`

	// MimeType is the content type of the upload.
	MimeType string `json:"mimetype" bson:"mimetype"`

	// Format is the file extension without the dot (e.g. "png").
	Format string `json:"format" bson:"format"`

	// Width and Height are set for images only.
	Width  *int `json:"width,omitempty" bson:"width,omitempty"`
	Height *int `json:"height,omitempty" bson:"height,omitempty"`

	// Checksum is the hex SHA-256 of the content.
	Checksum string `json:"checksum,omitempty" bson:"checksum,omitempty"`

	// Folder is the grouping label.
	Folder string `json:"folder" bson:"folder"`

	// Tags is the set of labels attached at upload time.
	Tags []string `json:"tags" bson:"tags"`

	// Storage is the label of the object-store backend that holds the bytes.
	Storage string `json:"storage" bson:"storage"`

	// UploadedAt is the creation timestamp.
	UploadedAt time.Time `json:"uploadedAt" bson:"uploadedAt"`
}

// Clone returns a deep copy of the file record.
func (f *File) Clone() *File {
	if f == nil {
		return nil
	}
	c := *f
	if f.Tags != nil {
		c.Tags = append([]string(nil), f.Tags...)
	}
	if f.Width != nil {
		w := *f.Width
		c.Width = &w
	}
	if f.Height != nil {
		h := *f.Height
		c.Height = &h
	}
	return &c
}

// FileFilter narrows a file listing.
type FileFilter struct {
	// Folder matches exactly; empty or "all" means no folder filter.
	Folder string

	// Format matches when the MIME type contains it; empty means no filter.
	Format string
}

// Matches reports whether the file passes the filter.
func (ff FileFilter) Matches(f *File) bool {
	if ff.Folder != "" && ff.Folder != "all" && f.Folder != ff.Folder {
		return false
	}
	if ff.Format != "" && !strings.Contains(f.MimeType, ff.Format) {
		return false
	}
	return true
}

// FileTotals aggregates a user's files.
type FileTotals struct {
	Files int64 `json:"files"`
	Bytes int64 `json:"storage"`
}

// ParseTags splits a comma separated tag list, trimming blanks.
func ParseTags(raw string) []string {
	tags := []string{}
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
