package model

import (
	"errors"
	"fmt"
)

// ContentKind tags a Content value.
type ContentKind uint8

const (
	ContentText ContentKind = iota + 1
	ContentFile
)

// FileType is the attachment kind shown by clients.
type FileType string

const (
	FileImage    FileType = "image"
	FileDocument FileType = "document"
)

// Content is the plaintext of a message: either text or a file reference.
type Content struct {
	Kind     ContentKind `json:"kind"`
	Text     string      `json:"text,omitempty"`
	FileURL  string      `json:"fileUrl,omitempty"`
	FileName string      `json:"fileName,omitempty"`
	FileType FileType    `json:"fileType,omitempty"`
}

// Text builds a text Content.
func Text(s string) Content { return Content{Kind: ContentText, Text: s} }

// File builds a file Content.
func File(url, name string, ft FileType) Content {
	return Content{Kind: ContentFile, FileURL: url, FileName: name, FileType: ft}
}

// Validate checks the variant invariants.
func (c Content) Validate() error {
	switch c.Kind {
	case ContentText:
		if c.Text == "" {
			return errors.New("empty text")
		}
		if c.FileURL != "" {
			return errors.New("text content carries a file")
		}
	case ContentFile:
		if c.FileURL == "" {
			return errors.New("empty file url")
		}
		if c.FileType != FileImage && c.FileType != FileDocument {
			return fmt.Errorf("unknown file type %q", c.FileType)
		}
		if c.Text != "" {
			return errors.New("file content carries text")
		}
	default:
		return fmt.Errorf("unknown content kind %d", c.Kind)
	}
	return nil
}
