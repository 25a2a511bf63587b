package wizard

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const (
	// MaxDocumentBytes caps each supporting file.
	MaxDocumentBytes = 2 << 20

	MaxDocuments = 3
)

var ErrFileTooLarge = errors.New("file exceeds 2MB limit")

// DocumentSlot is one supporting document in the wizard: display name,
// document-type number, and the file once read.
type DocumentSlot struct {
	Name    string
	Number  string
	content string
}

// AttachFile stores the raw file as an inline data URL. An oversized file is
// rejected and the slot is left exactly as it was.
func (d *DocumentSlot) AttachFile(data []byte, mimeType string) error {
	if len(data) == 0 {
		return errors.New("file is empty")
	}
	if len(data) > MaxDocumentBytes {
		return fmt.Errorf("%w (%d bytes)", ErrFileTooLarge, len(data))
	}
	if strings.TrimSpace(mimeType) == "" {
		mimeType = "application/octet-stream"
	}
	d.content = "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
	return nil
}

func (d *DocumentSlot) ClearFile() { d.content = "" }

func (d *DocumentSlot) HasFile() bool { return d.content != "" }

func (d *DocumentSlot) Content() string { return d.content }

// Complete reports whether the slot can go into a submission.
func (d *DocumentSlot) Complete() bool {
	return strings.TrimSpace(d.Name) != "" &&
		strings.TrimSpace(d.Number) != "" &&
		d.content != ""
}
