package media

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/puyokura/vibechat/model"
)

// Preview is a temporary local copy of an attachment that a viewer can open.
// It must be released when the attachment is replaced or discarded.
type Preview struct {
	path string
	once sync.Once
	err  error
}

// NewPreview writes att to a temporary file.
func NewPreview(att model.Attachment) (*Preview, error) {
	ext := filepath.Ext(att.Filename)
	f, err := os.CreateTemp("", "vibechat-preview-*"+ext)
	if err != nil {
		return nil, fmt.Errorf("creating preview: %w", err)
	}
	if _, err := f.Write(att.Data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("writing preview: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("writing preview: %w", err)
	}
	return &Preview{path: f.Name()}, nil
}

func (p *Preview) Path() string {
	return p.path
}

// Release removes the temporary file. Repeated calls return the first result.
func (p *Preview) Release() error {
	if p == nil {
		return nil
	}
	p.once.Do(func() {
		if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
			p.err = err
		}
	})
	return p.err
}
