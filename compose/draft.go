// Package compose holds the message being written: its text and at most one
// prepared image with a local preview.
package compose

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/puyokura/vibechat/media"
	"github.com/puyokura/vibechat/model"
	"github.com/puyokura/vibechat/notify"
)

var (
	ErrEmptyDraft  = errors.New("draft has neither text nor image")
	ErrNoRecipient = errors.New("no recipient selected")
)

// Sender posts a message. *chat.Store satisfies it.
type Sender interface {
	Send(ctx context.Context, recipientID string, out model.OutgoingMessage) (model.Message, error)
}

// Draft is the compose form. Every path that drops an attachment releases
// its preview.
type Draft struct {
	pipeline *media.Pipeline
	maxInput int64
	notifier notify.Notifier

	mu      sync.Mutex
	text    string
	image   *model.Attachment
	preview *media.Preview
}

func NewDraft(pipeline *media.Pipeline, maxInput int64, notifier notify.Notifier) *Draft {
	if notifier == nil {
		notifier = notify.Discard
	}
	return &Draft{pipeline: pipeline, maxInput: maxInput, notifier: notifier}
}

func (d *Draft) SetText(text string) {
	d.mu.Lock()
	d.text = text
	d.mu.Unlock()
}

func (d *Draft) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text
}

// Image returns the attached image and its preview path, or nil and "".
func (d *Draft) Image() (*model.Attachment, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.image == nil {
		return nil, ""
	}
	att := *d.image
	return &att, d.preview.Path()
}

// AttachImage prepares data and makes it the draft's image, replacing and
// releasing any previous one. On failure the previous image is kept.
func (d *Draft) AttachImage(filename, contentType string, data []byte) error {
	res, err := d.pipeline.Prepare(filename, contentType, data)
	return d.attach(res, err)
}

// AttachFile is AttachImage for a file on disk.
func (d *Draft) AttachFile(path string) error {
	res, err := d.pipeline.PrepareFile(path)
	return d.attach(res, err)
}

func (d *Draft) attach(res media.Result, err error) error {
	if err != nil {
		switch {
		case errors.Is(err, media.ErrUnsupportedType):
			notify.Error(d.notifier, "Please select a valid image file (JPEG, PNG, WebP, GIF)")
		case errors.Is(err, media.ErrTooLarge):
			notify.Error(d.notifier, fmt.Sprintf("Image is too large (max %dMB)", d.maxInput>>20))
		case errors.Is(err, media.ErrCompression):
			notify.Error(d.notifier, "Failed to compress image")
		default:
			notify.Error(d.notifier, "Failed to process image. Please try again.")
		}
		return err
	}

	if res.Compressed && int64(len(res.Attachment.Data)) < res.OriginalSize {
		notify.Success(d.notifier, fmt.Sprintf("Image compressed: %s → %s",
			media.FormatSize(res.OriginalSize), media.FormatSize(int64(len(res.Attachment.Data)))))
	}

	preview, err := media.NewPreview(res.Attachment)
	if err != nil {
		notify.Error(d.notifier, "Failed to process image. Please try again.")
		return err
	}

	att := res.Attachment
	d.mu.Lock()
	old := d.preview
	d.image = &att
	d.preview = preview
	d.mu.Unlock()

	return old.Release()
}

// RemoveImage drops the attached image.
func (d *Draft) RemoveImage() error {
	d.mu.Lock()
	old := d.preview
	d.image = nil
	d.preview = nil
	d.mu.Unlock()
	return old.Release()
}

// Reset clears the form.
func (d *Draft) Reset() error {
	d.SetText("")
	return d.RemoveImage()
}

// Submit sends the draft to recipientID through s. An empty draft or missing
// recipient fails before any network call. The text and image are taken out
// of the form before sending, so a second Submit during the send cannot pick
// them up again. On failure they are put back where the form is still empty;
// send failures themselves are reported by s.
func (d *Draft) Submit(ctx context.Context, s Sender, recipientID string) (model.Message, error) {
	d.mu.Lock()
	out := model.OutgoingMessage{Text: strings.TrimSpace(d.text)}
	if d.image != nil {
		att := *d.image
		out.Image = &att
	}
	if out.Empty() {
		d.mu.Unlock()
		return model.Message{}, ErrEmptyDraft
	}
	if recipientID == "" {
		d.mu.Unlock()
		notify.Error(d.notifier, "Please select a user to send message to")
		return model.Message{}, ErrNoRecipient
	}
	text, image, preview := d.text, d.image, d.preview
	d.text, d.image, d.preview = "", nil, nil
	d.mu.Unlock()

	msg, err := s.Send(ctx, recipientID, out)
	if err != nil {
		d.restore(text, image, preview)
		return model.Message{}, err
	}

	_ = preview.Release()
	notify.Success(d.notifier, "Message sent!")
	return msg, nil
}

// restore puts back what a failed Submit took, without overwriting anything
// written or attached since.
func (d *Draft) restore(text string, image *model.Attachment, preview *media.Preview) {
	d.mu.Lock()
	if d.text == "" {
		d.text = text
	}
	if d.image == nil {
		d.image, d.preview = image, preview
		preview = nil
	}
	d.mu.Unlock()
	_ = preview.Release()
}
