package compose

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/puyokura/vibechat/config"
	"github.com/puyokura/vibechat/media"
	"github.com/puyokura/vibechat/model"
	"github.com/puyokura/vibechat/notify"
)

type fakeSender struct {
	err   error
	calls []model.OutgoingMessage
}

func (f *fakeSender) Send(_ context.Context, recipientID string, out model.OutgoingMessage) (model.Message, error) {
	f.calls = append(f.calls, out)
	if f.err != nil {
		return model.Message{}, f.err
	}
	return model.Message{ID: "m1", SenderID: "me", ReceiverID: recipientID, Text: out.Text, CreatedAt: time.Now()}, nil
}

// gatedSender blocks each Send until release is closed.
type gatedSender struct {
	fakeSender
	mu      sync.Mutex
	started chan struct{}
	release chan struct{}
}

func newGatedSender() *gatedSender {
	return &gatedSender{started: make(chan struct{}, 4), release: make(chan struct{})}
}

func (g *gatedSender) Send(ctx context.Context, recipientID string, out model.OutgoingMessage) (model.Message, error) {
	g.mu.Lock()
	msg, err := g.fakeSender.Send(ctx, recipientID, out)
	g.mu.Unlock()
	g.started <- struct{}{}
	<-g.release
	return msg, err
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 31), uint8(y * 17), uint8(x + y), 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestDraft(t *testing.T) (*Draft, *notify.Queue) {
	t.Helper()
	cfg := config.Default().Client.Media
	cfg.CompressAboveBytes = 512
	cfg.MaxEdge = 32
	queue := notify.NewQueue(8)
	return NewDraft(media.New(cfg), cfg.MaxInputBytes, queue), queue
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestAttachImage_ReplacingReleasesPreview(t *testing.T) {
	d, _ := newTestDraft(t)

	require.NoError(t, d.AttachImage("a.png", "image/png", pngBytes(t, 8, 8)))
	_, first := d.Image()
	require.True(t, exists(first))

	require.NoError(t, d.AttachImage("b.png", "image/png", pngBytes(t, 8, 8)))
	att, second := d.Image()
	assert.Equal(t, "b.png", att.Filename)
	assert.False(t, exists(first), "superseded preview is released")
	assert.True(t, exists(second))

	require.NoError(t, d.RemoveImage())
	assert.False(t, exists(second))
	att, path := d.Image()
	assert.Nil(t, att)
	assert.Empty(t, path)
}

func TestAttachImage_FailureKeepsPrevious(t *testing.T) {
	d, queue := newTestDraft(t)
	require.NoError(t, d.AttachImage("a.png", "image/png", pngBytes(t, 8, 8)))
	_, path := d.Image()

	err := d.AttachImage("a.txt", "text/plain", []byte("hello"))
	assert.ErrorIs(t, err, media.ErrUnsupportedType)
	assert.Equal(t, "Please select a valid image file (JPEG, PNG, WebP, GIF)", queue.Drain()[0].Text)

	err = d.AttachImage("big.png", "image/png", make([]byte, 11<<20))
	assert.ErrorIs(t, err, media.ErrTooLarge)
	assert.Equal(t, "Image is too large (max 10MB)", queue.Drain()[0].Text)

	err = d.AttachImage("bad.png", "image/png", bytes.Repeat([]byte{1}, 4096))
	assert.ErrorIs(t, err, media.ErrCompression)
	assert.Equal(t, "Failed to compress image", queue.Drain()[0].Text)

	_, still := d.Image()
	assert.Equal(t, path, still)
	assert.True(t, exists(path))
	require.NoError(t, d.Reset())
}

func TestAttachImage_ReportsCompression(t *testing.T) {
	d, queue := newTestDraft(t)
	require.NoError(t, d.AttachImage("big.png", "image/png", pngBytes(t, 300, 300)))

	att, _ := d.Image()
	assert.Equal(t, "image/jpeg", att.ContentType)
	items := queue.Drain()
	require.Len(t, items, 1)
	assert.Contains(t, items[0].Text, "Image compressed: ")
	assert.Contains(t, items[0].Text, "MB → ")
	require.NoError(t, d.Reset())
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()

	t.Run("empty draft makes no call", func(t *testing.T) {
		d, queue := newTestDraft(t)
		s := &fakeSender{}
		d.SetText("   ")
		_, err := d.Submit(ctx, s, "bob")
		assert.ErrorIs(t, err, ErrEmptyDraft)
		assert.Empty(t, s.calls)
		assert.Empty(t, queue.Drain())
	})

	t.Run("missing recipient makes no call", func(t *testing.T) {
		d, queue := newTestDraft(t)
		s := &fakeSender{}
		d.SetText("hi")
		_, err := d.Submit(ctx, s, "")
		assert.ErrorIs(t, err, ErrNoRecipient)
		assert.Empty(t, s.calls)
		assert.Equal(t, "Please select a user to send message to", queue.Drain()[0].Text)
	})

	t.Run("success resets the form", func(t *testing.T) {
		d, queue := newTestDraft(t)
		s := &fakeSender{}
		d.SetText("  hello ")
		require.NoError(t, d.AttachImage("a.png", "image/png", pngBytes(t, 4, 4)))
		_, path := d.Image()

		msg, err := d.Submit(ctx, s, "bob")
		require.NoError(t, err)
		assert.Equal(t, "m1", msg.ID)
		require.Len(t, s.calls, 1)
		assert.Equal(t, "hello", s.calls[0].Text)
		assert.NotNil(t, s.calls[0].Image)

		assert.Empty(t, d.Text())
		att, _ := d.Image()
		assert.Nil(t, att)
		assert.False(t, exists(path))
		assert.Equal(t, "Message sent!", queue.Drain()[0].Text)
	})

	t.Run("failure keeps the form", func(t *testing.T) {
		d, queue := newTestDraft(t)
		s := &fakeSender{err: errors.New("boom")}
		d.SetText("hello")

		_, err := d.Submit(ctx, s, "bob")
		require.Error(t, err)
		assert.Equal(t, "hello", d.Text())
		assert.Empty(t, queue.Drain())
	})

	t.Run("pending send owns its image", func(t *testing.T) {
		d, _ := newTestDraft(t)
		s := newGatedSender()
		d.SetText("first")
		require.NoError(t, d.AttachImage("a.png", "image/png", pngBytes(t, 4, 4)))
		_, path := d.Image()

		done := make(chan error, 1)
		go func() {
			_, err := d.Submit(ctx, s, "bob")
			done <- err
		}()
		<-s.started

		assert.Empty(t, d.Text())
		att, _ := d.Image()
		assert.Nil(t, att, "the form is free while the first send is pending")

		d.SetText("second")
		go func() {
			_, err := d.Submit(ctx, s, "bob")
			done <- err
		}()
		<-s.started
		close(s.release)
		require.NoError(t, <-done)
		require.NoError(t, <-done)

		s.mu.Lock()
		defer s.mu.Unlock()
		require.Len(t, s.calls, 2)
		assert.Equal(t, "first", s.calls[0].Text)
		assert.NotNil(t, s.calls[0].Image)
		assert.Equal(t, "second", s.calls[1].Text)
		assert.Nil(t, s.calls[1].Image, "the image is sent once")
		assert.False(t, exists(path))
	})

	t.Run("failure does not overwrite newer input", func(t *testing.T) {
		d, _ := newTestDraft(t)
		s := newGatedSender()
		s.err = errors.New("boom")
		d.SetText("first")
		require.NoError(t, d.AttachImage("a.png", "image/png", pngBytes(t, 4, 4)))
		_, firstPath := d.Image()

		done := make(chan error, 1)
		go func() {
			_, err := d.Submit(ctx, s, "bob")
			done <- err
		}()
		<-s.started
		d.SetText("typed meanwhile")
		close(s.release)
		require.Error(t, <-done)

		assert.Equal(t, "typed meanwhile", d.Text())
		att, path := d.Image()
		require.NotNil(t, att, "the image comes back")
		assert.Equal(t, firstPath, path)
		assert.True(t, exists(path))
		require.NoError(t, d.Reset())
	})
}
