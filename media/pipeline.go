// Package media validates and shrinks images before they are uploaded.
package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // register decoder
	"image/jpeg"
	_ "image/png" // register decoder
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register decoder

	"github.com/puyokura/vibechat/config"
	"github.com/puyokura/vibechat/model"
)

var (
	ErrUnsupportedType = errors.New("unsupported image type")
	ErrTooLarge        = errors.New("image too large")
	ErrCompression     = errors.New("image compression failed")
)

var supported = map[string]string{
	"image/jpeg": "image/jpeg",
	"image/jpg":  "image/jpeg",
	"image/png":  "image/png",
	"image/webp": "image/webp",
	"image/gif":  "image/gif",
}

// Result is a prepared attachment plus what the pipeline did to it.
type Result struct {
	Attachment   model.Attachment
	OriginalSize int64
	Compressed   bool
}

// Pipeline prepares outbound images. Inputs over the compression threshold
// are re-encoded as JPEG with the longest edge bounded; smaller inputs pass
// through untouched.
type Pipeline struct {
	cfg config.MediaConfig
}

func New(cfg config.MediaConfig) *Pipeline {
	return &Pipeline{cfg: cfg}
}

// Prepare validates data and compresses it when needed. An empty contentType
// is sniffed from the data.
func (p *Pipeline) Prepare(filename, contentType string, data []byte) (Result, error) {
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	ct, ok := supported[strings.ToLower(strings.TrimSpace(contentType))]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}

	size := int64(len(data))
	if size > p.cfg.MaxInputBytes {
		return Result{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, size, p.cfg.MaxInputBytes)
	}

	res := Result{
		Attachment:   model.Attachment{Filename: filename, ContentType: ct, Data: data},
		OriginalSize: size,
	}
	if size <= p.cfg.CompressAboveBytes {
		return res, nil
	}

	out, err := p.compress(data)
	if errors.Is(err, ErrTooLarge) {
		return Result{}, err
	}
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrCompression, err)
	}
	res.Attachment = model.Attachment{
		Filename:    strings.TrimSuffix(filename, filepath.Ext(filename)) + ".jpg",
		ContentType: "image/jpeg",
		Data:        out,
	}
	res.Compressed = true
	return res, nil
}

// PrepareFile reads path and runs it through Prepare. The size limit is
// checked before the file is read.
func (p *Pipeline) PrepareFile(path string) (Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Result{}, err
	}
	if info.IsDir() {
		return Result{}, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > p.cfg.MaxInputBytes {
		return Result{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, info.Size(), p.cfg.MaxInputBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, err
	}
	ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return p.Prepare(filepath.Base(path), ct, data)
}

// maxPixels bounds the decoded size of an image, whatever its encoded size.
const maxPixels = 40 << 20

func (p *Pipeline) compress(data []byte) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d pixels", ErrTooLarge, cfg.Width, cfg.Height)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding: %w", err)
	}

	w, h := fit(src.Bounds().Dx(), src.Bounds().Dy(), p.cfg.MaxEdge)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: p.cfg.Quality}); err != nil {
		return nil, fmt.Errorf("encoding: %w", err)
	}
	return buf.Bytes(), nil
}

// fit scales w×h down so the longest edge is at most maxEdge, keeping the
// aspect ratio. Images already within bounds keep their size.
func fit(w, h, maxEdge int) (int, int) {
	if maxEdge <= 0 || (w <= maxEdge && h <= maxEdge) {
		return w, h
	}
	if w >= h {
		return maxEdge, max(1, h*maxEdge/w)
	}
	return max(1, w*maxEdge/h), maxEdge
}

// FormatSize renders n bytes as megabytes with two decimals.
func FormatSize(n int64) string {
	return fmt.Sprintf("%.2fMB", float64(n)/(1<<20))
}
