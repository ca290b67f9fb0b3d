package media

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/puyokura/vibechat/config"
	"github.com/puyokura/vibechat/model"
)

func noisyPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 7), uint8(y * 13), uint8(x ^ y), 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testConfig() config.MediaConfig {
	return config.MediaConfig{
		MaxInputBytes:      1 << 20,
		CompressAboveBytes: 256,
		MaxEdge:            64,
		Quality:            80,
	}
}

func TestPrepare_CompressesLargeImages(t *testing.T) {
	p := New(testConfig())
	data := noisyPNG(t, 200, 100)
	require.Greater(t, len(data), 256)

	res, err := p.Prepare("cat.png", "image/png", data)
	require.NoError(t, err)
	assert.True(t, res.Compressed)
	assert.Equal(t, int64(len(data)), res.OriginalSize)
	assert.Equal(t, "cat.jpg", res.Attachment.Filename)
	assert.Equal(t, "image/jpeg", res.Attachment.ContentType)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(res.Attachment.Data))
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Width)
	assert.Equal(t, 32, cfg.Height)
}

func TestPrepare_SmallImagesPassThrough(t *testing.T) {
	cfg := testConfig()
	cfg.CompressAboveBytes = 1 << 20
	data := noisyPNG(t, 20, 20)

	res, err := New(cfg).Prepare("dot.png", "", data)
	require.NoError(t, err)
	assert.False(t, res.Compressed)
	assert.Equal(t, data, res.Attachment.Data)
	assert.Equal(t, "image/png", res.Attachment.ContentType)
}

func TestPrepare_NormalizesJPGType(t *testing.T) {
	cfg := testConfig()
	cfg.CompressAboveBytes = 1 << 20
	res, err := New(cfg).Prepare("a.jpg", "image/jpg", []byte{0xff, 0xd8, 0xff})
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", res.Attachment.ContentType)
}

func TestPrepare_Rejections(t *testing.T) {
	p := New(testConfig())

	_, err := p.Prepare("doc.pdf", "application/pdf", []byte("%PDF-1.4"))
	assert.ErrorIs(t, err, ErrUnsupportedType)

	cfg := testConfig()
	cfg.MaxInputBytes = 10
	_, err = New(cfg).Prepare("big.png", "image/png", make([]byte, 11))
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = p.Prepare("broken.png", "image/png", bytes.Repeat([]byte{0x42}, 1024))
	assert.ErrorIs(t, err, ErrCompression)
}

// pngHeader is a PNG that declares w×h pixels but carries no image data.
func pngHeader(w, h uint32, pad int) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], w)
	binary.BigEndian.PutUint32(ihdr[4:], h)
	ihdr[8], ihdr[9] = 8, 2 // 8-bit truecolor

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	buf.WriteString("IHDR")
	buf.Write(ihdr)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(append([]byte("IHDR"), ihdr...)))
	buf.Write(make([]byte, pad))
	return buf.Bytes()
}

func TestPrepare_RejectsHugeDimensionsBeforeDecoding(t *testing.T) {
	data := pngHeader(50000, 50000, 1024)
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 50000, cfg.Width)

	_, err = New(testConfig()).Prepare("bomb.png", "image/png", data)
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.NotErrorIs(t, err, ErrCompression)
}

func TestPrepareFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "photo.png")
	require.NoError(t, os.WriteFile(path, noisyPNG(t, 100, 200), 0o600))

	res, err := New(testConfig()).PrepareFile(path)
	require.NoError(t, err)
	assert.Equal(t, "photo.jpg", res.Attachment.Filename)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(res.Attachment.Data))
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Width)
	assert.Equal(t, 64, cfg.Height)

	small := testConfig()
	small.MaxInputBytes = 8
	_, err = New(small).PrepareFile(path)
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = New(testConfig()).PrepareFile(filepath.Join(dir, "missing.png"))
	assert.Error(t, err)
}

func TestFit(t *testing.T) {
	w, h := fit(3840, 2160, 1920)
	assert.Equal(t, [2]int{1920, 1080}, [2]int{w, h})
	w, h = fit(1000, 4000, 1920)
	assert.Equal(t, [2]int{480, 1920}, [2]int{w, h})
	w, h = fit(800, 600, 1920)
	assert.Equal(t, [2]int{800, 600}, [2]int{w, h})
	w, h = fit(5000, 1, 100)
	assert.Equal(t, [2]int{100, 1}, [2]int{w, h})
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "1.50MB", FormatSize(3<<19))
}

func TestPreview_ReleaseRemovesFile(t *testing.T) {
	p, err := NewPreview(model.Attachment{Filename: "a.png", Data: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, ".png", filepath.Ext(p.Path()))

	_, err = os.Stat(p.Path())
	require.NoError(t, err)

	require.NoError(t, p.Release())
	require.NoError(t, p.Release())
	_, err = os.Stat(p.Path())
	assert.True(t, os.IsNotExist(err))

	var nilPreview *Preview
	assert.NoError(t, nilPreview.Release())
}
