package media

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestProcessAvatarProducesSquareJPEG(t *testing.T) {
	tests := []struct {
		name string
		w, h int
	}{
		{"landscape", 400, 300},
		{"portrait", 120, 500},
		{"square", 64, 64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := ProcessAvatar(bytes.NewReader(encodePNG(t, tt.w, tt.h)))
			require.NoError(t, err)

			img, err := jpeg.Decode(bytes.NewReader(out))
			require.NoError(t, err)
			assert.Equal(t, AvatarSize, img.Bounds().Dx())
			assert.Equal(t, AvatarSize, img.Bounds().Dy())
		})
	}
}

func TestProcessAvatarRejectsGarbage(t *testing.T) {
	_, err := ProcessAvatar(bytes.NewReader([]byte("not an image")))
	assert.ErrorIs(t, err, ErrNotImage)
}

func TestProcessAvatarTooLarge(t *testing.T) {
	_, err := ProcessAvatar(bytes.NewReader(make([]byte, MaxUploadSize+10)))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestCropSquareCentres(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 300, 100))
	got := cropSquare(img)
	assert.Equal(t, image.Rect(100, 0, 200, 100), got.Bounds())
}

func TestLocalStore(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(dir, "http://localhost:8080/")
	require.NoError(t, err)
	ctx := context.Background()

	url, err := s.Put(ctx, "agent-1", []byte("jpeg"))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/avatars/agent-1.jpg", url)

	data, err := os.ReadFile(filepath.Join(s.Dir(), "agent-1.jpg"))
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), data)

	require.NoError(t, s.Delete(ctx, "agent-1"))
	require.NoError(t, s.Delete(ctx, "agent-1"))
	_, err = os.Stat(filepath.Join(s.Dir(), "agent-1.jpg"))
	assert.True(t, os.IsNotExist(err))
}
