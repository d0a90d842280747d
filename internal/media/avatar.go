// Package media processes and stores agent avatars.
package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"

	// Registered decoders for uploads.
	_ "image/gif"
	_ "image/png"

	"github.com/nfnt/resize"
)

const (
	// AvatarSize is the edge length of a stored avatar in pixels.
	AvatarSize = 200
	// MaxUploadSize is the largest accepted upload in bytes.
	MaxUploadSize = 2 << 20
	// ContentType of every processed avatar.
	ContentType = "image/jpeg"

	jpegQuality = 85
)

var (
	// ErrTooLarge is returned for uploads over MaxUploadSize.
	ErrTooLarge = errors.New("file too large")
	// ErrNotImage is returned when the upload is not a decodable image.
	ErrNotImage = errors.New("not an image")
)

// ProcessAvatar decodes an image, crops it to a centred square and returns
// it as a AvatarSize×AvatarSize JPEG.
func ProcessAvatar(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxUploadSize+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) > MaxUploadSize {
		return nil, ErrTooLarge
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotImage, err)
	}

	square := cropSquare(src)
	out := resize.Resize(AvatarSize, AvatarSize, square, resize.Lanczos3)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode avatar: %w", err)
	}
	return buf.Bytes(), nil
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

func cropSquare(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == h {
		return img
	}
	side := min(w, h)
	x0 := b.Min.X + (w-side)/2
	y0 := b.Min.Y + (h-side)/2
	rect := image.Rect(x0, y0, x0+side, y0+side)

	if si, ok := img.(subImager); ok {
		return si.SubImage(rect)
	}
	dst := image.NewRGBA(image.Rect(0, 0, side, side))
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			dst.Set(x, y, img.At(x0+x, y0+y))
		}
	}
	return dst
}

// ObjectName is the storage key of an agent's avatar.
func ObjectName(agentID string) string {
	return "avatars/" + agentID + ".jpg"
}
