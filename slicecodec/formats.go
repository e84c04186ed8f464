package slicecodec

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/janelia-flyem/go/go.image/tiff"
)

func init() {
	Register(JPEG{}, "jpeg")
	Register(PNG{})
	Register(TIFF{}, "tif")
}

func checkImage(img *image.Gray) error {
	if img == nil || img.Bounds().Empty() {
		return fmt.Errorf("empty slice image")
	}
	return nil
}

// JPEG is the default lossy codec.
type JPEG struct{}

func (JPEG) Name() string        { return "jpg" }
func (JPEG) ContentType() string { return "image/jpeg" }
func (JPEG) Lossy() bool         { return true }

func (c JPEG) Encode(img *image.Gray, quality int) ([]byte, error) {
	if err := checkImage(img); err != nil {
		return nil, encodeError(c, err)
	}
	if err := ValidateQuality(quality); err != nil {
		return nil, encodeError(c, err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, encodeError(c, err)
	}
	return buf.Bytes(), nil
}

func (c JPEG) Decode(data []byte) (*image.Gray, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, decodeError(c, err)
	}
	return ToGray(img), nil
}

// PNG is a lossless codec.  Quality is ignored.
type PNG struct{}

func (PNG) Name() string        { return "png" }
func (PNG) ContentType() string { return "image/png" }
func (PNG) Lossy() bool         { return false }

func (c PNG) Encode(img *image.Gray, quality int) ([]byte, error) {
	if err := checkImage(img); err != nil {
		return nil, encodeError(c, err)
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, encodeError(c, err)
	}
	return buf.Bytes(), nil
}

func (c PNG) Decode(data []byte) (*image.Gray, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, decodeError(c, err)
	}
	return ToGray(img), nil
}

// TIFF is a lossless deflate-compressed codec.  Quality is ignored.
type TIFF struct{}

func (TIFF) Name() string        { return "tiff" }
func (TIFF) ContentType() string { return "image/tiff" }
func (TIFF) Lossy() bool         { return false }

func (c TIFF) Encode(img *image.Gray, quality int) ([]byte, error) {
	if err := checkImage(img); err != nil {
		return nil, encodeError(c, err)
	}
	var buf bytes.Buffer
	if err := tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		return nil, encodeError(c, err)
	}
	return buf.Bytes(), nil
}

func (c TIFF) Decode(data []byte) (*image.Gray, error) {
	img, err := tiff.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, decodeError(c, err)
	}
	return ToGray(img), nil
}

// FromData returns a Gray image sharing the given row-major pixels.
func FromData(data []uint8, nx, ny int) *image.Gray {
	return &image.Gray{
		Pix:    data,
		Stride: nx,
		Rect:   image.Rect(0, 0, nx, ny),
	}
}
