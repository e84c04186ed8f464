/*
	Package slicecodec compresses single 2D grayscale slices.  Codecs know nothing about
	volumes; they turn an *image.Gray into bytes and back.
*/
package slicecodec

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/janelia-flyem/jpgstack/tomo"
)

const (
	// DefaultQuality is the lossy quality used when none is given.
	DefaultQuality = 80

	// MaxUsefulQuality is the quality above which compression benefit drops sharply.
	MaxUsefulQuality = 95
)

// Codec encodes and decodes grayscale slice images.
type Codec interface {
	// Name is the registry key, e.g., "jpg".
	Name() string

	// ContentType is the MIME type of encoded payloads.
	ContentType() string

	// Lossy returns true if quality affects the encoded result.
	Lossy() bool

	// Encode compresses an image at a quality in [1,100].  Encoding is deterministic
	// for a given image and quality.
	Encode(img *image.Gray, quality int) ([]byte, error)

	// Decode returns the grayscale image in a payload produced by Encode.
	Decode(data []byte) (*image.Gray, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Codec)
	aliases    = make(map[string]string)
)

// Register makes a codec available by its name and any aliases.
func Register(c Codec, alias ...string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[c.Name()] = c
	for _, a := range alias {
		aliases[a] = c.Name()
	}
}

// Lookup returns the codec registered under the name or alias.
func Lookup(name string) (Codec, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	name = strings.ToLower(name)
	if canonical, found := aliases[name]; found {
		name = canonical
	}
	c, found := registry[name]
	if !found {
		return nil, fmt.Errorf("unknown slice codec %q, available: %s", name, strings.Join(names(), ", "))
	}
	return c, nil
}

func names() []string {
	var n []string
	for name := range registry {
		n = append(n, name)
	}
	sort.Strings(n)
	return n
}

// Names returns the registered codec names.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return names()
}

// ValidateQuality returns an error if quality is outside [1,100].
func ValidateQuality(quality int) error {
	if quality < 1 || quality > 100 {
		return fmt.Errorf("quality must be between 1 and 100, got %d", quality)
	}
	return nil
}

// ParseFormat parses a codec name with optional quality, e.g., "jpg:80" or "png".
func ParseFormat(formatStr string) (c Codec, quality int, err error) {
	format := strings.Split(formatStr, ":")
	quality = DefaultQuality
	if len(format) > 2 {
		return nil, 0, fmt.Errorf("bad slice format %q", formatStr)
	}
	if len(format) > 1 {
		if quality, err = strconv.Atoi(format[1]); err != nil {
			return nil, 0, fmt.Errorf("bad quality in slice format %q: %v", formatStr, err)
		}
		if err = ValidateQuality(quality); err != nil {
			return nil, 0, err
		}
	}
	name := format[0]
	if name == "" {
		name = "jpg"
	}
	c, err = Lookup(name)
	return
}

// ToGray returns img as an *image.Gray, converting other image types.
func ToGray(img image.Image) *image.Gray {
	if gray, ok := img.(*image.Gray); ok {
		return gray
	}
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}

// Detect returns the registered codec whose signature starts the payload.
func Detect(payload []byte) (Codec, error) {
	var name string
	switch {
	case bytes.HasPrefix(payload, []byte{0xff, 0xd8, 0xff}):
		name = "jpg"
	case bytes.HasPrefix(payload, []byte("\x89PNG\r\n\x1a\n")):
		name = "png"
	case bytes.HasPrefix(payload, []byte("II*\x00")), bytes.HasPrefix(payload, []byte("MM\x00*")):
		name = "tiff"
	default:
		return nil, fmt.Errorf("%w: unrecognized payload signature", tomo.ErrCodec)
	}
	return Lookup(name)
}

func encodeError(c Codec, err error) error {
	return fmt.Errorf("%w: %s encode: %v", tomo.ErrCodec, c.Name(), err)
}

func decodeError(c Codec, err error) error {
	return fmt.Errorf("%w: %s decode: %v", tomo.ErrCodec, c.Name(), err)
}
