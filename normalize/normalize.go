/*
	Package normalize maps floating-point volumes to unsigned 8-bit slices for packing
	and maps unpacked 8-bit slices back to signed samples.

	The forward map uses statistics of the whole volume so brightness is comparable
	from slice to slice.  It is not inverted on unpack: the original intensity scale
	is lost and unpacked samples are simply the packed values shifted by -128.
*/
package normalize

import (
	"fmt"
	"image"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/janelia-flyem/jpgstack/slicecodec"
	"github.com/janelia-flyem/jpgstack/tomo"
)

// Stats are the whole-volume statistics used by the forward map.
type Stats struct {
	Mean   float64
	StdDev float64 // population standard deviation
	Min    float64 // minimum of the standardized volume
	Max    float64 // maximum after shifting Min to zero
}

func (s Stats) String() string {
	return fmt.Sprintf("mean %g, std %g, standardized min %g, shifted max %g", s.Mean, s.StdDev, s.Min, s.Max)
}

// Rescale standardizes vol.Data in place and maps it to [0,1]:
// (x-mean)/std, then minus the global minimum, then divided by the global maximum.
// Volumes with no variation return tomo.ErrDegenerateStatistics.
func Rescale(vol *tomo.Volume) (Stats, error) {
	var s Stats
	data := vol.Data
	if len(data) == 0 {
		return s, fmt.Errorf("%w: empty volume", tomo.ErrDegenerateStatistics)
	}
	s.Mean, s.StdDev = stat.PopMeanStdDev(data, nil)
	if s.StdDev == 0 || math.IsNaN(s.StdDev) || math.IsInf(s.StdDev, 0) {
		return s, fmt.Errorf("%w (std %g)", tomo.ErrDegenerateStatistics, s.StdDev)
	}

	floats.AddConst(-s.Mean, data)
	floats.Scale(1/s.StdDev, data)
	s.Min = floats.Min(data)
	floats.AddConst(-s.Min, data)
	s.Max = floats.Max(data)
	if s.Max == 0 || math.IsNaN(s.Max) || math.IsInf(s.Max, 0) {
		return s, fmt.Errorf("%w (shifted max %g)", tomo.ErrDegenerateStatistics, s.Max)
	}
	// Divide so the maximum maps to exactly 1.
	for i := range data {
		data[i] /= s.Max
	}
	return s, nil
}

// ToUint8 maps a [0,1] sample to [0,255], truncating toward zero.
func ToUint8(v float64) uint8 {
	v *= 255
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}

// Slice returns slice z of a rescaled volume as an 8-bit image.
func Slice(vol *tomo.Volume, z int) *image.Gray {
	src := vol.Slice(z)
	pix := make([]uint8, len(src))
	for i, v := range src {
		pix[i] = ToUint8(v)
	}
	return slicecodec.FromData(pix, int(vol.Size[0]), int(vol.Size[1]))
}

// ToSlices rescales the volume in place and returns its slices as 8-bit images in
// depth order.
func ToSlices(vol *tomo.Volume) ([]*image.Gray, Stats, error) {
	s, err := Rescale(vol)
	if err != nil {
		return nil, s, err
	}
	slices := make([]*image.Gray, vol.NumSlices())
	for z := range slices {
		slices[z] = Slice(vol, z)
	}
	return slices, s, nil
}

// FromSlices stacks unpacked 8-bit images into a signed volume, subtracting 128 from
// every sample.  All images must have the same bounds.
func FromSlices(slices []*image.Gray) (*tomo.Int8Volume, error) {
	if len(slices) == 0 {
		return nil, fmt.Errorf("no slices to stack")
	}
	b := slices[0].Bounds()
	size := tomo.Point3d{int32(b.Dx()), int32(b.Dy()), int32(len(slices))}
	if !size.Valid() {
		return nil, fmt.Errorf("bad slice size %s", b)
	}
	vol := &tomo.Int8Volume{Size: size, Data: make([]int8, size.Voxels())}
	for z, img := range slices {
		if img.Bounds().Dx() != b.Dx() || img.Bounds().Dy() != b.Dy() {
			return nil, fmt.Errorf("slice %d is %s, expected %s", z, img.Bounds(), b)
		}
		PutSlice(vol, z, img)
	}
	return vol, nil
}

// PutSlice writes img into slice z of vol as signed samples.
func PutSlice(vol *tomo.Int8Volume, z int, img *image.Gray) {
	dst := vol.Slice(z)
	nx := int(vol.Size[0])
	r := img.Bounds()
	for y := 0; y < r.Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+nx]
		for x, p := range row {
			dst[y*nx+x] = int8(int(p) - 128)
		}
	}
}
