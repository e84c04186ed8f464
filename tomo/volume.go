package tomo

import "fmt"

// Volume is a floating-point voxel grid plus the header it was read with.  Data is
// laid out slice by slice (z), then row by row (y), with x varying fastest.
//
// A Volume is fully materialized in memory.  Packing requires whole-volume
// statistics, so working memory scales with the number of voxels.
type Volume struct {
	Size   Point3d
	Data   []float64
	Header Header
}

// NewVolume allocates a zeroed volume of the given size.
func NewVolume(size Point3d) (*Volume, error) {
	if !size.Valid() {
		return nil, fmt.Errorf("bad volume size %s", size)
	}
	return &Volume{
		Size:   size,
		Data:   make([]float64, size.Voxels()),
		Header: make(Header),
	}, nil
}

// NumSlices returns the depth of the volume.
func (v *Volume) NumSlices() int {
	return int(v.Size[2])
}

// Slice returns the samples of slice z, sharing memory with the volume.
func (v *Volume) Slice(z int) []float64 {
	n := v.Size.SliceVoxels()
	return v.Data[z*n : (z+1)*n]
}

// Int8Volume is the signed 8-bit grid produced when unpacking a container.
type Int8Volume struct {
	Size Point3d
	Data []int8
}

// NumSlices returns the depth of the volume.
func (v *Int8Volume) NumSlices() int {
	return int(v.Size[2])
}

// Slice returns the samples of slice z, sharing memory with the volume.
func (v *Int8Volume) Slice(z int) []int8 {
	n := v.Size.SliceVoxels()
	return v.Data[z*n : (z+1)*n]
}
