package tomo

import "fmt"

// Point3d is an ordered list of three 32-bit signed integers holding the x, y, and z
// extents of a volume.  X varies fastest in memory, z slowest.
type Point3d [3]int32

// Voxels returns the number of voxels spanned by the size.
func (p Point3d) Voxels() int64 {
	return int64(p[0]) * int64(p[1]) * int64(p[2])
}

// SliceVoxels returns the number of voxels in one xy slice.
func (p Point3d) SliceVoxels() int {
	return int(p[0]) * int(p[1])
}

// Valid returns true if all extents are positive.
func (p Point3d) Valid() bool {
	return p[0] > 0 && p[1] > 0 && p[2] > 0
}

func (p Point3d) String() string {
	return fmt.Sprintf("(%d,%d,%d)", p[0], p[1], p[2])
}
