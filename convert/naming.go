package convert

import (
	"fmt"
	"path"
	"strings"

	"github.com/janelia-flyem/jpgstack/container"
	"github.com/janelia-flyem/jpgstack/sidecar"
)

// VolumeExtension is the extension of unpacked volumes.
const VolumeExtension = ".mrc"

const qualityTag = "_JPG"

// Stem returns the base name of p without its extension.
func Stem(p string) string {
	base := path.Base(p)
	return strings.TrimSuffix(base, path.Ext(base))
}

// PackOutputName returns "<stem>_JPG<quality>.jpgs" in outDir, or next to the
// input if outDir is empty.
func PackOutputName(input string, quality int, outDir string) string {
	if outDir == "" {
		outDir = path.Dir(input)
	}
	return path.Join(outDir, fmt.Sprintf("%s%s%d%s", Stem(input), qualityTag, quality, container.Extension))
}

// ContainerName appends the container extension to an explicit pack output that
// lacks it.  An output with no base name becomes "output.jpgs".
func ContainerName(output string) string {
	dir, base := path.Split(output)
	base = strings.TrimSuffix(base, container.Extension)
	if base == "" {
		base = "output"
	}
	return dir + base + container.Extension
}

// UnpackOutputName names the volume unpacked from a container.  With a sidecar the
// name is the sidecar's up to its last "_JPG" tag, otherwise the container's stem.
// The volume goes next to the container.
func UnpackOutputName(containerPath, sidecarPath string) string {
	dir := path.Dir(containerPath)
	if sidecarPath != "" {
		base := strings.TrimSuffix(path.Base(sidecarPath), sidecar.Suffix)
		if i := strings.LastIndex(base, qualityTag); i > 0 {
			base = base[:i]
		}
		return path.Join(dir, base+VolumeExtension)
	}
	return path.Join(dir, Stem(containerPath)+VolumeExtension)
}

// BatchUnpackOutputName names a volume unpacked into outDir during a directory batch.
// The last "_JPG<q>" tag of the container stem becomes "_fromJPG<q>" so packed and
// unpacked volumes are told apart.
func BatchUnpackOutputName(containerPath, outDir string) string {
	stem := Stem(containerPath)
	if i := strings.LastIndex(stem, qualityTag); i >= 0 {
		stem = stem[:i] + "_from" + stem[i+1:]
	}
	return path.Join(outDir, stem+VolumeExtension)
}
