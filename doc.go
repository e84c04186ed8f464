/*
jpgstack stores cryo-electron tomograms as containers of independently compressed
8-bit slices and restores them to MRC volumes.

A pack maps the float samples of a volume through one global affine transform to
[0,255], compresses each z slice with a lossy codec (JPEG by default), and writes the
slices into a ".jpgs" container:

	u32 LE slice count
	repeat count times:
		u32 LE payload length
		payload bytes

The MRC header fields needed to rebuild a usable header are saved next to the
container in "<name>_header.msgp".  An unpack decodes every slice, shifts samples to
signed 8-bit by subtracting 128, and writes an MRC mode 0 volume with those fields
restored.  Normalization is lossy, so unpacked values are display values, not the
original densities.

Standard commands

In the following documentation, the type of brackets designate
<required parameter> and [optional parameter].

	jpgstack about

Prints the version and registered slice codecs.

	jpgstack [-q 80] [-o out] pack <volume, directory, or glob> ...

Packs .mrc and .rec volumes.  One input uses every worker for its slices; several
inputs are packed one file per worker.

	jpgstack [-o out] [-e viewer] unpack <container, directory, or glob> ...

Unpacks containers, naming outputs from their sidecars.

	jpgstack info <container>
	jpgstack [-format png] extract <container> <slice index>

Inspect a container or write one of its slices without unpacking the volume.

	jpgstack [-http localhost:8000] serve [directory or bucket prefix]

Browses containers over HTTP.  See package server for the API.

Every path may live in a bucket given by -bucket or the [storage] config section,
e.g. "gs://tomograms" or "s3://tomograms?region=us-east-1".
*/
package jpgstack
