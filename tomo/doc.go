/*
	Package tomo provides types, constants, and functions that have no other dependencies
	and can be used by all packages within jpgstack.  This includes the in-memory volume
	and header representations, logging, error classes, and the serialization framing used
	for side files.  Since these elements are used at multiple layers, we keep them here
	and allow reuse in layer-specific packages.
*/
package tomo
