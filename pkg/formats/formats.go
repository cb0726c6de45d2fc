// Package formats provides parsers and writers for 3D model file formats.
package formats

// Note: SGM decoding is implemented in sgm.go
// Note: OBJ/MTL writing is implemented in obj.go
