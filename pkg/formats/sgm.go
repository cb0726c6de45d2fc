// Package formats provides parsers and writers for 3D model file formats.
// SGM (Rayne engine model) format parser.
package formats

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/chewxy/math32"

	"github.com/Faultbox/sgm2obj/pkg/encoding"
)

const (
	// SGMMagic identifies an SGM file (bytes 10 CA FE 15 on disk).
	SGMMagic uint32 = 0x15FECA10
	// SGMVersion is the only supported container version.
	SGMVersion uint8 = 3

	sgmHeaderSize = 5

	// Longest texture name accepted, excluding the terminator.
	maxSGMStringLength = 4096
)

// SGM format errors.
var (
	ErrMalformedSGMHeader    = errors.New("malformed SGM header")
	ErrUnexpectedEndOfStream = errors.New("unexpected end of stream")
	ErrUnsupportedIndexWidth = errors.New("unsupported index width")
	ErrMalformedString       = errors.New("malformed string")
)

// SGMDecodeError reports where in the stream decoding stopped.
// Err is one of the SGM format errors, possibly wrapped with detail.
type SGMDecodeError struct {
	Offset int64  // Byte offset of the field being read
	Field  string // Human-readable field path, e.g. "mesh 1 index count"
	Err    error
}

func (e *SGMDecodeError) Error() string {
	return fmt.Sprintf("sgm: %s at offset %d: %v", e.Field, e.Offset, e.Err)
}

func (e *SGMDecodeError) Unwrap() error {
	return e.Err
}

// SGMTextureUsage is an opaque hint describing a texture's role.
type SGMTextureUsage uint8

// SGMColorKind is an opaque hint describing a material color's role.
type SGMColorKind uint8

// SGMTexture is a texture reference inside a UV set.
type SGMTexture struct {
	Filename string
	Usage    SGMTextureUsage
}

// SGMColor is an RGBA material color.
type SGMColor struct {
	RGBA [4]float32
	Kind SGMColorKind
}

// SGMMaterial is a material record. ID is stored for reference only;
// meshes select materials by list position, not by ID.
type SGMMaterial struct {
	ID     uint8
	UVSets [][]SGMTexture // One texture group per UV set
	Colors []SGMColor
}

// SGMVertexLayout describes which optional attributes every vertex of a
// mesh carries. It is read once from the mesh header.
type SGMVertexLayout struct {
	UVChannels    uint8
	ColorChannels uint8 // Color is present only when this is exactly 4
	HasTangent    bool
	HasBones      bool
}

// HasColor reports whether vertices carry an RGBA color.
func (l SGMVertexLayout) HasColor() bool {
	return l.ColorChannels == 4
}

// FloatsPerVertex returns the number of float32 values in one vertex record.
func (l SGMVertexLayout) FloatsPerVertex() int {
	n := 3 + 3 + 2*int(l.UVChannels)
	if l.HasColor() {
		n += 4
	}
	if l.HasTangent {
		n += 4
	}
	if l.HasBones {
		n += 4 + 4
	}
	return n
}

// Stride returns the size of one vertex record in bytes.
func (l SGMVertexLayout) Stride() int {
	return 4 * l.FloatsPerVertex()
}

// decodeVertex unpacks one interleaved vertex record.
// f must hold exactly FloatsPerVertex values.
func (l SGMVertexLayout) decodeVertex(f []float32) SGMVertex {
	var v SGMVertex
	copy(v.Position[:], f[0:3])
	copy(v.Normal[:], f[3:6])
	f = f[6:]

	if l.UVChannels > 0 {
		v.UVs = make([][2]float32, l.UVChannels)
		for i := range v.UVs {
			v.UVs[i] = [2]float32{f[0], f[1]}
			f = f[2:]
		}
	}
	if l.HasColor() {
		copy(v.Color[:], f[:4])
		f = f[4:]
	}
	if l.HasTangent {
		copy(v.Tangent[:], f[:4])
		f = f[4:]
	}
	if l.HasBones {
		copy(v.BoneWeights[:], f[:4])
		copy(v.BoneIndices[:], f[4:8])
	}
	return v
}

// SGMVertex is a single vertex. Optional attributes are zero unless the
// owning mesh's layout declares them.
type SGMVertex struct {
	Position    [3]float32
	Normal      [3]float32
	UVs         [][2]float32 // Length equals the mesh layout's UVChannels
	Color       [4]float32
	Tangent     [4]float32
	BoneWeights [4]float32
	BoneIndices [4]float32 // Stored as floats in the file
}

// SGMMesh is a mesh with its vertices and triangle indices.
// Indices are already shifted into the file-wide vertex space.
type SGMMesh struct {
	ID          uint8
	MaterialRef uint8 // Position in SGM.Materials
	Layout      SGMVertexLayout
	IndexWidth  uint8 // 2 or 4 bytes
	Vertices    []SGMVertex
	Indices     []uint32
}

// SGM represents a parsed SGM model file.
type SGM struct {
	Version   uint8
	Materials []SGMMaterial
	Meshes    []SGMMesh
}

// SGMOptions controls decoding.
type SGMOptions struct {
	// LegacyCharset decodes texture names that are not valid UTF-8.
	// Empty selects encoding.DefaultLegacyCharset.
	LegacyCharset string
}

// ParseSGM parses SGM data from a byte slice.
func ParseSGM(data []byte) (*SGM, error) {
	return ParseSGMWithOptions(data, SGMOptions{})
}

// ParseSGMWithOptions parses SGM data from a byte slice.
// On error no partial model is returned.
func ParseSGMWithOptions(data []byte, opts SGMOptions) (*SGM, error) {
	if len(data) < sgmHeaderSize {
		return nil, &SGMDecodeError{
			Offset: 0,
			Field:  "header",
			Err:    fmt.Errorf("%w: %d bytes, need %d", ErrMalformedSGMHeader, len(data), sgmHeaderSize),
		}
	}

	d := &sgmReader{r: bytes.NewReader(data), opts: opts}

	var magic uint32
	var version uint8
	if err := d.read("magic", &magic); err != nil {
		return nil, err
	}
	if magic != SGMMagic {
		return nil, &SGMDecodeError{
			Offset: 0,
			Field:  "magic",
			Err:    fmt.Errorf("%w: got 0x%08X, want 0x%08X", ErrMalformedSGMHeader, magic, SGMMagic),
		}
	}
	if err := d.read("version", &version); err != nil {
		return nil, err
	}
	if version != SGMVersion {
		return nil, &SGMDecodeError{
			Offset: 4,
			Field:  "version",
			Err:    fmt.Errorf("%w: unsupported version %d", ErrMalformedSGMHeader, version),
		}
	}

	sgm := &SGM{Version: version}

	// Materials
	var materialCount uint8
	if err := d.read("material count", &materialCount); err != nil {
		return nil, err
	}
	sgm.Materials = make([]SGMMaterial, materialCount)
	for i := range sgm.Materials {
		if err := d.readMaterial(i, &sgm.Materials[i]); err != nil {
			return nil, err
		}
	}

	// Meshes
	var meshCount uint8
	if err := d.read("mesh count", &meshCount); err != nil {
		return nil, err
	}
	sgm.Meshes = make([]SGMMesh, meshCount)

	// Raw indices are per mesh; shift them so all meshes share one
	// vertex space.
	var indexOffset uint32
	for i := range sgm.Meshes {
		mesh := &sgm.Meshes[i]
		if err := d.readMesh(i, mesh, indexOffset); err != nil {
			return nil, err
		}
		indexOffset += uint32(len(mesh.Vertices))
	}

	return sgm, nil
}

// ParseSGMFile parses an SGM file from disk.
func ParseSGMFile(path string) (*SGM, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading SGM file: %w", err)
	}
	return ParseSGM(data)
}

// sgmReader is a forward-only cursor over SGM bytes.
type sgmReader struct {
	r    *bytes.Reader
	opts SGMOptions
}

func (d *sgmReader) offset() int64 {
	return d.r.Size() - int64(d.r.Len())
}

func (d *sgmReader) truncated(off int64, field string) error {
	return &SGMDecodeError{Offset: off, Field: field, Err: ErrUnexpectedEndOfStream}
}

// read decodes a little-endian fixed-size value.
func (d *sgmReader) read(field string, v any) error {
	off := d.offset()
	if err := binary.Read(d.r, binary.LittleEndian, v); err != nil {
		return d.truncated(off, field)
	}
	return nil
}

// readText reads a length-prefixed string. The stored uint16 length counts
// a trailing terminator byte which is skipped and not part of the text.
func (d *sgmReader) readText(field string) (string, error) {
	off := d.offset()

	var stored uint16
	if err := d.read(field+" length", &stored); err != nil {
		return "", err
	}
	n := int(stored) - 1
	if n < 0 || n > maxSGMStringLength {
		return "", &SGMDecodeError{
			Offset: off,
			Field:  field,
			Err:    fmt.Errorf("%w: stored length %d", ErrMalformedString, stored),
		}
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return "", d.truncated(off+2, field)
	}
	if _, err := d.r.ReadByte(); err != nil {
		return "", d.truncated(d.offset(), field+" terminator")
	}

	text, err := encoding.DecodeText(buf, d.opts.LegacyCharset)
	if err != nil {
		return "", &SGMDecodeError{
			Offset: off + 2,
			Field:  field,
			Err:    fmt.Errorf("%w: %v", ErrMalformedString, err),
		}
	}
	return text, nil
}

// ensure fails with ErrUnexpectedEndOfStream if fewer than count records of
// size bytes remain. The reported offset is the first incomplete record.
func (d *sgmReader) ensure(field string, count uint64, size int) error {
	remaining := uint64(d.r.Len())
	if count*uint64(size) <= remaining {
		return nil
	}
	complete := remaining / uint64(size)
	return d.truncated(d.offset()+int64(complete)*int64(size), fmt.Sprintf("%s %d", field, complete))
}

func (d *sgmReader) readMaterial(i int, mat *SGMMaterial) error {
	prefix := fmt.Sprintf("material %d", i)

	if err := d.read(prefix+" id", &mat.ID); err != nil {
		return err
	}

	var uvSetCount uint8
	if err := d.read(prefix+" uv set count", &uvSetCount); err != nil {
		return err
	}
	mat.UVSets = make([][]SGMTexture, uvSetCount)
	for s := range mat.UVSets {
		var textureCount uint8
		if err := d.read(fmt.Sprintf("%s uv set %d texture count", prefix, s), &textureCount); err != nil {
			return err
		}
		textures := make([]SGMTexture, textureCount)
		for t := range textures {
			field := fmt.Sprintf("%s uv set %d texture %d", prefix, s, t)
			if err := d.read(field+" usage", &textures[t].Usage); err != nil {
				return err
			}
			name, err := d.readText(field + " name")
			if err != nil {
				return err
			}
			textures[t].Filename = name
		}
		mat.UVSets[s] = textures
	}

	var colorCount uint8
	if err := d.read(prefix+" color count", &colorCount); err != nil {
		return err
	}
	mat.Colors = make([]SGMColor, colorCount)
	for c := range mat.Colors {
		field := fmt.Sprintf("%s color %d", prefix, c)
		if err := d.read(field+" kind", &mat.Colors[c].Kind); err != nil {
			return err
		}
		if err := d.read(field+" rgba", &mat.Colors[c].RGBA); err != nil {
			return err
		}
	}

	return nil
}

func (d *sgmReader) readMesh(i int, mesh *SGMMesh, indexOffset uint32) error {
	prefix := fmt.Sprintf("mesh %d", i)

	var (
		vertexCount uint32
		hasTangent  uint8
		hasBones    uint8
	)
	if err := d.read(prefix+" id", &mesh.ID); err != nil {
		return err
	}
	if err := d.read(prefix+" material", &mesh.MaterialRef); err != nil {
		return err
	}
	if err := d.read(prefix+" vertex count", &vertexCount); err != nil {
		return err
	}
	if err := d.read(prefix+" uv channel count", &mesh.Layout.UVChannels); err != nil {
		return err
	}
	if err := d.read(prefix+" color channel count", &mesh.Layout.ColorChannels); err != nil {
		return err
	}
	if err := d.read(prefix+" tangent flag", &hasTangent); err != nil {
		return err
	}
	if err := d.read(prefix+" bone flag", &hasBones); err != nil {
		return err
	}
	mesh.Layout.HasTangent = hasTangent != 0
	mesh.Layout.HasBones = hasBones != 0

	// Vertices: one bulk read of interleaved floats, then unpacked with
	// the mesh layout.
	layout := mesh.Layout
	if err := d.ensure(prefix+" vertex", uint64(vertexCount), layout.Stride()); err != nil {
		return err
	}
	perVertex := layout.FloatsPerVertex()
	floats := make([]float32, int(vertexCount)*perVertex)
	if err := d.read(prefix+" vertices", floats); err != nil {
		return err
	}
	mesh.Vertices = make([]SGMVertex, vertexCount)
	for v := range mesh.Vertices {
		mesh.Vertices[v] = layout.decodeVertex(floats[v*perVertex : (v+1)*perVertex])
	}

	// Indices
	var indexCount uint32
	if err := d.read(prefix+" index count", &indexCount); err != nil {
		return err
	}
	widthOffset := d.offset()
	if err := d.read(prefix+" index width", &mesh.IndexWidth); err != nil {
		return err
	}

	switch mesh.IndexWidth {
	case 2:
		if err := d.ensure(prefix+" index", uint64(indexCount), 2); err != nil {
			return err
		}
		raw := make([]uint16, indexCount)
		if err := d.read(prefix+" indices", raw); err != nil {
			return err
		}
		mesh.Indices = make([]uint32, indexCount)
		for k, idx := range raw {
			mesh.Indices[k] = uint32(idx) + indexOffset
		}
	case 4:
		if err := d.ensure(prefix+" index", uint64(indexCount), 4); err != nil {
			return err
		}
		mesh.Indices = make([]uint32, indexCount)
		if err := d.read(prefix+" indices", mesh.Indices); err != nil {
			return err
		}
		for k := range mesh.Indices {
			mesh.Indices[k] += indexOffset
		}
	default:
		return &SGMDecodeError{
			Offset: widthOffset,
			Field:  prefix + " index width",
			Err:    fmt.Errorf("%w: %d", ErrUnsupportedIndexWidth, mesh.IndexWidth),
		}
	}

	return nil
}

// MaterialAt resolves a mesh material reference by list position.
// It reports false when the reference is out of range.
func (sgm *SGM) MaterialAt(ref uint8) (*SGMMaterial, bool) {
	if int(ref) >= len(sgm.Materials) {
		return nil, false
	}
	return &sgm.Materials[ref], true
}

// GetTotalVertexCount returns the total number of vertices across all meshes.
func (sgm *SGM) GetTotalVertexCount() int {
	total := 0
	for _, mesh := range sgm.Meshes {
		total += len(mesh.Vertices)
	}
	return total
}

// GetTotalIndexCount returns the total number of indices across all meshes.
func (sgm *SGM) GetTotalIndexCount() int {
	total := 0
	for _, mesh := range sgm.Meshes {
		total += len(mesh.Indices)
	}
	return total
}

// GetTextures returns every distinct texture filename in material order.
func (sgm *SGM) GetTextures() []string {
	seen := make(map[string]bool)
	var names []string
	for _, mat := range sgm.Materials {
		for _, set := range mat.UVSets {
			for _, tex := range set {
				if !seen[tex.Filename] {
					seen[tex.Filename] = true
					names = append(names, tex.Filename)
				}
			}
		}
	}
	return names
}

// GetBounds returns the axis-aligned bounding box of all vertex positions.
// ok is false when the model has no vertices.
func (sgm *SGM) GetBounds() (min, max [3]float32, ok bool) {
	min = [3]float32{math32.Inf(1), math32.Inf(1), math32.Inf(1)}
	max = [3]float32{math32.Inf(-1), math32.Inf(-1), math32.Inf(-1)}

	for _, mesh := range sgm.Meshes {
		for _, v := range mesh.Vertices {
			for axis := 0; axis < 3; axis++ {
				min[axis] = math32.Min(min[axis], v.Position[axis])
				max[axis] = math32.Max(max[axis], v.Position[axis])
			}
			ok = true
		}
	}

	if !ok {
		return [3]float32{}, [3]float32{}, false
	}
	return min, max, true
}
