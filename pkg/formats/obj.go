// Package formats provides parsers and writers for 3D model file formats.
// OBJ/MTL (Wavefront) writer for decoded SGM models.
package formats

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Faultbox/sgm2obj/pkg/encoding"
)

// DefaultMaterialName is used by meshes whose material reference is out of range.
const DefaultMaterialName = "default"

// defaultDiffuse is the color of materials without any color entry.
var defaultDiffuse = [4]float32{0.8, 0.8, 0.8, 1.0}

// OBJ format errors.
var ErrIndexBufferNotMultipleOfThree = errors.New("index buffer length not a multiple of three")

// OBJOptions controls OBJ/MTL output.
type OBJOptions struct {
	MaterialLibrary       string // Name written in the mtllib directive
	TextureOverride       string // If set, the only map_Kd of every textured material
	NormalizeTexturePaths bool   // Rewrite backslashes in texture names
}

func (o OBJOptions) materialLibrary() string {
	if o.MaterialLibrary == "" {
		return "model.mtl"
	}
	return o.MaterialLibrary
}

// MaterialNames returns the display name of each material by position.
// A material is named after its stored ID unless another material shares
// that ID, in which case it becomes "mat_<position>".
func MaterialNames(sgm *SGM) []string {
	idCount := make(map[uint8]int, len(sgm.Materials))
	for _, mat := range sgm.Materials {
		idCount[mat.ID]++
	}

	names := make([]string, len(sgm.Materials))
	for i, mat := range sgm.Materials {
		if idCount[mat.ID] == 1 {
			names[i] = strconv.Itoa(int(mat.ID))
		} else {
			names[i] = fmt.Sprintf("mat_%d", i)
		}
	}
	return names
}

// ResolveMaterialName returns the name a mesh should use, falling back to
// DefaultMaterialName when the mesh's reference is out of range.
func ResolveMaterialName(sgm *SGM, names []string, mesh *SGMMesh) string {
	if _, ok := sgm.MaterialAt(mesh.MaterialRef); !ok {
		return DefaultMaterialName
	}
	return names[mesh.MaterialRef]
}

// ValidateOBJ reports whether every mesh can be written as triangles.
func ValidateOBJ(sgm *SGM) error {
	for i, mesh := range sgm.Meshes {
		if len(mesh.Indices)%3 != 0 {
			return fmt.Errorf("mesh %d (id %d): %w: %d indices",
				i, mesh.ID, ErrIndexBufferNotMultipleOfThree, len(mesh.Indices))
		}
	}
	return nil
}

// WriteMTL writes the material library.
func WriteMTL(w io.Writer, sgm *SGM, opts OBJOptions) error {
	names := MaterialNames(sgm)

	// A material gets texture maps when any mesh using it has UVs.
	textured := make([]bool, len(sgm.Materials))
	needsDefault := false
	for _, mesh := range sgm.Meshes {
		if _, ok := sgm.MaterialAt(mesh.MaterialRef); !ok {
			needsDefault = true
			continue
		}
		if mesh.Layout.UVChannels > 0 {
			textured[mesh.MaterialRef] = true
		}
	}

	bw := bufio.NewWriter(w)
	for i, mat := range sgm.Materials {
		if i > 0 {
			bw.WriteString("\n")
		}

		color := defaultDiffuse
		if len(mat.Colors) > 0 {
			color = mat.Colors[0].RGBA
		}
		writeMaterialBlock(bw, names[i], color)

		if !textured[i] {
			continue
		}
		if opts.TextureOverride != "" {
			fmt.Fprintf(bw, "map_Kd %s\n", opts.TextureOverride)
			continue
		}
		for _, set := range mat.UVSets {
			for _, tex := range set {
				name := tex.Filename
				if opts.NormalizeTexturePaths {
					name = encoding.NormalizeTexturePath(name)
				}
				fmt.Fprintf(bw, "map_Kd %s\n", name)
			}
		}
	}

	if needsDefault {
		if len(sgm.Materials) > 0 {
			bw.WriteString("\n")
		}
		writeMaterialBlock(bw, DefaultMaterialName, defaultDiffuse)
	}

	return bw.Flush()
}

func writeMaterialBlock(bw *bufio.Writer, name string, color [4]float32) {
	fmt.Fprintf(bw, "newmtl %s\n", name)
	fmt.Fprintf(bw, "Kd %s %s %s\n", formatFloat(color[0]), formatFloat(color[1]), formatFloat(color[2]))
	fmt.Fprintf(bw, "d %s\n", formatFloat(color[3]))
}

// WriteOBJ writes the geometry file. Indices are emitted 1-based and the
// V texture coordinate is flipped.
func WriteOBJ(w io.Writer, sgm *SGM, opts OBJOptions) error {
	if err := ValidateOBJ(sgm); err != nil {
		return err
	}

	names := MaterialNames(sgm)
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "mtllib %s\n", opts.materialLibrary())
	for i := range sgm.Meshes {
		mesh := &sgm.Meshes[i]
		fmt.Fprintf(bw, "o %d\n", mesh.ID)
		fmt.Fprintf(bw, "usemtl %s\n", ResolveMaterialName(sgm, names, mesh))

		for _, v := range mesh.Vertices {
			fmt.Fprintf(bw, "v %s %s %s\n", formatFloat(v.Position[0]), formatFloat(v.Position[1]), formatFloat(v.Position[2]))
			fmt.Fprintf(bw, "vn %s %s %s\n", formatFloat(v.Normal[0]), formatFloat(v.Normal[1]), formatFloat(v.Normal[2]))
			if len(v.UVs) == 0 {
				bw.WriteString("vt 0 0\n")
			} else {
				uv := v.UVs[0]
				fmt.Fprintf(bw, "vt %s %s\n", formatFloat(uv[0]), formatFloat(1-uv[1]))
			}
		}

		hasUV := mesh.Layout.UVChannels > 0
		for k := 0; k+2 < len(mesh.Indices); k += 3 {
			a, b, c := mesh.Indices[k]+1, mesh.Indices[k+1]+1, mesh.Indices[k+2]+1
			if hasUV {
				fmt.Fprintf(bw, "f %d/%d/%d %d/%d/%d %d/%d/%d\n", a, a, a, b, b, b, c, c, c)
			} else {
				fmt.Fprintf(bw, "f %d//%d %d//%d %d//%d\n", a, a, b, b, c, c)
			}
		}
	}

	return bw.Flush()
}

// EncodeOBJ renders the geometry and material library to memory.
func EncodeOBJ(sgm *SGM, opts OBJOptions) (obj, mtl []byte, err error) {
	var objBuf, mtlBuf bytes.Buffer
	if err := WriteOBJ(&objBuf, sgm, opts); err != nil {
		return nil, nil, err
	}
	if err := WriteMTL(&mtlBuf, sgm, opts); err != nil {
		return nil, nil, err
	}
	return objBuf.Bytes(), mtlBuf.Bytes(), nil
}

// MTLPath returns the material library path paired with an OBJ path.
func MTLPath(objPath string) string {
	return strings.TrimSuffix(objPath, filepath.Ext(objPath)) + ".mtl"
}

// WriteOBJFiles writes objPath and its sibling .mtl file. Both files are
// fully written to temporary siblings before either is moved into place.
// It returns the paths written.
func WriteOBJFiles(sgm *SGM, objPath string, opts OBJOptions) ([]string, error) {
	mtlPath := MTLPath(objPath)
	if opts.MaterialLibrary == "" {
		opts.MaterialLibrary = filepath.Base(mtlPath)
	}

	obj, mtl, err := EncodeOBJ(sgm, opts)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(objPath), 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	objTmp, err := writeTemp(objPath, obj)
	if err != nil {
		return nil, err
	}
	mtlTmp, err := writeTemp(mtlPath, mtl)
	if err != nil {
		os.Remove(objTmp)
		return nil, err
	}

	if err := os.Rename(mtlTmp, mtlPath); err != nil {
		os.Remove(objTmp)
		os.Remove(mtlTmp)
		return nil, fmt.Errorf("writing %s: %w", mtlPath, err)
	}
	if err := os.Rename(objTmp, objPath); err != nil {
		os.Remove(objTmp)
		return nil, fmt.Errorf("writing %s: %w", objPath, err)
	}

	return []string{objPath, mtlPath}, nil
}

// writeTemp writes data to a temporary file next to path.
func writeTemp(path string, data []byte) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating temp file for %s: %w", path, err)
	}
	if err := f.Chmod(0644); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Name(), nil
}

// formatFloat prints the shortest decimal that round-trips as float32.
func formatFloat(f float32) string {
	return strconv.FormatFloat(float64(f), 'f', -1, 32)
}
