package convert

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Faultbox/sgm2obj/internal/config"
	"github.com/Faultbox/sgm2obj/pkg/formats"
)

// createTestSGM creates a one-material, one-triangle SGM file. With uv set,
// the mesh has one UV channel and the material one texture.
func createTestSGM(uv bool) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, formats.SGMMagic)
	buf.WriteByte(formats.SGMVersion)

	// Material 0: id 1, one UV set with "wood.png", one color
	buf.WriteByte(1)
	buf.WriteByte(1)
	buf.WriteByte(1)
	buf.WriteByte(1)
	buf.WriteByte(0)
	binary.Write(buf, binary.LittleEndian, uint16(len("wood.png")+1))
	buf.WriteString("wood.png\x00")
	buf.WriteByte(1)
	buf.WriteByte(0)
	binary.Write(buf, binary.LittleEndian, [4]float32{0.5, 0.5, 0.5, 1})

	// Mesh 0
	var uvChannels uint8
	if uv {
		uvChannels = 1
	}
	buf.WriteByte(1)
	buf.WriteByte(0) // id
	buf.WriteByte(0) // material
	binary.Write(buf, binary.LittleEndian, uint32(3))
	buf.WriteByte(uvChannels)
	buf.WriteByte(0) // color channels
	buf.WriteByte(0) // tangent
	buf.WriteByte(0) // bones
	for i := 0; i < 3; i++ {
		binary.Write(buf, binary.LittleEndian, [3]float32{float32(i), 0, 0})
		binary.Write(buf, binary.LittleEndian, [3]float32{0, 0, 1})
		if uv {
			binary.Write(buf, binary.LittleEndian, [2]float32{float32(i) / 2, 0})
		}
	}
	binary.Write(buf, binary.LittleEndian, uint32(3))
	buf.WriteByte(2)
	binary.Write(buf, binary.LittleEndian, []uint16{0, 1, 2})

	return buf.Bytes()
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("creating dir: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Batch.Workers = 2
	return cfg
}

func TestOutputPath(t *testing.T) {
	cfg := testConfig()
	c := New(cfg)

	if got := c.OutputPath(filepath.Join("models", "crate.sgm")); got != filepath.Join("models", "crate.obj") {
		t.Errorf("OutputPath = %s", got)
	}

	cfg.Convert.OutputDir = "out"
	if got := c.OutputPath(filepath.Join("models", "crate.sgm")); got != filepath.Join("out", "crate.obj") {
		t.Errorf("OutputPath with output dir = %s", got)
	}
}

func TestConvertFile(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "crate.sgm")
	writeFile(t, input, createTestSGM(true))

	res := New(testConfig()).ConvertFile(input, "")
	if res.Err != nil {
		t.Fatalf("ConvertFile failed: %v", res.Err)
	}

	objPath := filepath.Join(dir, "crate.obj")
	mtlPath := filepath.Join(dir, "crate.mtl")
	if len(res.Outputs) != 2 || res.Outputs[0] != objPath || res.Outputs[1] != mtlPath {
		t.Errorf("Outputs = %v", res.Outputs)
	}
	if res.Meshes != 1 || res.Vertices != 3 || res.Faces != 1 {
		t.Errorf("counts = %d meshes, %d vertices, %d faces", res.Meshes, res.Vertices, res.Faces)
	}

	obj, err := os.ReadFile(objPath)
	if err != nil {
		t.Fatalf("reading obj: %v", err)
	}
	for _, want := range []string{"mtllib crate.mtl\n", "usemtl 1\n", "vt 0.5 1\n", "f 1/1/1 2/2/2 3/3/3\n"} {
		if !strings.Contains(string(obj), want) {
			t.Errorf("obj missing %q:\n%s", want, obj)
		}
	}

	mtl, err := os.ReadFile(mtlPath)
	if err != nil {
		t.Fatalf("reading mtl: %v", err)
	}
	if !strings.Contains(string(mtl), "map_Kd wood.png\n") {
		t.Errorf("mtl missing texture:\n%s", mtl)
	}
}

func TestConvertFile_TextureOverride(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "crate.sgm")
	writeFile(t, input, createTestSGM(true))

	cfg := testConfig()
	cfg.Convert.Texture = "atlas.png"
	output := filepath.Join(dir, "custom", "model.obj")

	res := New(cfg).ConvertFile(input, output)
	if res.Err != nil {
		t.Fatalf("ConvertFile failed: %v", res.Err)
	}

	mtl, err := os.ReadFile(filepath.Join(dir, "custom", "model.mtl"))
	if err != nil {
		t.Fatalf("reading mtl: %v", err)
	}
	if strings.Count(string(mtl), "map_Kd") != 1 || !strings.Contains(string(mtl), "map_Kd atlas.png\n") {
		t.Errorf("expected single override texture:\n%s", mtl)
	}
}

func TestConvertFile_NoUV(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "plain.sgm")
	writeFile(t, input, createTestSGM(false))

	res := New(testConfig()).ConvertFile(input, "")
	if res.Err != nil {
		t.Fatalf("ConvertFile failed: %v", res.Err)
	}

	obj, _ := os.ReadFile(res.Outputs[0])
	if !strings.Contains(string(obj), "f 1//1 2//2 3//3\n") {
		t.Errorf("expected geometry/normal faces:\n%s", obj)
	}
}

func TestConvertFile_DecodeFailureWritesNothing(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "broken.sgm")
	data := createTestSGM(true)
	writeFile(t, input, data[:len(data)-3])

	res := New(testConfig()).ConvertFile(input, "")
	if !errors.Is(res.Err, formats.ErrUnexpectedEndOfStream) {
		t.Fatalf("got %v, want ErrUnexpectedEndOfStream", res.Err)
	}
	var decodeErr *formats.SGMDecodeError
	if !errors.As(res.Err, &decodeErr) {
		t.Errorf("expected *SGMDecodeError in chain, got %T", res.Err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected only the input file, found %d entries", len(entries))
	}
}

func TestConvertFile_MissingInput(t *testing.T) {
	res := New(testConfig()).ConvertFile(filepath.Join(t.TempDir(), "missing.sgm"), "")
	if !errors.Is(res.Err, os.ErrNotExist) {
		t.Errorf("got %v, want os.ErrNotExist", res.Err)
	}
}

func TestFindInputs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.sgm"), nil)
	writeFile(t, filepath.Join(dir, "a.SGM"), nil)
	writeFile(t, filepath.Join(dir, "sub", "c.sgm"), nil)
	writeFile(t, filepath.Join(dir, "notes.txt"), nil)
	explicit := filepath.Join(t.TempDir(), "odd.bin")
	writeFile(t, explicit, nil)

	got, err := New(testConfig()).FindInputs([]string{dir, explicit})
	if err != nil {
		t.Fatalf("FindInputs failed: %v", err)
	}

	want := []string{
		filepath.Join(dir, "a.SGM"),
		filepath.Join(dir, "b.sgm"),
		filepath.Join(dir, "sub", "c.sgm"),
		explicit,
	}
	if len(got) != len(want) {
		t.Fatalf("FindInputs = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("FindInputs[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	if _, err := New(testConfig()).FindInputs([]string{filepath.Join(dir, "nope")}); err == nil {
		t.Error("expected error for missing path")
	}
}

func TestBatch(t *testing.T) {
	dir := t.TempDir()
	var inputs []string
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		p := filepath.Join(dir, name+".sgm")
		writeFile(t, p, createTestSGM(name != "c"))
		inputs = append(inputs, p)
	}
	broken := filepath.Join(dir, "broken.sgm")
	writeFile(t, broken, []byte{0x10, 0xCA})
	inputs = append(inputs, broken)

	results := New(testConfig()).Batch(context.Background(), inputs)
	if len(results) != len(inputs) {
		t.Fatalf("got %d results, want %d", len(results), len(inputs))
	}

	for i, r := range results {
		if r.Input != inputs[i] {
			t.Errorf("results[%d].Input = %s, want %s", i, r.Input, inputs[i])
		}
		if r.Input == broken {
			if !errors.Is(r.Err, formats.ErrMalformedSGMHeader) {
				t.Errorf("broken input: got %v, want ErrMalformedSGMHeader", r.Err)
			}
			continue
		}
		if r.Err != nil {
			t.Errorf("%s: %v", r.Input, r.Err)
			continue
		}
		if _, err := os.Stat(r.Outputs[0]); err != nil {
			t.Errorf("%s: output missing: %v", r.Input, err)
		}
	}
}

func TestBatch_OutputConflict(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "x", "crate.sgm")
	second := filepath.Join(dir, "y", "crate.sgm")
	writeFile(t, first, createTestSGM(true))
	writeFile(t, second, createTestSGM(true))

	cfg := testConfig()
	cfg.Convert.OutputDir = filepath.Join(dir, "out")

	results := New(cfg).Batch(context.Background(), []string{first, second})
	if results[0].Err != nil {
		t.Errorf("first input failed: %v", results[0].Err)
	}
	if !errors.Is(results[1].Err, ErrOutputConflict) {
		t.Errorf("second input: got %v, want ErrOutputConflict", results[1].Err)
	}
}

func TestBatch_Canceled(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "crate.sgm")
	writeFile(t, input, createTestSGM(true))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := New(testConfig()).Batch(ctx, []string{input})
	if !errors.Is(results[0].Err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", results[0].Err)
	}
	if _, err := os.Stat(filepath.Join(dir, "crate.obj")); !os.IsNotExist(err) {
		t.Error("canceled batch should not write output")
	}
}
