// Package convert turns SGM files on disk into OBJ/MTL pairs.
package convert

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/sgm2obj/internal/config"
	"github.com/Faultbox/sgm2obj/internal/logger"
	"github.com/Faultbox/sgm2obj/pkg/formats"
)

// ErrOutputConflict is returned when two inputs in one batch would write the
// same output file.
var ErrOutputConflict = errors.New("output path already used by another input")

// Converter converts SGM files using one configuration.
// It holds no mutable state and is safe for concurrent use.
type Converter struct {
	cfg *config.Config
	log *zap.Logger
}

// New creates a Converter.
func New(cfg *config.Config) *Converter {
	return &Converter{
		cfg: cfg,
		log: logger.Named("convert"),
	}
}

// Result describes the outcome of converting one file.
type Result struct {
	Input    string
	Outputs  []string // OBJ path then MTL path; empty on failure
	Meshes   int
	Vertices int
	Faces    int
	Duration time.Duration
	Err      error
}

// OutputPath returns the default OBJ path for an input file.
func (c *Converter) OutputPath(input string) string {
	name := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input)) + ".obj"
	if c.cfg.Convert.OutputDir != "" {
		return filepath.Join(c.cfg.Convert.OutputDir, name)
	}
	return filepath.Join(filepath.Dir(input), name)
}

// Decode reads and parses an SGM file.
func (c *Converter) Decode(path string) (*formats.SGM, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	sgm, err := formats.ParseSGMWithOptions(data, formats.SGMOptions{
		LegacyCharset: c.cfg.Decode.LegacyCharset,
	})
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return sgm, nil
}

// ConvertFile converts input to output and its sibling .mtl file.
// An empty output selects OutputPath(input). Nothing is written if
// decoding or encoding fails.
func (c *Converter) ConvertFile(input, output string) Result {
	start := time.Now()
	if output == "" {
		output = c.OutputPath(input)
	}
	res := Result{Input: input}

	sgm, err := c.Decode(input)
	if err != nil {
		return c.fail(res, start, err)
	}

	outputs, err := formats.WriteOBJFiles(sgm, output, formats.OBJOptions{
		TextureOverride:       c.cfg.Convert.Texture,
		NormalizeTexturePaths: c.cfg.Convert.NormalizeTexturePaths,
	})
	if err != nil {
		return c.fail(res, start, fmt.Errorf("encoding %s: %w", input, err))
	}

	res.Outputs = outputs
	res.Meshes = len(sgm.Meshes)
	res.Vertices = sgm.GetTotalVertexCount()
	res.Faces = sgm.GetTotalIndexCount() / 3
	res.Duration = time.Since(start)

	c.log.Info("converted",
		zap.String("input", input),
		zap.Strings("outputs", outputs),
		zap.Int("materials", len(sgm.Materials)),
		zap.Int("meshes", res.Meshes),
		zap.Int("vertices", res.Vertices),
		zap.Int("faces", res.Faces),
		zap.Duration("took", res.Duration),
	)
	return res
}

func (c *Converter) fail(res Result, start time.Time, err error) Result {
	res.Err = err
	res.Duration = time.Since(start)

	var decodeErr *formats.SGMDecodeError
	if errors.As(err, &decodeErr) {
		c.log.Error("conversion failed",
			zap.String("input", res.Input),
			zap.String("field", decodeErr.Field),
			zap.Int64("offset", decodeErr.Offset),
			zap.Error(err),
		)
	} else {
		c.log.Error("conversion failed", zap.String("input", res.Input), zap.Error(err))
	}
	return res
}

// Batch converts inputs concurrently, at most cfg.Batch.Workers at a time.
// Files are independent: one failure does not stop the others. Results are
// returned in input order. Inputs not yet started when ctx is done fail
// with ctx.Err().
func (c *Converter) Batch(ctx context.Context, inputs []string) []Result {
	results := make([]Result, len(inputs))

	owner := make(map[string]string, len(inputs))
	outputs := make([]string, len(inputs))
	for i, input := range inputs {
		out := filepath.Clean(c.OutputPath(input))
		if prev, ok := owner[out]; ok {
			results[i] = c.fail(Result{Input: input}, time.Now(),
				fmt.Errorf("%w: %s (from %s)", ErrOutputConflict, out, prev))
			continue
		}
		owner[out] = input
		outputs[i] = out
	}

	workers := c.cfg.Batch.Workers
	if workers < 1 {
		workers = 1
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for i, input := range inputs {
		if outputs[i] == "" {
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = Result{Input: input, Err: err}
				return nil
			}
			results[i] = c.ConvertFile(input, outputs[i])
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	logger.Sugar.Infow("batch finished", "files", len(inputs), "failed", failed, "workers", workers)

	return results
}

// FindInputs expands directories into the SGM files they contain.
// Files named explicitly are kept regardless of extension.
func (c *Converter) FindInputs(paths []string) ([]string, error) {
	ext := strings.ToLower(c.cfg.Batch.Extension)

	var inputs []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			inputs = append(inputs, p)
			continue
		}

		var found []string
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.ToLower(filepath.Ext(path)) == ext {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", p, err)
		}
		sort.Strings(found)
		inputs = append(inputs, found...)
	}
	return inputs, nil
}
