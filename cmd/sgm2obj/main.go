// sgm2obj converts Rayne SGM models to Wavefront OBJ/MTL files.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/Faultbox/sgm2obj/internal/config"
	"github.com/Faultbox/sgm2obj/internal/convert"
	"github.com/Faultbox/sgm2obj/internal/logger"
	"github.com/Faultbox/sgm2obj/pkg/formats"
)

func main() {
	os.Exit(run())
}

func run() int {
	config.ParseFlags()
	args := config.Args()
	if len(args) < 1 {
		printUsage()
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	command := args[0]
	args = args[1:]

	switch command {
	case "convert", "c":
		return cmdConvert(cfg, args)
	case "info", "i":
		return cmdInfo(cfg, args)
	case "batch", "b":
		return cmdBatch(cfg, args)
	case "config":
		return cmdConfig(cfg, args)
	case "help", "-h", "--help":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Println(`sgm2obj - Rayne SGM to Wavefront OBJ converter

Usage:
  sgm2obj [flags] <command> [arguments]

Commands:
  convert <file.sgm> [output.obj]    Convert one model (writes .obj and .mtl)
  info <file.sgm>                    Show model information
  batch <file|dir>...                Convert many models in parallel
  config [save [path]]               Print or save the effective config

Flags (before or after the command):
  -config <path>     Config file (default ./config.yaml, then user config dir)
  -texture <name>    Single texture name for every textured material
  -out-dir <dir>     Directory for converted files
  -workers <n>       Parallel conversions in batch mode
  -charset <name>    Charset for texture names that are not UTF-8
  -log-file <path>   Also write logs to this file
  -debug             Enable debug logging

Examples:
  sgm2obj convert ship.sgm
  sgm2obj -texture ship_diffuse.png convert ship.sgm out/ship.obj
  sgm2obj -workers 8 -out-dir converted batch models/`)
}

func cmdConvert(cfg *config.Config, args []string) int {
	if len(args) < 1 || len(args) > 2 {
		fmt.Fprintln(os.Stderr, "Usage: sgm2obj convert <file.sgm> [output.obj]")
		return 1
	}

	output := ""
	if len(args) == 2 {
		output = args[1]
	}

	res := convert.New(cfg).ConvertFile(args[0], output)
	if res.Err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", res.Err)
		return 1
	}

	for _, p := range res.Outputs {
		fmt.Printf("Wrote: %s\n", p)
	}
	return 0
}

func cmdInfo(cfg *config.Config, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: sgm2obj info <file.sgm>")
		return 1
	}

	sgm, err := convert.New(cfg).Decode(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	names := formats.MaterialNames(sgm)

	fmt.Printf("File:      %s\n", args[0])
	fmt.Printf("Version:   %d\n", sgm.Version)
	fmt.Printf("Materials: %d\n", len(sgm.Materials))
	fmt.Printf("Meshes:    %d\n", len(sgm.Meshes))
	fmt.Printf("Vertices:  %d\n", sgm.GetTotalVertexCount())
	fmt.Printf("Faces:     %d\n", sgm.GetTotalIndexCount()/3)
	if min, max, ok := sgm.GetBounds(); ok {
		fmt.Printf("Bounds:    (%g, %g, %g) - (%g, %g, %g)\n", min[0], min[1], min[2], max[0], max[1], max[2])
	}

	if len(sgm.Materials) > 0 {
		fmt.Println()
		fmt.Println("Materials:")
		for i, mat := range sgm.Materials {
			textures := 0
			for _, set := range mat.UVSets {
				textures += len(set)
			}
			fmt.Printf("  [%d] %-8s id=%-3d uv sets=%d textures=%d colors=%d\n",
				i, names[i], mat.ID, len(mat.UVSets), textures, len(mat.Colors))
		}
	}

	if len(sgm.Meshes) > 0 {
		fmt.Println()
		fmt.Println("Meshes:")
		for i := range sgm.Meshes {
			mesh := &sgm.Meshes[i]
			fmt.Printf("  [%d] id=%-3d material=%-8s vertices=%-6d indices=%-6d width=%d %s\n",
				i, mesh.ID, formats.ResolveMaterialName(sgm, names, mesh),
				len(mesh.Vertices), len(mesh.Indices), mesh.IndexWidth, describeLayout(mesh.Layout))
		}
	}

	if textures := sgm.GetTextures(); len(textures) > 0 {
		fmt.Println()
		fmt.Println("Textures:")
		for _, name := range textures {
			fmt.Printf("  %s\n", name)
		}
	}
	return 0
}

func describeLayout(l formats.SGMVertexLayout) string {
	parts := []string{fmt.Sprintf("uv=%d", l.UVChannels)}
	if l.HasColor() {
		parts = append(parts, "color")
	}
	if l.HasTangent {
		parts = append(parts, "tangent")
	}
	if l.HasBones {
		parts = append(parts, "bones")
	}
	return strings.Join(parts, ",")
}

func cmdBatch(cfg *config.Config, args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: sgm2obj batch <file|dir>...")
		return 1
	}

	c := convert.New(cfg)
	inputs, err := c.FindInputs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if len(inputs) == 0 {
		fmt.Fprintln(os.Stderr, "No files found")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	failed := 0
	for _, res := range c.Batch(ctx, inputs) {
		if res.Err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "FAIL %s: %v\n", res.Input, res.Err)
			continue
		}
		fmt.Printf("OK   %s -> %s\n", res.Input, res.Outputs[0])
	}

	fmt.Fprintf(os.Stderr, "\nConverted %d of %d files\n", len(inputs)-failed, len(inputs))
	if failed > 0 {
		return 1
	}
	return 0
}

func cmdConfig(cfg *config.Config, args []string) int {
	if len(args) == 0 {
		data, err := cfg.Marshal()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		os.Stdout.Write(data)
		return 0
	}

	if args[0] != "save" || len(args) > 2 {
		fmt.Fprintln(os.Stderr, "Usage: sgm2obj config [save [path]]")
		return 1
	}

	path := ""
	var err error
	if len(args) == 2 {
		path = args[1]
		err = cfg.SaveTo(path)
	} else {
		path, err = cfg.Save()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Printf("Saved: %s\n", path)
	return 0
}
