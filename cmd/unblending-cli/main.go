// Command unblending-cli decomposes an image into a stack of color layers
// that recomposite to the input.
package main

import (
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/setanarut/unblending"
	"github.com/setanarut/unblending/utils"
)

type config struct {
	outDir         string
	width          int
	explicitNames  bool
	verbose        bool
	inputPath      string
	layerInfosPath string
	opaqueBG       bool
	smoothBG       bool
	autoLayers     int
	paletteMethod  string
	workers        int
	radius         int
	epsilon        float64
	luminanceGuide bool
	logLevel       string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfg config
	cmd := &cobra.Command{
		Use:          "unblending-cli -i <image> [-l <layer-infos>]",
		Short:        "Decompose an image into blend-mode layers",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := setupLogger(cfg.logLevel); err != nil {
				return err
			}
			return run(cmd, cfg)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&cfg.outDir, "outdir", "o", "./out", "output directory")
	f.IntVarP(&cfg.width, "width", "w", -1, "resize the input to this width before processing")
	f.BoolVarP(&cfg.explicitNames, "explicit-mode-names", "e", false, "append blend mode names to layer file names")
	f.BoolVarP(&cfg.verbose, "verbose-export", "v", false, "also export intermediate layers, recomposites and model swatches")
	f.StringVarP(&cfg.inputPath, "input-image-path", "i", "", "input image (png, jpeg or webp)")
	f.StringVarP(&cfg.layerInfosPath, "layer-infos-path", "l", "", "layer infos file (.json, .toml or .yaml)")
	f.BoolVar(&cfg.opaqueBG, "opaque-bg", false, "force the bottom layer to be fully opaque")
	f.BoolVar(&cfg.smoothBG, "smooth-bg", false, "refine the bottom layer's matte as well")
	f.IntVar(&cfg.autoLayers, "auto-layers", 5, "number of layers to derive from the image when no layer infos are given")
	f.StringVar(&cfg.paletteMethod, "palette-method", "dominantcolor", "dominantcolor, kmeans or gaussian")
	f.IntVar(&cfg.workers, "workers", 0, "worker goroutines (0 = GOMAXPROCS)")
	f.IntVar(&cfg.radius, "radius", 0, "guided filter radius (0 = derived from the image size)")
	f.Float64Var(&cfg.epsilon, "epsilon", 0, "guided filter regularization (0 = default)")
	f.BoolVar(&cfg.luminanceGuide, "luminance-guide", false, "guide refinement with luminance instead of color")
	f.StringVar(&cfg.logLevel, "log-level", "info", "debug, info, warn or error")
	_ = cmd.MarkFlagRequired("input-image-path")
	return cmd
}

func setupLogger(level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	unblending.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
	return nil
}

func run(cmd *cobra.Command, cfg config) error {
	log := unblending.Logger()

	img, err := utils.ReadImage(cfg.inputPath)
	if err != nil {
		return err
	}
	img = utils.ScaleToWidth(img, cfg.width)

	stack, err := loadStack(cfg, img)
	if err != nil {
		return err
	}
	log.Info("layer infos", slog.Int("layers", len(stack)))
	printStack(cmd.OutOrStdout(), stack)

	opt := unblending.OptionsFromSize(img.Bounds().Size())
	opt.HasOpaqueBackground = cfg.opaqueBG
	opt.ForceSmoothBackground = cfg.smoothBG
	opt.Workers = cfg.workers
	if cfg.radius > 0 {
		opt.Radius = cfg.radius
	}
	if cfg.epsilon > 0 {
		opt.Epsilon = cfg.epsilon
	}
	if cfg.luminanceGuide {
		opt.Guide = unblending.GuideLuminance
	}

	start := time.Now()
	d := unblending.NewDecomposer(img, stack)
	if err := d.BuildContext(cmd.Context(), opt); err != nil {
		return err
	}
	log.Info("decomposed",
		slog.Duration("elapsed", time.Since(start)),
		slog.Float64("mean_residual", d.Raw.MeanResidual()),
		slog.Float64("max_residual", d.Raw.MaxResidual()))

	if cfg.verbose {
		if err := exportVerbose(cfg, d); err != nil {
			return err
		}
	}
	if err := utils.ExportLayers(d.Refined, cfg.outDir, "layer", cfg.verbose, cfg.explicitNames, stack); err != nil {
		return err
	}
	if err := utils.ExportLayerInfos(stack, cfg.outDir); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d layers to %s\n", len(d.Refined), cfg.outDir)
	return nil
}

func loadStack(cfg config, img image.Image) (unblending.LayerStack, error) {
	if cfg.layerInfosPath != "" {
		return utils.ImportLayerInfos(cfg.layerInfosPath)
	}
	method, err := utils.ParsePaletteMethod(cfg.paletteMethod)
	if err != nil {
		return nil, err
	}
	unblending.Logger().Info("deriving layer infos from the image",
		slog.Int("layers", cfg.autoLayers),
		slog.String("method", method.String()))
	if method == utils.PaletteMethodGaussian {
		models, err := utils.ExtractGaussianModels(img, cfg.autoLayers)
		if err != nil {
			return nil, err
		}
		return utils.LayerInfosFromModels(models), nil
	}
	palette, err := utils.ExtractPalette(img, cfg.autoLayers, method)
	if err != nil {
		return nil, err
	}
	utils.SortPaletteByBrightness(palette)
	return utils.LayerInfosFromPalette(palette, unblending.Normal), nil
}

func exportVerbose(cfg config, d *unblending.Decomposer) error {
	dir := cfg.outDir
	if err := utils.ExportLayers(d.Raw.Layers, dir, "non-smoothed-layer", true, cfg.explicitNames, d.Stack); err != nil {
		return err
	}
	if err := utils.SaveImage(d.Input.NRGBA(), filepath.Join(dir, "input.png")); err != nil {
		return err
	}
	raw, err := d.Reconstruct(d.Raw.Layers)
	if err != nil {
		return err
	}
	if err := utils.SaveImage(raw.NRGBA(), filepath.Join(dir, "non-smoothed-recomposited.png")); err != nil {
		return err
	}
	refined, err := d.Reconstruct(d.Refined)
	if err != nil {
		return err
	}
	if err := utils.SaveImage(refined.NRGBA(), filepath.Join(dir, "recomposited.png")); err != nil {
		return err
	}
	return utils.ExportModels(d.Stack.ColorModels(), dir, "model")
}

// printStack lists the layers bottom to top with a swatch of each model's
// representative color. Swatches degrade to plain text off a terminal.
func printStack(w io.Writer, stack unblending.LayerStack) {
	out := termenv.NewOutput(w)
	for i, l := range stack {
		hex := l.Model.Representative().Clamped().Hex()
		swatch := out.String("    ").Background(out.Color(hex))
		fmt.Fprintf(w, "%02d %s %s %-10s %-15s %s\n", i+1, swatch, hex, l.Mode, l.CompOp, l.Model.Kind)
	}
}
