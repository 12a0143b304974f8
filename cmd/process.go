package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/vidproc/internal/pipeline"
	"github.com/andresmejia3/vidproc/internal/sink"
	"github.com/andresmejia3/vidproc/internal/source"
	"github.com/andresmejia3/vidproc/internal/transform"
	"github.com/andresmejia3/vidproc/internal/types"
	"github.com/andresmejia3/vidproc/internal/utils"
	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// DefaultInputPath is processed when --video-file-path is not given.
var DefaultInputPath = filepath.Join("data", "video_1.mp4")

var processOpts Options

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Segment a video or convert it to monochrome without a display",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		processOpts.FFmpegTools = envCfg.Tools()
		return runProcess(cmd.Context(), processOpts)
	},
}

func init() {
	processCmd.Flags().StringVarP(&processOpts.InputPath, "video-file-path", "i", DefaultInputPath, "Path to the input video or a directory of images")
	processCmd.Flags().StringVarP(&processOpts.TargetPath, "target-file-path", "o", "", "Path to the output video (default: <input dir>/<name>_processed.mp4)")
	processCmd.Flags().StringVar(&processOpts.FramesDir, "frames-dir", "", "Write PNG frames to this directory instead of encoding a video (must be new, empty, or a previous frame dump)")
	processCmd.Flags().BoolVarP(&processOpts.Segment, "segment", "s", false, "Keep foreground pixels and black out the background")
	processCmd.Flags().BoolVarP(&processOpts.Monochrome, "monochrome", "m", false, "Convert frames to grayscale (default when no mode is given)")
	processCmd.Flags().StringVar(&processOpts.Segmenter, "segmenter", string(types.SegmenterOtsu), "Segmentation algorithm: otsu, background")
	processCmd.Flags().Float64VarP(&processOpts.FrameRate, "frame-rate", "r", 0, "Output frame rate (0 keeps the source rate)")
	processCmd.Flags().StringVar(&processOpts.Resolution, "output-resolution", "", "Resize output frames to WIDTHxHEIGHT")
	processCmd.Flags().StringVar(&processOpts.Codec, "codec", envCfg.Codec, "FFmpeg video codec for the output file")
	processCmd.Flags().IntVarP(&processOpts.Workers, "workers", "w", envCfg.Workers, "Number of parallel transform workers")
	processCmd.Flags().BoolVar(&processOpts.NoProgress, "no-progress", false, "Hide the progress bar")

	rootCmd.AddCommand(processCmd)
}

// processMode picks the transform for headless runs. With no flag the fixed
// monochrome routine runs.
func processMode(segment, monochrome bool) (types.Mode, error) {
	switch {
	case segment && monochrome:
		return types.ModeUndefined, fmt.Errorf("%w: --segment and --monochrome are mutually exclusive", types.ErrUsage)
	case segment:
		return types.ModeSegment, nil
	default:
		return types.ModeMonochrome, nil
	}
}

// defaultTargetPath places the output next to the input: data/video_1.mp4
// becomes data/video_1_processed.mp4.
func defaultTargetPath(input string) string {
	input = filepath.Clean(input)
	base := filepath.Base(input)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if info, err := os.Stat(input); err == nil && info.IsDir() {
		stem = base
	}
	return filepath.Join(filepath.Dir(input), stem+"_processed.mp4")
}

func validateProcessFlags(opts *Options) error {
	if opts.InputPath == "" {
		return fmt.Errorf("%w: --video-file-path must not be empty", types.ErrUsage)
	}
	if opts.FrameRate < 0 {
		return fmt.Errorf("%w: --frame-rate must be >= 0, got %v", types.ErrUsage, opts.FrameRate)
	}
	if opts.TargetPath != "" && opts.FramesDir != "" {
		return fmt.Errorf("%w: --target-file-path and --frames-dir are mutually exclusive", types.ErrUsage)
	}
	// The frame dump replaces its directory on commit; it must not hold the input.
	if opts.FramesDir != "" && pathWithin(opts.FramesDir, opts.InputPath) {
		return fmt.Errorf("%w: --frames-dir %s contains the input %s", types.ErrUsage, opts.FramesDir, opts.InputPath)
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.FFmpegTools == (utils.Tools{}) {
		opts.FFmpegTools = utils.DefaultTools
	}
	return nil
}

func runProcess(ctx context.Context, opts Options) error {
	// Child processes (FFmpeg) are killed as soon as this function returns.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := validateProcessFlags(&opts); err != nil {
		return err
	}
	mode, err := processMode(opts.Segment, opts.Monochrome)
	if err != nil {
		return err
	}
	segmenter, err := types.ParseSegmenter(opts.Segmenter)
	if err != nil {
		return err
	}
	width, height, err := utils.ParseResolution(opts.Resolution)
	if err != nil {
		return err
	}

	tr, err := transform.New(mode, segmenter)
	if err != nil {
		return err
	}
	defer tr.Close()

	src, err := source.Open(ctx, opts.InputPath, source.Options{Tools: opts.FFmpegTools, FrameRate: opts.FrameRate})
	if err != nil {
		return err
	}
	// The driver closes the source; this covers the early returns below.
	defer src.Close()
	info := src.Info()

	fps := info.FPS
	if opts.FrameRate > 0 {
		fps = opts.FrameRate
	}

	var (
		snk        sink.Sink
		outputPath string
	)
	if opts.FramesDir != "" {
		fd, err := sink.NewFrameDir(opts.FramesDir, width, height)
		if err != nil {
			return err
		}
		snk, outputPath = fd, fd.Path()
	} else {
		target := opts.TargetPath
		if target == "" {
			target = defaultTargetPath(opts.InputPath)
		}
		// Safety Check: Prevent overwriting input file which causes corruption
		inAbs, _ := filepath.Abs(opts.InputPath)
		outAbs, _ := filepath.Abs(target)
		if inAbs == outAbs {
			return fmt.Errorf("%w: input and output paths must be different", types.ErrUsage)
		}
		vf, err := sink.NewVideoFile(target, sink.VideoFileOptions{
			Tools:  opts.FFmpegTools,
			Codec:  opts.Codec,
			FPS:    fps,
			Width:  width,
			Height: height,
		})
		if err != nil {
			return err
		}
		snk, outputPath = vf, vf.Path()
	}

	ledger, err := startLedger(ctx, info, opts.InputPath, outputPath, tr.String())
	if err != nil {
		snk.Abort()
		return err
	}

	fmt.Fprintf(os.Stderr, "🎞️  %s: %dx%d @ %.2f fps, %s\n", info.Path, info.Width, info.Height, info.FPS, tr)

	total := info.TotalFrames
	if total <= 0 {
		// Fallback to a spinner or unknown total if ffprobe fails
		total = -1
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("⚙️  Processing"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
		progressbar.OptionSetVisibility(!opts.NoProgress),
	)

	driver := pipeline.New(pipeline.Config{
		Workers: opts.Workers,
		OnFrame: func(*types.Frame) { bar.Add(1) },
	})
	res, runErr := driver.Run(ctx, src, tr, snk)
	bar.Finish()
	ledger.finish(res, runErr)

	if runErr != nil {
		return runErr
	}

	fmt.Fprintf(os.Stderr, "\n🏁 Processing Complete. %d frames in %s → %s%s\n",
		res.Frames, res.Elapsed.Round(timeRounding), outputPath, sizeSuffix(outputPath))
	return nil
}

// pathWithin reports whether child is parent itself or lies below it.
func pathWithin(parent, child string) bool {
	parentAbs, err := filepath.Abs(parent)
	if err != nil {
		return false
	}
	childAbs, err := filepath.Abs(child)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(parentAbs, childAbs)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// sizeSuffix describes the size of a finished output file, if it is one.
func sizeSuffix(path string) string {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return ""
	}
	return fmt.Sprintf(" (%s)", humanize.Bytes(uint64(info.Size())))
}

func logLedgerError(action string, err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	logrus.WithFields(logrus.Fields{"function": "ledger", "action": action}).WithError(err).Warn("run ledger update failed")
}
