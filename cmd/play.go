package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/andresmejia3/vidproc/internal/pipeline"
	"github.com/andresmejia3/vidproc/internal/sink"
	"github.com/andresmejia3/vidproc/internal/source"
	"github.com/andresmejia3/vidproc/internal/transform"
	"github.com/andresmejia3/vidproc/internal/types"
	"github.com/andresmejia3/vidproc/internal/utils"
	"github.com/spf13/cobra"
)

var (
	playOpts              Options
	playDisplayResolution string
)

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Show the transformed video in a window",
	Long: `Plays the transformed video in a window at the source frame rate.

Keys: q/Esc quit, p/space pause, b step back and n step forward while paused.

A recording (--target-file-path) is only kept when playback reaches the end
of the video. Quitting early discards it, so no truncated file is left behind.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		playOpts.FFmpegTools = envCfg.Tools()
		return runPlay(cmd.Context(), playOpts, playDisplayResolution)
	},
}

func init() {
	playCmd.Flags().StringVarP(&playOpts.InputPath, "video-file-path", "i", "", "Path to the input video or a directory of images (required)")
	playCmd.Flags().StringVarP(&playOpts.TargetPath, "target-file-path", "o", "", "Also record the transformed video to this file (discarded if playback is quit early)")
	playCmd.Flags().BoolVarP(&playOpts.Segment, "segment", "s", false, "Keep foreground pixels and black out the background")
	playCmd.Flags().BoolVarP(&playOpts.Monochrome, "monochrome", "m", false, "Convert frames to grayscale")
	playCmd.Flags().StringVar(&playOpts.Segmenter, "segmenter", string(types.SegmenterOtsu), "Segmentation algorithm: otsu, background")
	playCmd.Flags().Float64VarP(&playOpts.FrameRate, "frame-rate", "r", 0, "Playback frame rate (0 keeps the source rate)")
	playCmd.Flags().StringVar(&playDisplayResolution, "display-resolution", "", "Resize the window to WIDTHxHEIGHT")
	playCmd.Flags().StringVar(&playOpts.Codec, "codec", envCfg.Codec, "FFmpeg video codec for the recording")

	rootCmd.AddCommand(playCmd)
}

// playMode requires exactly one of the mode flags.
func playMode(segment, monochrome bool) (types.Mode, error) {
	switch {
	case segment == monochrome:
		return types.ModeUndefined, fmt.Errorf("%w: exactly one of --segment or --monochrome is required", types.ErrUsage)
	case segment:
		return types.ModeSegment, nil
	default:
		return types.ModeMonochrome, nil
	}
}

func runPlay(ctx context.Context, opts Options, displayResolution string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	mode, err := playMode(opts.Segment, opts.Monochrome)
	if err != nil {
		return err
	}
	if opts.InputPath == "" {
		return fmt.Errorf("%w: --video-file-path is required", types.ErrUsage)
	}
	if opts.FrameRate < 0 {
		return fmt.Errorf("%w: --frame-rate must be >= 0, got %v", types.ErrUsage, opts.FrameRate)
	}
	if opts.FFmpegTools == (utils.Tools{}) {
		opts.FFmpegTools = utils.DefaultTools
	}
	segmenter, err := types.ParseSegmenter(opts.Segmenter)
	if err != nil {
		return err
	}
	width, height, err := utils.ParseResolution(displayResolution)
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
	defer src.Close()
	info := src.Info()

	fps := info.FPS
	if opts.FrameRate > 0 {
		fps = opts.FrameRate
	}

	surface, err := sink.NewWindow("vidproc: "+tr.String(), width, height)
	if err != nil {
		return err
	}
	var snk sink.Sink = sink.NewDisplay(surface, sink.DisplayOptions{FPS: fps, Width: width, Height: height})

	outputPath := ""
	if opts.TargetPath != "" {
		vf, err := sink.NewVideoFile(opts.TargetPath, sink.VideoFileOptions{
			Tools: opts.FFmpegTools,
			Codec: opts.Codec,
			FPS:   fps,
		})
		if err != nil {
			snk.Abort()
			return err
		}
		snk, outputPath = sink.Tee{snk, vf}, vf.Path()
	}

	ledger, err := startLedger(ctx, info, opts.InputPath, outputPath, tr.String())
	if err != nil {
		snk.Abort()
		return err
	}

	fmt.Fprintf(os.Stderr, "▶️  Playing %s (%s). Press q to quit, p to pause.\n", info.Path, tr)

	driver := pipeline.New(pipeline.Config{Interactive: true})
	res, runErr := driver.Run(ctx, src, tr, snk)
	ledger.finish(res, runErr)

	if errors.Is(runErr, types.ErrCancelled) {
		fmt.Fprintf(os.Stderr, "⏹️  Playback stopped after %d frames.\n", res.Frames)
		return nil
	}
	if runErr != nil {
		return runErr
	}
	fmt.Fprintf(os.Stderr, "🏁 Playback finished: %d frames.\n", res.Frames)
	return nil
}
