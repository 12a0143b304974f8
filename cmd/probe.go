package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/andresmejia3/vidproc/internal/source"
	"github.com/andresmejia3/vidproc/internal/types"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var probeCmd = &cobra.Command{
	Use:   "probe <path>",
	Short: "Print the dimensions, frame rate and length of a video or image directory",
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("%w: probe takes exactly one path, got %d", types.ErrUsage, len(args))
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runProbe(cmd.Context(), os.Stdout, args[0])
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func runProbe(ctx context.Context, out io.Writer, path string) error {
	src, err := source.Open(ctx, path, source.Options{Tools: envCfg.Tools()})
	if err != nil {
		return err
	}
	defer src.Close()
	writeVideoInfo(out, src.Info())
	return nil
}

func writeVideoInfo(out io.Writer, info types.VideoInfo) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "PATH\t%s\n", info.Path)
	fmt.Fprintf(w, "SIZE\t%dx%d\n", info.Width, info.Height)
	fmt.Fprintf(w, "FPS\t%.3f\n", info.FPS)
	if info.TotalFrames > 0 {
		length := time.Duration(info.TotalFrames) * info.FrameDuration()
		fmt.Fprintf(w, "FRAMES\t%d (%s)\n", info.TotalFrames, length.Round(timeRounding))
	} else {
		fmt.Fprintf(w, "FRAMES\tunknown\n")
	}
	fmt.Fprintf(w, "CODEC\t%s\n", info.Codec)
	if st, err := os.Stat(info.Path); err == nil && !st.IsDir() {
		fmt.Fprintf(w, "FILE SIZE\t%s\n", humanize.Bytes(uint64(st.Size())))
	}
	w.Flush()
}
