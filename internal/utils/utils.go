package utils

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/andresmejia3/vidproc/internal/types"
	"github.com/sirupsen/logrus"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr (FFmpeg logs)
// This ensures we don't lose the reason a decoder or encoder died.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand initializes a command bound to ctx and attaches a buffer to its Stderr pipe.
// It prepares the command for execution but does not start it.
func NewSafeCommand(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// Logs returns the captured stderr, trimmed.
func (s *SafeCommand) Logs() string {
	if s == nil || s.Stderr == nil {
		return ""
	}
	return strings.TrimSpace(s.Stderr.String())
}

// ShowError prints the formatted error box used by every command.
// Captured FFmpeg logs are appended when a SafeCommand is provided.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 VIDPROC ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}

	if logs := s.Logs(); logs != "" {
		fmt.Fprintf(os.Stderr, "\nFFMPEG LOGS:\n%s\n", logs)
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// --- 2. Video Engine (Shared by Source & Sink) ---

// Tools names the external binaries used for decoding, encoding and probing.
type Tools struct {
	FFmpeg  string
	FFprobe string
}

// DefaultTools resolves ffmpeg and ffprobe from PATH.
var DefaultTools = Tools{FFmpeg: "ffmpeg", FFprobe: "ffprobe"}

func (t Tools) ffmpeg() string {
	if t.FFmpeg == "" {
		return DefaultTools.FFmpeg
	}
	return t.FFmpeg
}

func (t Tools) ffprobe() string {
	if t.FFprobe == "" {
		return DefaultTools.FFprobe
	}
	return t.FFprobe
}

// ffprobeOutput is the subset of `ffprobe -of json` we rely on.
type ffprobeOutput struct {
	Streams []struct {
		CodecName     string `json:"codec_name"`
		Width         int    `json:"width"`
		Height        int    `json:"height"`
		RFrameRate    string `json:"r_frame_rate"`
		AvgFrameRate  string `json:"avg_frame_rate"`
		NbFrames      string `json:"nb_frames"`
		NbReadPackets string `json:"nb_read_packets"`
	} `json:"streams"`
}

// Probe inspects the first video stream of path.
// A file ffprobe cannot parse, or one without a video stream, yields ErrUnsupportedFormat.
func (t Tools) Probe(ctx context.Context, path string) (types.VideoInfo, error) {
	if _, err := exec.LookPath(t.ffprobe()); err != nil {
		return types.VideoInfo{}, fmt.Errorf("ffprobe not found: %w", err)
	}

	probe := NewSafeCommand(ctx, t.ffprobe(), "-v", "error", "-select_streams", "v:0",
		"-show_entries", "stream=codec_name,width,height,r_frame_rate,avg_frame_rate,nb_frames",
		"-of", "json", path)
	out, err := probe.Output()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Probe",
			"path":     path,
			"stderr":   probe.Logs(),
		}).Debug("ffprobe rejected input")
		return types.VideoInfo{}, fmt.Errorf("%w: ffprobe could not read %s: %v", types.ErrUnsupportedFormat, path, err)
	}

	info, err := ParseProbeOutput(out)
	if err != nil {
		return types.VideoInfo{}, err
	}
	info.Path = path

	// Container metadata may be "N/A" (e.g. MKV, VFR); count packets instead.
	if info.TotalFrames <= 0 {
		info.TotalFrames = t.CountFrames(ctx, path)
	}
	return info, nil
}

// ParseProbeOutput turns ffprobe JSON into a VideoInfo.
func ParseProbeOutput(out []byte) (types.VideoInfo, error) {
	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil {
		return types.VideoInfo{}, fmt.Errorf("%w: ffprobe JSON parse error: %v", types.ErrUnsupportedFormat, err)
	}
	if len(res.Streams) == 0 {
		return types.VideoInfo{}, fmt.Errorf("%w: no video stream", types.ErrUnsupportedFormat)
	}
	s := res.Streams[0]
	if s.Width <= 0 || s.Height <= 0 {
		return types.VideoInfo{}, fmt.Errorf("%w: invalid dimensions %dx%d", types.ErrUnsupportedFormat, s.Width, s.Height)
	}

	fps, err := ParseRate(s.AvgFrameRate)
	if err != nil || fps <= 0 {
		fps, err = ParseRate(s.RFrameRate)
	}
	if err != nil || fps <= 0 {
		return types.VideoInfo{}, fmt.Errorf("%w: unknown frame rate", types.ErrUnsupportedFormat)
	}

	info := types.VideoInfo{
		Width:  s.Width,
		Height: s.Height,
		FPS:    fps,
		Codec:  s.CodecName,
	}
	if count, err := strconv.Atoi(s.NbFrames); err == nil && count > 0 {
		info.TotalFrames = count
	}
	return info, nil
}

// ParseRate parses an ffprobe rational ("30000/1001") or a plain number.
func ParseRate(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty rate")
	}
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		return strconv.ParseFloat(s, 64)
	}
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, err
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return 0, fmt.Errorf("zero denominator in rate %q", s)
	}
	return n / d, nil
}

// CountFrames uses ffprobe to count packets for the progress bar.
// It returns 0 if the count fails, allowing the caller to fallback to a spinner.
func (t Tools) CountFrames(ctx context.Context, path string) int {
	fmt.Fprintf(os.Stderr, "⏳ Metadata missing. Counting frames (this may take a moment)...\n")
	cmd := NewSafeCommand(ctx, t.ffprobe(), "-v", "error", "-select_streams", "v:0", "-count_packets",
		"-show_entries", "stream=nb_read_packets", "-of", "json", path)

	out, err := cmd.Output()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "CountFrames",
			"error":    err,
			"stderr":   cmd.Logs(),
		}).Warn("ffprobe packet count failed")
		return 0
	}

	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil || len(res.Streams) == 0 {
		return 0
	}

	count, err := strconv.Atoi(res.Streams[0].NbReadPackets)
	if err != nil {
		return 0
	}
	return count
}

// NewFFmpegRawDecoder creates a decoder pipe that writes packed RGBA frames to Stdout.
func (t Tools) NewFFmpegRawDecoder(ctx context.Context, inputPath string) *SafeCommand {
	// -hide_banner and -loglevel error keep the stderr buffer small.
	// -noautorotate keeps frames at the stored size ffprobe reports.
	return NewSafeCommand(ctx, t.ffmpeg(), "-hide_banner", "-loglevel", "error", "-nostdin",
		"-noautorotate", "-i", inputPath, "-map", "0:v:0", "-f", "rawvideo", "-pix_fmt", "rgba", "-")
}

// NewFFmpegEncoder creates an encoder reading packed RGBA frames of width x height from Stdin.
func (t Tools) NewFFmpegEncoder(ctx context.Context, outputPath, codec string, fps float64, width, height int) *SafeCommand {
	return NewSafeCommand(ctx, t.ffmpeg(), "-hide_banner", "-loglevel", "error", "-y",
		"-f", "rawvideo", "-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", strconv.FormatFloat(fps, 'f', -1, 64),
		"-i", "-",
		// yuv420p needs even dimensions
		"-vf", "scale=trunc(iw/2)*2:trunc(ih/2)*2",
		"-c:v", codec, "-pix_fmt", "yuv420p",
		outputPath)
}

// GenerateVideoID creates a deterministic hash for the video file
// based on its path, size, and modification time.
func GenerateVideoID(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	input := fmt.Sprintf("%s-%d-%d", path, info.Size(), info.ModTime().UnixNano())
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:]), nil
}

// ParseResolution parses "WIDTHxHEIGHT". An empty string means "keep the source size".
func ParseResolution(s string) (width, height int, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, nil
	}
	w, h, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("%w: resolution %q must look like 1920x1080", types.ErrUsage, s)
	}
	width, err = strconv.Atoi(strings.TrimSpace(w))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: bad width in %q", types.ErrUsage, s)
	}
	height, err = strconv.Atoi(strings.TrimSpace(h))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: bad height in %q", types.ErrUsage, s)
	}
	if width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("%w: resolution %q must be positive", types.ErrUsage, s)
	}
	return width, height, nil
}
