package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RenderImage is one still shown for [Start, End) of its chunk's narration.
type RenderImage struct {
	Data  []byte
	Start time.Duration
	End   time.Duration
}

type RenderChunk struct {
	AudioPath string
	Images    []RenderImage
}

type RenderInput struct {
	Name    string
	WorkDir string
	Chunks  []RenderChunk
}

// Renderer assembles narration audio and illustrations into a single video file.
type Renderer interface {
	Render(ctx context.Context, in RenderInput, progress func(percent int)) (string, error)
}

// CommandRunner runs an external program, optionally feeding stdin.
type CommandRunner func(ctx context.Context, stdin []byte, name string, args ...string) error

func execRunner(ctx context.Context, stdin []byte, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, lastLines(stderr.String(), 5))
	}
	return nil
}

type FFmpegRenderer struct {
	FrameRate   int
	Width       int
	Height      int
	Concurrency int
	Run         CommandRunner
}

func NewFFmpegRenderer(concurrency int) *FFmpegRenderer {
	if concurrency < 1 {
		concurrency = 2
	}
	return &FFmpegRenderer{
		FrameRate:   25,
		Width:       1344,
		Height:      768,
		Concurrency: concurrency,
		Run:         execRunner,
	}
}

type segment struct {
	index int
	image RenderImage
	audio string
}

// Render creates one Ken Burns clip per image window, with the matching slice of the
// chunk's narration, then concatenates the clips in order.
func (r *FFmpegRenderer) Render(ctx context.Context, in RenderInput, progress func(int)) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if progress == nil {
		progress = func(int) {}
	}

	var segments []segment
	for _, chunk := range in.Chunks {
		for _, img := range chunk.Images {
			segments = append(segments, segment{index: len(segments), image: img, audio: chunk.AudioPath})
		}
	}
	if len(segments) == 0 {
		return "", errors.New("nothing to render")
	}

	if err := os.MkdirAll(in.WorkDir, 0o755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}

	startTime := time.Now()
	segmentVideos := make([]string, len(segments))
	sem := make(chan struct{}, r.Concurrency)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		done int
	)
	errChan := make(chan error, len(segments))

	for _, seg := range segments {
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				errChan <- ctx.Err()
				return
			}
			defer func() { <-sem }()

			path := filepath.Join(in.WorkDir, fmt.Sprintf("segment_%03d.mp4", seg.index+1))
			if err := r.renderSegment(ctx, seg, path); err != nil {
				errChan <- fmt.Errorf("segment %d: %w", seg.index+1, err)
				cancel()
				return
			}
			segmentVideos[seg.index] = path

			mu.Lock()
			done++
			progress(done * 90 / len(segments))
			mu.Unlock()
		}()
	}

	wg.Wait()
	close(errChan)
	for err := range errChan {
		if err != nil {
			return "", err
		}
	}

	concatListPath := filepath.Join(in.WorkDir, "concat.txt")
	var list strings.Builder
	for _, v := range segmentVideos {
		fmt.Fprintf(&list, "file '%s'\n", v)
	}
	if err := os.WriteFile(concatListPath, []byte(list.String()), 0o644); err != nil {
		return "", fmt.Errorf("write concat list: %w", err)
	}

	name := in.Name
	if name == "" {
		name = "video"
	}
	videoPath := filepath.Join(in.WorkDir, name+".mp4")
	if err := r.Run(ctx, nil, "ffmpeg",
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", concatListPath,
		"-c", "copy",
		"-fps_mode", "cfr",
		videoPath,
	); err != nil {
		return "", fmt.Errorf("concat: %w", err)
	}
	progress(100)

	log.Printf("Rendered %s from %d segments in %.2f seconds", videoPath, len(segments), time.Since(startTime).Seconds())
	return videoPath, nil
}

func (r *FFmpegRenderer) renderSegment(ctx context.Context, seg segment, outPath string) error {
	dur := seg.image.End - seg.image.Start
	if dur <= 0 {
		return fmt.Errorf("empty window %v-%v", seg.image.Start, seg.image.End)
	}
	frames := int(dur.Seconds()*float64(r.FrameRate)) + 1

	filterComplex := fmt.Sprintf(
		"[0]scale=%d:-2,setsar=1:1,crop=%d:%d,scale=4000:-1,zoompan=z='zoom+0.001':x=iw/2-(iw/zoom/2):y=ih/2-(ih/zoom/2):d=%d:s=%dx%d:fps=%d[out]",
		r.Width, r.Width, r.Height, frames, r.Width, r.Height, r.FrameRate,
	)

	return r.Run(ctx, seg.image.Data, "ffmpeg",
		"-y",
		"-f", "image2pipe",
		"-i", "pipe:0",
		"-ss", formatSeconds(seg.image.Start),
		"-t", formatSeconds(dur),
		"-i", seg.audio,
		"-filter_complex", filterComplex,
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-tune", "stillimage",
		"-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(r.FrameRate),
		"-c:a", "aac",
		"-ar", "44100",
		"-map", "[out]",
		"-map", "1:a",
		"-t", formatSeconds(dur),
		outPath,
	)
}

// ProbeDuration asks ffprobe for the duration of any media file.
func ProbeDuration(ctx context.Context, path string) (time.Duration, error) {
	out, err := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	).Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	return parseSeconds(string(out))
}

func parseSeconds(s string) (time.Duration, error) {
	secs, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", strings.TrimSpace(s), err)
	}
	return time.Duration(secs * float64(time.Second)).Round(time.Millisecond), nil
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
