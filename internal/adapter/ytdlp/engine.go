// Package ytdlp adapts the yt-dlp command line tool to the domain Engine
// port: JSON metadata probing, filename rendering, and downloading with
// machine-readable progress lines.
package ytdlp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"vidfetchd/internal/domain"
)

// DefaultBinary is the yt-dlp executable resolved from PATH.
const DefaultBinary = "yt-dlp"

// progressTemplate makes yt-dlp emit one JSON object per progress line,
// prefixed so it can be told apart from other output. The %(...)j
// conversion renders missing fields as null.
const progressTemplate = `download:{"status":%(progress.status)j,` +
	`"downloaded_bytes":%(progress.downloaded_bytes)j,` +
	`"total_bytes":%(progress.total_bytes)j,` +
	`"total_bytes_estimate":%(progress.total_bytes_estimate)j,` +
	`"fragment_index":%(progress.fragment_index)j,` +
	`"fragment_count":%(progress.fragment_count)j,` +
	`"filename":%(progress.filename)j}`

// Engine shells out to yt-dlp. It implements domain.Engine.
type Engine struct {
	binary string
}

// New creates an engine using the given yt-dlp binary path, or
// DefaultBinary when empty.
func New(binary string) *Engine {
	if binary == "" {
		binary = DefaultBinary
	}
	return &Engine{binary: binary}
}

// Probe fetches metadata and the available formats for a URL without
// downloading anything.
func (e *Engine) Probe(ctx context.Context, url string) (*domain.ProbeResult, error) {
	cmd := exec.CommandContext(ctx, e.binary, "-J", "--no-playlist", "--no-warnings", url)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("yt-dlp probe failed: %w: %s", err, tail(stderr.String()))
	}
	return parseProbeOutput(out)
}

// RenderFilename asks yt-dlp to render the output template against the
// video's metadata, without downloading.
func (e *Engine) RenderFilename(ctx context.Context, url, selector, template string) (string, error) {
	cmd := exec.CommandContext(ctx, e.binary,
		"--print", "filename",
		"-o", template,
		"-f", selector,
		"--no-playlist", "--no-warnings",
		url,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("yt-dlp render filename failed: %w: %s", err, tail(stderr.String()))
	}
	rendered := strings.TrimSpace(string(out))
	if rendered == "" {
		return "", fmt.Errorf("yt-dlp rendered an empty filename")
	}
	return rendered, nil
}

// Download runs the actual transfer to outPath, invoking onProgress for
// each progress line yt-dlp prints. Blocks until the process exits or
// ctx is cancelled.
func (e *Engine) Download(ctx context.Context, url, selector, outPath string, onProgress func(domain.ProgressUpdate)) error {
	cmd := exec.CommandContext(ctx, e.binary,
		"-f", selector,
		"-o", outPath,
		"--merge-output-format", "mp4",
		"--no-playlist", "--no-warnings",
		"--newline",
		"--progress-template", progressTemplate,
		url,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("yt-dlp stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("yt-dlp start: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if update, ok := parseProgressLine(scanner.Text()); ok && onProgress != nil {
			onProgress(update)
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("yt-dlp failed: %w: %s", err, tail(stderr.String()))
	}
	return nil
}

// probeInfo mirrors the slice of yt-dlp's -J output this service needs.
type probeInfo struct {
	Title     string  `json:"title"`
	Duration  float64 `json:"duration"`
	Thumbnail string  `json:"thumbnail"`
	Formats   []struct {
		FormatID   string   `json:"format_id"`
		Height     *int     `json:"height"`
		FPS        *float64 `json:"fps"`
		Ext        string   `json:"ext"`
		Vcodec     string   `json:"vcodec"`
		Acodec     string   `json:"acodec"`
		FormatNote string   `json:"format_note"`
		Format     string   `json:"format"`
	} `json:"formats"`
}

// parseProbeOutput normalizes yt-dlp's JSON dump into a ProbeResult,
// sorted by height and fps descending so the likely best quality comes
// first.
func parseProbeOutput(data []byte) (*domain.ProbeResult, error) {
	var info probeInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse yt-dlp output: %w", err)
	}

	result := &domain.ProbeResult{
		Title:       info.Title,
		DurationSec: int(info.Duration),
		Thumbnail:   info.Thumbnail,
		Formats:     make([]domain.ProbeFormat, 0, len(info.Formats)),
	}
	for _, f := range info.Formats {
		pf := domain.ProbeFormat{
			ID:         f.FormatID,
			Ext:        f.Ext,
			VideoCodec: f.Vcodec,
			AudioCodec: f.Acodec,
			Note:       f.FormatNote,
		}
		if pf.Note == "" {
			pf.Note = f.Format
		}
		if f.Height != nil && *f.Height > 0 {
			pf.Resolution = fmt.Sprintf("%dp", *f.Height)
		}
		if f.FPS != nil {
			pf.FPS = *f.FPS
		}
		result.Formats = append(result.Formats, pf)
	}

	sort.SliceStable(result.Formats, func(i, j int) bool {
		hi, hj := formatHeight(result.Formats[i]), formatHeight(result.Formats[j])
		if hi != hj {
			return hi > hj
		}
		return result.Formats[i].FPS > result.Formats[j].FPS
	})
	return result, nil
}

func formatHeight(f domain.ProbeFormat) int {
	if !strings.HasSuffix(f.Resolution, "p") {
		return 0
	}
	var h int
	fmt.Sscanf(f.Resolution, "%dp", &h)
	return h
}

// progressLine mirrors one rendered progressTemplate object. Numeric
// fields are pointers because yt-dlp emits null when a value is unknown,
// and floats because byte estimates are fractional.
type progressLine struct {
	Status             string   `json:"status"`
	DownloadedBytes    *float64 `json:"downloaded_bytes"`
	TotalBytes         *float64 `json:"total_bytes"`
	TotalBytesEstimate *float64 `json:"total_bytes_estimate"`
	FragmentIndex      *int     `json:"fragment_index"`
	FragmentCount      *int     `json:"fragment_count"`
	Filename           *string  `json:"filename"`
}

// parseProgressLine decodes one stdout line into a ProgressUpdate.
// Returns false for lines that are not progress output.
func parseProgressLine(line string) (domain.ProgressUpdate, bool) {
	payload, ok := strings.CutPrefix(line, "download:")
	if !ok {
		return domain.ProgressUpdate{}, false
	}
	var p progressLine
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return domain.ProgressUpdate{}, false
	}

	update := domain.ProgressUpdate{Phase: p.Status}
	if p.DownloadedBytes != nil {
		update.BytesDownloaded = int64(*p.DownloadedBytes)
	}
	if p.TotalBytes != nil {
		update.TotalBytes = int64(*p.TotalBytes)
	} else if p.TotalBytesEstimate != nil {
		update.TotalBytes = int64(*p.TotalBytesEstimate)
	}
	if p.FragmentIndex != nil {
		update.FragmentIndex = *p.FragmentIndex
	}
	if p.FragmentCount != nil {
		update.FragmentCount = *p.FragmentCount
	}
	if p.Filename != nil {
		update.Filename = *p.Filename
	}
	return update, true
}

// tail returns the last few lines of command output for error messages.
func tail(s string) string {
	s = strings.TrimSpace(s)
	lines := strings.Split(s, "\n")
	if len(lines) > 3 {
		lines = lines[len(lines)-3:]
	}
	return strings.Join(lines, "\n")
}
