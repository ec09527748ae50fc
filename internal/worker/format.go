package worker

import (
	"path/filepath"
	"regexp"
	"strings"

	"vidfetchd/internal/domain"
)

const bestAudioFallback = "+bestaudio/best"

// composeSelector resolves the user's format selection into a concrete
// engine selector. Compound selectors pass through unchanged. A bare
// format id is checked against the probe result: if the format lacks an
// audio track (or probing failed), a best-audio fallback is appended so
// the produced file has sound.
func composeSelector(selector string, probe *domain.ProbeResult, probeErr error) string {
	if strings.ContainsAny(selector, "+/") {
		return selector
	}
	if probeErr != nil || probe == nil {
		return selector + bestAudioFallback
	}
	for _, f := range probe.Formats {
		if f.ID != selector {
			continue
		}
		if hasTrack(f.VideoCodec) && hasTrack(f.AudioCodec) {
			return selector // progressive, contains audio
		}
		return selector + bestAudioFallback
	}
	return selector
}

// hasTrack interprets the engine's codec convention: empty or "none"
// means the track is absent.
func hasTrack(codec string) bool {
	return codec != "" && codec != "none"
}

// outputTemplate builds the filename template handed to the engine,
// including title/id/resolution/fps tokens.
func outputTemplate(targetDir string) string {
	return filepath.Join(targetDir, "%(title)s-%(id)s-%(height)sp-%(fps)sfps.%(ext)s")
}

var dashRuns = regexp.MustCompile(`-{2,}`)

// cleanupMissingTokens strips tokens the engine rendered as missing-value
// placeholders and collapses the separators left behind.
func cleanupMissingTokens(path string) string {
	for _, placeholder := range []string{"-NAp", "-Nonep", "-NAfps", "-Nonefps"} {
		path = strings.ReplaceAll(path, placeholder, "")
	}
	path = dashRuns.ReplaceAllString(path, "-")
	path = strings.ReplaceAll(path, " - ", " ")
	return path
}

// safePercent computes downloaded/total as a percentage clamped to
// [0, 100]; 0 when the total is unknown.
func safePercent(downloaded, total int64) float64 {
	if total <= 0 {
		return 0.0
	}
	p := float64(downloaded) / float64(total) * 100.0
	if p < 0 {
		return 0.0
	}
	if p > 100 {
		return 100.0
	}
	return p
}

// fragmentPercent derives a monotone progress estimate from fragment
// counts when byte totals are unavailable. Capped below 100 so the
// estimate never reports completion prematurely.
func fragmentPercent(index, count int) float64 {
	if count <= 0 || index <= 0 {
		return 0.0
	}
	p := float64(index) / float64(count) * 100.0
	if p > 99.0 {
		return 99.0
	}
	return p
}
