// Package transcode assembles segmented-streaming manifests into single
// container files via an external ffmpeg binary.
package transcode

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
)

// Transcoder converts manifest URLs into a single local output file. It is
// only available in some deployments; absence is not an error for the rest
// of the system, which routes affected items to a fallback path instead.
type Transcoder interface {
	Available() bool
	Convert(ctx context.Context, videoManifestURL, audioManifestURL, outputPath string) error
}

// FFmpeg shells out to an ffmpeg binary found on PATH
type FFmpeg struct {
	binary string
	logger *slog.Logger
}

// NewFFmpeg locates ffmpeg on PATH. The returned transcoder reports
// unavailable when the binary is missing.
func NewFFmpeg() *FFmpeg {
	binary, err := exec.LookPath("ffmpeg")
	if err != nil {
		binary = ""
	}
	return &FFmpeg{binary: binary, logger: slog.Default()}
}

// Available reports whether an ffmpeg binary was found
func (f *FFmpeg) Available() bool {
	return f.binary != ""
}

// Convert remuxes the manifest(s) into outputPath without re-encoding.
// audioManifestURL may be empty when the video manifest carries audio.
func (f *FFmpeg) Convert(ctx context.Context, videoManifestURL, audioManifestURL, outputPath string) error {
	if !f.Available() {
		return fmt.Errorf("ffmpeg not available")
	}

	args := []string{
		"-y",
		"-protocol_whitelist", "file,http,https,tcp,tls",
		"-i", videoManifestURL,
	}
	if audioManifestURL != "" {
		args = append(args,
			"-i", audioManifestURL,
			"-map", "0:v:0",
			"-map", "1:a:0",
		)
	}
	args = append(args,
		"-c", "copy",
		"-bsf:a", "aac_adtstoasc",
		outputPath,
	)

	cmd := exec.CommandContext(ctx, f.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	f.logger.Debug("Running transcode", "output", outputPath)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg failed: %w: %s", err, lastLine(stderr.String()))
	}
	return nil
}

func lastLine(s string) string {
	lines := bytes.Split(bytes.TrimSpace([]byte(s)), []byte("\n"))
	if len(lines) == 0 {
		return ""
	}
	return string(lines[len(lines)-1])
}
