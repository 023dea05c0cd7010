package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"
	"os/exec"
	"strings"

	"github.com/nfnt/resize"
	"github.com/rs/zerolog/log"
	"github.com/vincent-petithory/dataurl"

	"zapdesk/internal/events"
)

// Materializing media is strictly best-effort: any failure downgrades the
// message to text-only instead of failing the dispatch.

const (
	jpegQuality  = 80
	maxImageEdge = 1600
)

// Result is a successfully materialized attachment.
type Result struct {
	URL      string
	Mimetype string
}

// Fetcher retrieves the base64 content of a media message from the gateway.
type Fetcher interface {
	MediaBase64(ctx context.Context, connectionID string, message json.RawMessage) (string, error)
}

// Uploader persists a blob and returns its public URL.
type Uploader interface {
	Key(messageID, ext string) string
	Upload(ctx context.Context, key string, data []byte, mimeType string) (string, error)
}

// Materializer fetches, optionally transcodes, and uploads message media.
type Materializer struct {
	fetch Fetcher
	store Uploader
}

// New builds a materializer. store may not be nil; callers without blob
// storage skip materialization entirely.
func New(fetch Fetcher, store Uploader) *Materializer {
	return &Materializer{fetch: fetch, store: store}
}

// Materialize downloads the media referenced by the raw event payload,
// transcodes it per kind, and uploads it under the message id. Returns
// (nil, false) on any failure.
func (m *Materializer) Materialize(ctx context.Context, connectionID, messageID string, kind events.MediaKind, part *events.MediaPart, raw json.RawMessage) (*Result, bool) {
	encoded, err := m.fetch.MediaBase64(ctx, connectionID, raw)
	if err != nil {
		log.Warn().Err(err).
			Str("connectionID", connectionID).
			Str("messageID", messageID).
			Str("kind", string(kind)).
			Msg("Media fetch failed, persisting message without media")
		return nil, false
	}

	data, err := decodePayload(encoded)
	if err != nil {
		log.Warn().Err(err).Str("messageID", messageID).Msg("Media decode failed")
		return nil, false
	}

	mimeType := defaultMime(kind)
	if part != nil && part.Mimetype != "" {
		mimeType = part.Mimetype
	}

	switch kind {
	case events.MediaImage:
		if out, err := reencodeImage(data); err == nil {
			data = out
			mimeType = "image/jpeg"
		} else {
			log.Debug().Err(err).Str("messageID", messageID).Msg("Image re-encode failed, uploading original")
		}
	case events.MediaAudio:
		if out, err := transcodeAudio(data); err == nil {
			data = out
			mimeType = "audio/ogg"
		} else {
			log.Debug().Err(err).Str("messageID", messageID).Msg("Audio transcode failed, uploading original")
		}
	case events.MediaVideo:
		if out, err := transcodeVideo(data); err == nil {
			data = out
			mimeType = "video/mp4"
		} else {
			log.Debug().Err(err).Str("messageID", messageID).Msg("Video transcode failed, uploading original")
		}
	}
	// Stickers and documents pass through unchanged.

	key := m.store.Key(messageID, extensionFor(mimeType))
	url, err := m.store.Upload(ctx, key, data, mimeType)
	if err != nil {
		log.Warn().Err(err).Str("messageID", messageID).Str("key", key).Msg("Media upload failed")
		return nil, false
	}

	return &Result{URL: url, Mimetype: mimeType}, true
}

func decodePayload(encoded string) ([]byte, error) {
	if strings.HasPrefix(encoded, "data:") {
		du, err := dataurl.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("decode data url: %w", err)
		}
		return du.Data, nil
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return data, nil
}

func defaultMime(kind events.MediaKind) string {
	switch kind {
	case events.MediaImage:
		return "image/png"
	case events.MediaAudio:
		return "audio/ogg"
	case events.MediaVideo:
		return "video/mp4"
	case events.MediaSticker:
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

func extensionFor(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "jpeg"), strings.Contains(mimeType, "jpg"):
		return ".jpg"
	case strings.Contains(mimeType, "png"):
		return ".png"
	case strings.Contains(mimeType, "gif"):
		return ".gif"
	case strings.Contains(mimeType, "webp"):
		return ".webp"
	case strings.Contains(mimeType, "mp4"):
		return ".mp4"
	case strings.Contains(mimeType, "ogg"), strings.Contains(mimeType, "opus"):
		return ".ogg"
	case strings.Contains(mimeType, "pdf"):
		return ".pdf"
	default:
		return ".bin"
	}
}

// reencodeImage caps the longest edge and re-encodes to JPEG at fixed
// quality.
func reencodeImage(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() > maxImageEdge || bounds.Dy() > maxImageEdge {
		if bounds.Dx() >= bounds.Dy() {
			img = resize.Resize(maxImageEdge, 0, img, resize.Lanczos3)
		} else {
			img = resize.Resize(0, maxImageEdge, img, resize.Lanczos3)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// transcodeAudio converts any audio input to OGG/Opus 64k mono via ffmpeg.
func transcodeAudio(data []byte) ([]byte, error) {
	return runFFmpeg(data, ".ogg",
		"-c:a", "libopus",
		"-b:a", "64k",
		"-ar", "48000",
		"-ac", "1",
		"-application", "voip",
	)
}

// transcodeVideo re-encodes video to H.264/AAC MP4 at a fixed quality.
func transcodeVideo(data []byte) ([]byte, error) {
	return runFFmpeg(data, ".mp4",
		"-c:v", "libx264",
		"-crf", "28",
		"-preset", "veryfast",
		"-c:a", "aac",
		"-b:a", "96k",
		"-movflags", "+faststart",
	)
}

func runFFmpeg(data []byte, outExt string, args ...string) ([]byte, error) {
	inputFile, err := os.CreateTemp("", "media-in-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(inputFile.Name())

	if _, err := inputFile.Write(data); err != nil {
		inputFile.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	inputFile.Close()

	outputFile, err := os.CreateTemp("", "media-out-*"+outExt)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	outputPath := outputFile.Name()
	outputFile.Close()
	defer os.Remove(outputPath)

	cmdArgs := append([]string{"-v", "error", "-i", inputFile.Name()}, args...)
	cmdArgs = append(cmdArgs, "-y", outputPath)

	cmd := exec.Command("ffmpeg", cmdArgs...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w, output: %s", err, string(out))
	}

	converted, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, fmt.Errorf("read converted file: %w", err)
	}
	if len(converted) == 0 {
		return nil, fmt.Errorf("converted file is empty")
	}
	return converted, nil
}
