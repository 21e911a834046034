package engine

import (
	"fmt"
	"path/filepath"

	"mediaforge/internal/domain"
)

// plan is one fully-resolved invocation: which binary, which argv, and the
// output files expected in the scratch directory afterwards.
type plan struct {
	tool        string
	args        []string
	outputs     []plannedOutput
	captureJSON bool // probe: parse stdout instead of collecting files
}

type plannedOutput struct {
	name string // artifact name, e.g. "audio.aac"
	mime string
}

var audioFormats = map[string]struct {
	codec string
	ext   string
}{
	"aac":  {codec: "aac", ext: "aac"},
	"mp3":  {codec: "libmp3lame", ext: "mp3"},
	"opus": {codec: "libopus", ext: "opus"},
	"flac": {codec: "flac", ext: "flac"},
}

var mimeByExt = map[string]string{
	"mp4":  "video/mp4",
	"webm": "video/webm",
	"mkv":  "video/x-matroska",
	"mov":  "video/quicktime",
	"aac":  "audio/aac",
	"mp3":  "audio/mpeg",
	"opus": "audio/opus",
	"flac": "audio/flac",
	"jpg":  "image/jpeg",
	"json": "application/json",
}

// buildPlan translates a validated job into an invocation plan. Parameters
// are re-checked here so the engine never trusts the caller blindly.
func (e *Engine) buildPlan(job *domain.Job, scratchDir string) (*plan, error) {
	if err := domain.ValidateInput(job.Input); err != nil {
		return nil, err
	}
	if err := domain.ValidateOperation(job.Operation, job.Params); err != nil {
		return nil, err
	}

	base := []string{"-hide_banner", "-nostdin", "-y"}

	switch job.Operation {
	case domain.OpTranscode:
		container := paramOr(job.Params, "container", "mp4")
		name := "output." + container
		args := append(base, "-i", job.Input)
		if codec := job.Params["video_codec"]; codec != "" {
			args = append(args, "-c:v", codec)
		}
		if codec := job.Params["audio_codec"]; codec != "" {
			args = append(args, "-c:a", codec)
		}
		if scale := job.Params["scale"]; scale != "" {
			args = append(args, "-vf", "scale="+scaleFilter(scale))
		}
		args = append(args, filepath.Join(scratchDir, name))
		return &plan{
			tool:    e.cfg.FFmpegPath,
			args:    args,
			outputs: []plannedOutput{{name: name, mime: mimeByExt[container]}},
		}, nil

	case domain.OpExtractAudio:
		format := paramOr(job.Params, "format", "aac")
		spec, ok := audioFormats[format]
		if !ok {
			return nil, fmt.Errorf("%w: unsupported audio format %q", domain.ErrInvalidInput, format)
		}
		name := "audio." + spec.ext
		args := append(base, "-i", job.Input, "-vn", "-c:a", spec.codec, filepath.Join(scratchDir, name))
		return &plan{
			tool:    e.cfg.FFmpegPath,
			args:    args,
			outputs: []plannedOutput{{name: name, mime: mimeByExt[spec.ext]}},
		}, nil

	case domain.OpThumbnail:
		at := paramOr(job.Params, "at", "0")
		width := paramOr(job.Params, "width", "640")
		args := append(base,
			"-ss", at,
			"-i", job.Input,
			"-frames:v", "1",
			"-vf", "scale="+width+":-2",
			filepath.Join(scratchDir, "thumb.jpg"),
		)
		return &plan{
			tool:    e.cfg.FFmpegPath,
			args:    args,
			outputs: []plannedOutput{{name: "thumb.jpg", mime: mimeByExt["jpg"]}},
		}, nil

	case domain.OpProbe:
		return &plan{
			tool: e.cfg.FFprobePath,
			args: []string{
				"-v", "error",
				"-print_format", "json",
				"-show_format",
				"-show_streams",
				job.Input,
			},
			outputs:     []plannedOutput{{name: "probe.json", mime: mimeByExt["json"]}},
			captureJSON: true,
		}, nil
	}

	return nil, fmt.Errorf("%w: unsupported operation %q", domain.ErrInvalidInput, job.Operation)
}

func paramOr(params map[string]string, key, fallback string) string {
	if v, ok := params[key]; ok && v != "" {
		return v
	}
	return fallback
}

// scaleFilter turns "1280x720" into the ffmpeg filter form "1280:720".
func scaleFilter(scale string) string {
	out := make([]byte, 0, len(scale))
	for i := 0; i < len(scale); i++ {
		if scale[i] == 'x' {
			out = append(out, ':')
			continue
		}
		out = append(out, scale[i])
	}
	return string(out)
}
