package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Operation names accepted by the submit endpoint.
const (
	OpTranscode    = "transcode"
	OpExtractAudio = "extract-audio"
	OpThumbnail    = "thumbnail"
	OpProbe        = "probe"
)

var allowedParams = map[string]map[string][]string{
	OpTranscode: {
		"container":   {"mp4", "webm", "mkv", "mov"},
		"video_codec": {"copy", "libx264", "libx265", "libvpx-vp9"},
		"audio_codec": {"copy", "aac", "libopus", "libmp3lame"},
		"scale":       nil, // validated as WxH below
	},
	OpExtractAudio: {
		"format": {"aac", "mp3", "opus", "flac"},
	},
	OpThumbnail: {
		"at":    nil, // seconds
		"width": nil, // pixels
	},
	OpProbe: {},
}

// ValidateOperation checks the operation name and its parameters against the
// supported set. Violations are wrapped in ErrInvalidInput so they are never
// retried.
func ValidateOperation(op string, params map[string]string) error {
	allowed, ok := allowedParams[op]
	if !ok {
		return fmt.Errorf("%w: unsupported operation %q", ErrInvalidInput, op)
	}
	for key, value := range params {
		values, ok := allowed[key]
		if !ok {
			return fmt.Errorf("%w: operation %s does not accept parameter %q", ErrInvalidInput, op, key)
		}
		if values != nil {
			if !contains(values, value) {
				return fmt.Errorf("%w: parameter %s=%q not in [%s]", ErrInvalidInput, key, value, strings.Join(values, ", "))
			}
			continue
		}
		switch key {
		case "scale":
			if err := validateScale(value); err != nil {
				return err
			}
		case "at":
			if f, err := strconv.ParseFloat(value, 64); err != nil || f < 0 {
				return fmt.Errorf("%w: parameter at=%q must be a non-negative number of seconds", ErrInvalidInput, value)
			}
		case "width":
			if n, err := strconv.Atoi(value); err != nil || n < 16 || n > 7680 {
				return fmt.Errorf("%w: parameter width=%q must be between 16 and 7680", ErrInvalidInput, value)
			}
		}
	}
	return nil
}

// ValidateInput rejects empty or obviously unusable input references.
func ValidateInput(input string) error {
	input = strings.TrimSpace(input)
	if input == "" {
		return fmt.Errorf("%w: input reference is required", ErrInvalidInput)
	}
	if strings.ContainsAny(input, "\x00\n\r") {
		return fmt.Errorf("%w: input reference contains control characters", ErrInvalidInput)
	}
	return nil
}

func validateScale(value string) error {
	parts := strings.Split(value, "x")
	if len(parts) != 2 {
		return fmt.Errorf("%w: scale %q must look like 1280x720", ErrInvalidInput, value)
	}
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 16 || n > 7680 {
			return fmt.Errorf("%w: scale %q must use dimensions between 16 and 7680", ErrInvalidInput, value)
		}
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
