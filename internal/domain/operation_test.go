package domain

import (
	"errors"
	"testing"
)

func TestValidateOperation(t *testing.T) {
	tests := []struct {
		name    string
		op      string
		params  map[string]string
		wantErr bool
	}{
		{name: "transcode defaults", op: OpTranscode},
		{name: "transcode full", op: OpTranscode, params: map[string]string{
			"container": "webm", "video_codec": "libvpx-vp9", "audio_codec": "libopus", "scale": "1280x720",
		}},
		{name: "transcode bad container", op: OpTranscode, params: map[string]string{"container": "avi"}, wantErr: true},
		{name: "transcode bad codec", op: OpTranscode, params: map[string]string{"video_codec": "h264_nvenc"}, wantErr: true},
		{name: "transcode bad scale", op: OpTranscode, params: map[string]string{"scale": "huge"}, wantErr: true},
		{name: "transcode scale too small", op: OpTranscode, params: map[string]string{"scale": "8x8"}, wantErr: true},
		{name: "transcode unknown param", op: OpTranscode, params: map[string]string{"bitrate": "1M"}, wantErr: true},
		{name: "extract audio", op: OpExtractAudio, params: map[string]string{"format": "mp3"}},
		{name: "extract audio bad format", op: OpExtractAudio, params: map[string]string{"format": "wav"}, wantErr: true},
		{name: "thumbnail", op: OpThumbnail, params: map[string]string{"at": "12.5", "width": "640"}},
		{name: "thumbnail negative offset", op: OpThumbnail, params: map[string]string{"at": "-1"}, wantErr: true},
		{name: "thumbnail width out of range", op: OpThumbnail, params: map[string]string{"width": "10000"}, wantErr: true},
		{name: "probe", op: OpProbe},
		{name: "probe rejects params", op: OpProbe, params: map[string]string{"format": "json"}, wantErr: true},
		{name: "unknown operation", op: "concat", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateOperation(tc.op, tc.params)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidInput) {
					t.Fatalf("expected ErrInvalidInput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateInput(t *testing.T) {
	if err := ValidateInput("https://example.com/clip.mp4"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, input := range []string{"", "   ", "bad\nref", "bad\x00ref"} {
		if err := ValidateInput(input); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("ValidateInput(%q) = %v, want ErrInvalidInput", input, err)
		}
	}
}
