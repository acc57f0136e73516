package recognizer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSniffAudioFormat(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		filename string
		want     string
	}{
		{"m4a ftyp box", []byte("\x00\x00\x00\x18ftypM4A "), "voice.bin", "m4a"},
		{"mp3 id3 tag", []byte("ID3\x04\x00\x00\x00"), "voice.wav", "mp3"},
		{"mp3 frame sync", []byte{0xff, 0xfb, 0x90, 0x00}, "x", "mp3"},
		{"wav riff", []byte("RIFF\x24\x08\x00\x00WAVE"), "x.mp3", "wav"},
		{"unknown header falls back to extension", []byte("\x01\x02\x03\x04"), "call.amr", "amr"},
		{"no header no extension defaults mp3", []byte("\x01\x02"), "noext", "mp3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, sniffAudioFormat(tt.data, tt.filename))
		})
	}
}

func TestVisionExtractText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"借条内容"}}]}`))
	}))
	defer srv.Close()

	v := NewVisionOCR(srv.URL, "k", "")
	text, err := v.ExtractText(context.Background(), []byte("fake-image"))
	require.NoError(t, err)
	require.Equal(t, "借条内容", text)
}

func TestVisionFailureDegradesToText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	v := NewVisionOCR(srv.URL, "k", "gpt-4o-mini")
	text, err := v.ExtractText(context.Background(), []byte("fake-image"))
	require.NoError(t, err)
	require.Equal(t, "图片解析异常", text)
}

func TestTencentAuthorizationShape(t *testing.T) {
	asr := NewTencentASR("id", "key", "")
	auth := asr.authorization([]byte(`{"Data":"x"}`), 1700000000)

	require.True(t, strings.HasPrefix(auth, "TC3-HMAC-SHA256 Credential=id/2023-11-14/asr/tc3_request"))
	require.Contains(t, auth, "SignedHeaders=content-type;host;x-tc-action")
	require.Contains(t, auth, "Signature=")

	// Signing is deterministic for fixed payload and timestamp.
	require.Equal(t, auth, asr.authorization([]byte(`{"Data":"x"}`), 1700000000))
	require.NotEqual(t, auth, asr.authorization([]byte(`{"Data":"y"}`), 1700000000))
}

func TestTranscribeEmptyAudio(t *testing.T) {
	asr := NewTencentASR("id", "key", "ap-shanghai")
	text, err := asr.Transcribe(context.Background(), nil, "a.mp3")
	require.NoError(t, err)
	require.Equal(t, "错误：音频文件为空", text)
}
