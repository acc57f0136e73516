// Package recognizer turns uploaded files into text: images through the
// chat gateway's vision endpoint, audio through Tencent Cloud sentence
// recognition. Recoverable recognition problems come back as readable text so
// a bad upload degrades the turn instead of failing it.
package recognizer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hjwen/counsel-agent/internal/observability"
)

const ocrInstruction = "提取文字，严禁代码。"

// VisionOCR extracts text from images via an OpenAI-compatible vision model.
type VisionOCR struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

func NewVisionOCR(baseURL, apiKey, model string) *VisionOCR {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &VisionOCR{
		apiKey:  apiKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type visionContent struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

type visionRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string          `json:"role"`
		Content []visionContent `json:"content"`
	} `json:"messages"`
	Temperature float64 `json:"temperature"`
}

type visionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ExtractText runs OCR on one image. Failures degrade to a readable
// placeholder; the error return is reserved for programmer mistakes.
func (v *VisionOCR) ExtractText(ctx context.Context, data []byte) (string, error) {
	log := observability.LoggerFromContext(ctx)

	encoded := base64.StdEncoding.EncodeToString(data)
	req := visionRequest{Model: v.model, Temperature: 0.0}
	req.Messages = append(req.Messages, struct {
		Role    string          `json:"role"`
		Content []visionContent `json:"content"`
	}{
		Role: "user",
		Content: []visionContent{
			{Type: "text", Text: ocrInstruction},
			{Type: "image_url", ImageURL: &struct {
				URL string `json:"url"`
			}{URL: "data:image/jpeg;base64," + encoded}},
		},
	})

	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encoding vision request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("building vision request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+v.apiKey)

	resp, err := v.client.Do(httpReq)
	if err != nil {
		log.Warn("image recognition request failed", "error", err)
		return "图片解析异常", nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil || resp.StatusCode != http.StatusOK {
		log.Warn("image recognition failed", "status", resp.StatusCode)
		return "图片解析异常", nil
	}

	var decoded visionResponse
	if err := json.Unmarshal(raw, &decoded); err != nil || len(decoded.Choices) == 0 {
		log.Warn("image recognition returned no choices")
		return "图片解析异常", nil
	}
	return decoded.Choices[0].Message.Content, nil
}
