package recognizer

import (
	"context"

	"github.com/hjwen/counsel-agent/internal/domain"
)

// Service dispatches an upload to the engine matching its kind.
type Service struct {
	vision *VisionOCR
	asr    *TencentASR
}

var _ domain.Recognizer = (*Service)(nil)

func NewService(vision *VisionOCR, asr *TencentASR) *Service {
	return &Service{vision: vision, asr: asr}
}

func (s *Service) Recognize(ctx context.Context, data []byte, filename string, kind domain.AttachmentKind) (string, error) {
	switch kind {
	case domain.AttachmentImage:
		return s.vision.ExtractText(ctx, data)
	case domain.AttachmentAudio:
		return s.asr.Transcribe(ctx, data, filename)
	}
	return "不支持的格式", nil
}
