package recognizer

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hjwen/counsel-agent/internal/observability"
)

const (
	asrService = "asr"
	asrHost    = "asr.tencentcloudapi.com"
	asrAction  = "SentenceRecognition"
	asrVersion = "2019-06-14"
)

// TencentASR transcribes short audio clips through Tencent Cloud's sentence
// recognition API, signed with TC3-HMAC-SHA256.
type TencentASR struct {
	secretID  string
	secretKey string
	region    string
	client    *http.Client
	now       func() time.Time
}

func NewTencentASR(secretID, secretKey, region string) *TencentASR {
	if region == "" {
		region = "ap-shanghai"
	}
	return &TencentASR{
		secretID:  secretID,
		secretKey: secretKey,
		region:    region,
		client:    &http.Client{Timeout: 60 * time.Second},
		now:       time.Now,
	}
}

type asrRequest struct {
	ProjectID      int    `json:"ProjectId"`
	SubServiceType int    `json:"SubServiceType"`
	EngSerViceType string `json:"EngSerViceType"`
	SourceType     int    `json:"SourceType"`
	VoiceFormat    string `json:"VoiceFormat"`
	Data           string `json:"Data"`
	DataLen        int    `json:"DataLen"`
}

type asrResponse struct {
	Response struct {
		Result string `json:"Result"`
		Error  *struct {
			Code    string `json:"Code"`
			Message string `json:"Message"`
		} `json:"Error"`
	} `json:"Response"`
}

// Transcribe recognizes one audio clip. API-level errors degrade to readable
// text with the detected format included, matching the image path's behavior.
func (t *TencentASR) Transcribe(ctx context.Context, data []byte, filename string) (string, error) {
	log := observability.LoggerFromContext(ctx)

	if len(data) == 0 {
		return "错误：音频文件为空", nil
	}
	format := sniffAudioFormat(data, filename)

	payload, err := json.Marshal(asrRequest{
		SubServiceType: 2,
		EngSerViceType: "16k_zh",
		SourceType:     1,
		VoiceFormat:    format,
		Data:           base64.StdEncoding.EncodeToString(data),
		DataLen:        len(data),
	})
	if err != nil {
		return "", fmt.Errorf("encoding ASR request: %w", err)
	}

	timestamp := t.now().Unix()
	auth := t.authorization(payload, timestamp)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://"+asrHost, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("building ASR request: %w", err)
	}
	req.Header.Set("Authorization", auth)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Host", asrHost)
	req.Header.Set("X-TC-Action", asrAction)
	req.Header.Set("X-TC-Timestamp", strconv.FormatInt(timestamp, 10))
	req.Header.Set("X-TC-Version", asrVersion)
	req.Header.Set("X-TC-Region", t.region)

	resp, err := t.client.Do(req)
	if err != nil {
		log.Warn("audio recognition request failed", "error", err)
		return fmt.Sprintf("音频识别异常: %v", err), nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "响应解析失败", nil
	}

	var decoded asrResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "响应解析失败", nil
	}
	if decoded.Response.Error != nil {
		log.Warn("audio recognition rejected",
			"code", decoded.Response.Error.Code,
			"format", format,
		)
		return fmt.Sprintf("腾讯云识别报错: %s (检测格式: %s)", decoded.Response.Error.Message, format), nil
	}
	if decoded.Response.Result == "" {
		return "音频未识别到文字", nil
	}
	return decoded.Response.Result, nil
}

// authorization builds the TC3-HMAC-SHA256 header for one request.
func (t *TencentASR) authorization(payload []byte, timestamp int64) string {
	date := time.Unix(timestamp, 0).UTC().Format("2006-01-02")

	canonicalHeaders := "content-type:application/json\nhost:" + asrHost + "\nx-tc-action:" + strings.ToLower(asrAction) + "\n"
	signedHeaders := "content-type;host;x-tc-action"
	hashedPayload := sha256Hex(payload)
	canonicalRequest := strings.Join([]string{
		http.MethodPost, "/", "", canonicalHeaders, signedHeaders, hashedPayload,
	}, "\n")

	credentialScope := date + "/" + asrService + "/tc3_request"
	stringToSign := strings.Join([]string{
		"TC3-HMAC-SHA256",
		strconv.FormatInt(timestamp, 10),
		credentialScope,
		sha256Hex([]byte(canonicalRequest)),
	}, "\n")

	secretDate := hmacSHA256([]byte("TC3"+t.secretKey), date)
	secretService := hmacSHA256(secretDate, asrService)
	secretSigning := hmacSHA256(secretService, "tc3_request")
	signature := hex.EncodeToString(hmacSHA256(secretSigning, stringToSign))

	return fmt.Sprintf("TC3-HMAC-SHA256 Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		t.secretID, credentialScope, signedHeaders, signature)
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func hmacSHA256(key []byte, msg string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msg))
	return mac.Sum(nil)
}
