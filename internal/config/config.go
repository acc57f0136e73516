package config

import (
	"log"
	"os"
	"strconv"
)

type Config struct {
	Port string

	// Chat gateway (OpenAI-compatible endpoint fronting all models).
	GatewayAPIKey  string
	GatewayBaseURL string
	DefaultModel   string
	ArbiterModel   string
	UseMockGateway bool

	// Storage: "memory", "sqlite" or "firestore".
	StorageBackend string
	SQLitePath     string
	GCPProjectID   string

	// Embeddings: "genai", "ollama" or "" (retrieval disabled).
	EmbeddingProvider string
	GenAIAPIKey       string
	GenAIModel        string
	OllamaEndpoint    string
	OllamaModel       string

	// Retrieval parameters.
	CaseIndexPath     string
	RetrievalTopK     int
	RetrievalMinScore float64

	// How many (user, assistant) turns of history go to a provider.
	HistoryMaxTurns int

	// Multimodal recognition.
	VisionModel      string
	TencentSecretID  string
	TencentSecretKey string
	TencentRegion    string

	// Upload limits.
	MaxFileSize   int64
	MaxFilesCount int
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if v == "1" || v == "true" || v == "TRUE" {
		return true
	}
	return false
}

func getIntEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("invalid %s=%q, using default %d", key, v, def)
		return def
	}
	return n
}

func getFloatEnv(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using default %v", key, v, def)
		return def
	}
	return f
}

// Load reads all env vars and builds the config.
func Load() *Config {
	cfg := &Config{
		Port: getEnv("COUNSEL_PORT", "8080"),

		GatewayAPIKey:  getEnv("COUNSEL_GATEWAY_API_KEY", ""),
		GatewayBaseURL: getEnv("COUNSEL_GATEWAY_BASE_URL", "https://yunwu.ai/v1"),
		DefaultModel:   getEnv("COUNSEL_DEFAULT_MODEL", "deepseek"),
		ArbiterModel:   getEnv("COUNSEL_ARBITER_MODEL", "gpt4o"),
		UseMockGateway: getBoolEnv("COUNSEL_USE_MOCK_GATEWAY", false),

		StorageBackend: getEnv("COUNSEL_STORAGE_BACKEND", "memory"),
		SQLitePath:     getEnv("COUNSEL_SQLITE_PATH", "conversations.db"),
		GCPProjectID:   getEnv("COUNSEL_GCP_PROJECT", ""),

		EmbeddingProvider: getEnv("COUNSEL_EMBEDDING_PROVIDER", ""),
		GenAIAPIKey:       getEnv("COUNSEL_GENAI_API_KEY", ""),
		GenAIModel:        getEnv("COUNSEL_GENAI_MODEL", "gemini-embedding-001"),
		OllamaEndpoint:    getEnv("COUNSEL_OLLAMA_ENDPOINT", "http://localhost:11434"),
		OllamaModel:       getEnv("COUNSEL_OLLAMA_MODEL", "embeddinggemma"),

		CaseIndexPath:     getEnv("COUNSEL_CASE_INDEX_PATH", "cases.db"),
		RetrievalTopK:     getIntEnv("COUNSEL_RETRIEVAL_TOP_K", 2),
		RetrievalMinScore: getFloatEnv("COUNSEL_RETRIEVAL_MIN_SCORE", 0.4),

		HistoryMaxTurns: getIntEnv("COUNSEL_HISTORY_MAX_TURNS", 10),

		VisionModel:      getEnv("COUNSEL_VISION_MODEL", "gpt-4o-mini"),
		TencentSecretID:  getEnv("COUNSEL_TENCENT_SECRET_ID", ""),
		TencentSecretKey: getEnv("COUNSEL_TENCENT_SECRET_KEY", ""),
		TencentRegion:    getEnv("COUNSEL_TENCENT_REGION", "ap-shanghai"),

		MaxFileSize:   int64(getIntEnv("COUNSEL_MAX_FILE_SIZE", 10*1024*1024)),
		MaxFilesCount: getIntEnv("COUNSEL_MAX_FILES_COUNT", 5),
	}

	if cfg.StorageBackend == "firestore" && cfg.GCPProjectID == "" {
		log.Fatal("COUNSEL_GCP_PROJECT must be set for the firestore backend")
	}

	return cfg
}
