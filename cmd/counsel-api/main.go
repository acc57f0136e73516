package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/hjwen/counsel-agent/internal/adapters/caseindex"
	"github.com/hjwen/counsel-agent/internal/adapters/embedding"
	httpadapter "github.com/hjwen/counsel-agent/internal/adapters/http"
	"github.com/hjwen/counsel-agent/internal/adapters/llm"
	"github.com/hjwen/counsel-agent/internal/adapters/recognizer"
	firestorestore "github.com/hjwen/counsel-agent/internal/adapters/storage/firestore"
	memstore "github.com/hjwen/counsel-agent/internal/adapters/storage/memory"
	sqlitestore "github.com/hjwen/counsel-agent/internal/adapters/storage/sqlite"
	"github.com/hjwen/counsel-agent/internal/app/chat"
	"github.com/hjwen/counsel-agent/internal/app/conversation"
	"github.com/hjwen/counsel-agent/internal/app/judge"
	"github.com/hjwen/counsel-agent/internal/app/retrieval"
	"github.com/hjwen/counsel-agent/internal/config"
	"github.com/hjwen/counsel-agent/internal/domain"
)

func main() {
	ctx := context.Background()
	cfg := config.Load()

	// Gateway: mock for local development, yunwu otherwise.
	var gateway domain.ModelGateway
	if cfg.UseMockGateway {
		log.Println("[LLM] Using mock gateway")
		gateway = llm.NewMockGateway()
	} else {
		log.Printf("[LLM] Using OpenAI-compatible gateway (%s)", cfg.GatewayBaseURL)
		gateway = llm.NewGateway(cfg.GatewayBaseURL, cfg.GatewayAPIKey)
	}

	// Storage: memory, sqlite or firestore.
	var repo domain.ConversationRepository
	switch cfg.StorageBackend {
	case "firestore":
		log.Printf("[STORE] Using Firestore storage (project=%s)", cfg.GCPProjectID)
		store, err := firestorestore.NewStore(ctx, cfg.GCPProjectID)
		if err != nil {
			log.Fatalf("error initializing Firestore store: %v", err)
		}
		defer store.Close()
		repo = store

	case "sqlite":
		log.Printf("[STORE] Using SQLite storage (%s)", cfg.SQLitePath)
		store, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("error initializing SQLite store: %v", err)
		}
		defer store.Close()
		repo = store

	default:
		log.Println("[STORE] Using in-memory storage")
		repo = memstore.NewStore()
	}

	// Retrieval is optional: no embedding provider means every turn runs
	// without precedent search.
	var retrievalSvc *retrieval.Service
	if embedder := buildEmbedder(ctx, cfg); embedder != nil {
		index, err := caseindex.Open(cfg.CaseIndexPath)
		if err != nil {
			log.Printf("[RAG] Case index unavailable: %v", err)
		} else {
			retrievalSvc, err = retrieval.NewService(ctx, embedder, index)
			if err != nil {
				log.Printf("[RAG] Retrieval disabled: %v", err)
			} else {
				log.Printf("[RAG] Retrieval ready (embedder=%s, index=%s)", embedder.Name(), cfg.CaseIndexPath)
			}
		}
	} else {
		log.Println("[RAG] No embedding provider configured, retrieval disabled")
	}

	convSvc := conversation.NewService(repo)
	judgeOrch := judge.NewOrchestrator(gateway, 2*time.Minute)
	chatSvc := chat.NewService(convSvc, retrievalSvc, gateway, judgeOrch, chat.Params{
		TopK:     cfg.RetrievalTopK,
		MinScore: cfg.RetrievalMinScore,
		MaxTurns: cfg.HistoryMaxTurns,
		Arbiter:  domain.ModelID(cfg.ArbiterModel),
	})

	sessions := memstore.NewSessionRegistry(domain.ModelID(cfg.DefaultModel))
	recog := recognizer.NewService(
		recognizer.NewVisionOCR(cfg.GatewayBaseURL, cfg.GatewayAPIKey, cfg.VisionModel),
		recognizer.NewTencentASR(cfg.TencentSecretID, cfg.TencentSecretKey, cfg.TencentRegion),
	)

	handler := httpadapter.NewServer(convSvc, chatSvc, sessions, gateway, recog, httpadapter.Options{
		MaxFileSize: cfg.MaxFileSize,
		MaxFiles:    cfg.MaxFilesCount,
		Models:      llm.KnownModels(),
	})

	addr := ":" + cfg.Port
	log.Println("Counsel API listening on", addr)
	if err := http.ListenAndServe(addr, handler); err != nil {
		log.Fatal(err)
	}
}

func buildEmbedder(ctx context.Context, cfg *config.Config) domain.Embedder {
	switch cfg.EmbeddingProvider {
	case "genai":
		embedder, err := embedding.NewGenAIEngine(ctx, cfg.GenAIAPIKey, cfg.GenAIModel)
		if err != nil {
			log.Printf("[RAG] GenAI embedder unavailable: %v", err)
			return nil
		}
		return embedder
	case "ollama":
		return embedding.NewOllamaEngine(cfg.OllamaEndpoint, cfg.OllamaModel)
	}
	return nil
}
