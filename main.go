package main

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"beepgenesis/internal/api"
	"beepgenesis/internal/auth"
	"beepgenesis/internal/config"
	"beepgenesis/internal/redis"
	"beepgenesis/internal/service/ai"
	"beepgenesis/internal/service/assistant"
	"beepgenesis/internal/speech"
	"beepgenesis/internal/storage"
	"beepgenesis/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("BEEPGENESIS_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("BEEPGENESIS_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Printf("dbType: %s\n", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	rdb, err := redis.NewClient(cfg)
	if err != nil {
		log.Fatalf("create redis client: %v", err)
	}
	defer rdb.Close()

	// Create necessary tables: users, user_tokens, chat_histories
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	assistantService := assistant.NewService(db, cfg.BasicConfig.AdminEmail)
	authService := auth.NewService(db, rdb, 24*time.Hour)

	ctx := context.Background()
	provider := os.Getenv("BEEPGENESIS_PROVIDER")
	if provider == "" {
		provider = "gemini"
	}
	chatService, err := ai.NewChatService(ctx, cfg, provider, nil)
	if err != nil {
		log.Fatalf("init chat service: %v", err)
	}
	tools := ai.InitToolsChain(cfg, chatService)
	if err := chatService.BindTools(ctx, tools); err != nil {
		log.Fatalf("bind tools: %v", err)
	}

	speechService, err := speech.NewService(ctx, cfg)
	if err != nil {
		if !errors.Is(err, speech.ErrNotConfigured) {
			log.Fatalf("init speech service: %v", err)
		}
		log.Println("speech service disabled: no gemini api key")
		speechService = nil
	}

	workers := worker.NewManager(assistantService, chatService, rdb)

	var speechSvc api.SpeechService
	if speechService != nil {
		speechSvc = speechService
	}
	handlers := api.NewHandler(assistantService, authService, workers, speechSvc)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}

	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
