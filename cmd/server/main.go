package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	redis "github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"voicenotes/internal/device"
	"voicenotes/internal/pipeline"
	"voicenotes/internal/store"
	"voicenotes/internal/summarize"
	"voicenotes/internal/transcriber"
)

type Config struct {
	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"server"`
	Recognizer struct {
		EngineURL  string `yaml:"engine_url"`
		Token      string `yaml:"token"`
		SampleRate int    `yaml:"sample_rate"`
		Locale     string `yaml:"locale"`
	} `yaml:"recognizer"`
	OpenAI struct {
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
		Model   string `yaml:"model"`
	} `yaml:"openai"`
	Storage struct {
		AudioDir    string `yaml:"audio_dir"`
		RedisAddr   string `yaml:"redis_addr"`
		RedisPrefix string `yaml:"redis_prefix"`
	} `yaml:"storage"`
	Pipeline struct {
		SkipEmptyTranscripts bool `yaml:"skip_empty_transcripts"`
	} `yaml:"pipeline"`
}

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "config.yaml", "Configuration file path")
	flag.Parse()

	config := &Config{}
	if err := loadConfig(configFile, config); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()

	rdb := redis.NewClient(&redis.Options{Addr: config.Storage.RedisAddr})
	cache := store.NewAnnotationCache(rdb, config.Storage.RedisPrefix)
	if err := cache.Load(ctx); err != nil {
		log.Fatalf("Failed to load annotation cache: %v", err)
	}

	blobs, err := store.OpenBlobStore(config.Storage.AudioDir)
	if err != nil {
		log.Fatalf("Failed to open blob store: %v", err)
	}
	log.Printf("Loaded %d recordings from %s", len(blobs.List()), config.Storage.AudioDir)

	engine := transcriber.NewWSEngine(
		config.Recognizer.EngineURL,
		config.Recognizer.Token,
		config.Recognizer.SampleRate,
		config.Recognizer.Locale,
	)
	// One-shot authorization. When it fails, runs fail fast with
	// Unauthorized instead of calling the engine.
	if err := engine.Authorize(ctx); err != nil {
		log.Printf("Speech recognition not authorized: %v", err)
	}

	completions := summarize.NewClient(config.OpenAI.BaseURL, config.OpenAI.APIKey, config.OpenAI.Model)

	pipe := pipeline.New(pipeline.Config{
		Blobs:                blobs,
		Cache:                cache,
		Recognizer:           engine,
		Summarizer:           completions,
		SkipEmptyTranscripts: config.Pipeline.SkipEmptyTranscripts,
	})

	// Pick up recordings that arrived while the process was down.
	pipe.Resume()

	receiver := device.NewReceiver(
		fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port),
		pipe.Ingest,
	)

	go func() {
		if err := receiver.Start(); err != nil {
			log.Fatalf("Receiver error: %v", err)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	receiver.Stop()
	pipe.Wait()
}

func loadConfig(filename string, config *Config) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(config); err != nil {
		return err
	}

	if config.Recognizer.SampleRate == 0 {
		config.Recognizer.SampleRate = 16000
	}
	if config.Recognizer.Locale == "" {
		config.Recognizer.Locale = "zh-CN"
	}
	if config.OpenAI.Model == "" {
		config.OpenAI.Model = "gpt-4"
	}
	if config.Storage.AudioDir == "" {
		config.Storage.AudioDir = "recordings"
	}
	if config.Storage.RedisAddr == "" {
		config.Storage.RedisAddr = "localhost:6379"
	}
	if config.Storage.RedisPrefix == "" {
		config.Storage.RedisPrefix = "voicenotes:"
	}
	return nil
}
