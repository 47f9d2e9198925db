package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/vibz-labs/vibz/backend/internal/config"
	studiomodel "github.com/vibz-labs/vibz/backend/internal/model/studio"
	"github.com/vibz-labs/vibz/backend/internal/service/generation"
	"github.com/vibz-labs/vibz/backend/internal/service/studio"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] could not load .env, using system environment: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	text := flag.String("text", "", "text prompt")
	imagePath := flag.String("image", "", "image file to condition on")
	voicePath := flag.String("voice", "", "voice recording to condition on")
	modelType := flag.String("model", string(studiomodel.ModelBaseline), "model type: baseline or finetuned")
	duration := flag.Int("duration", cfg.Studio.DefaultDuration, "duration in seconds (20-45)")
	seed := flag.Int("seed", -1, "sampling seed, negative for none")
	outPath := flag.String("out", "", "save the generated audio to this path")
	metaPath := flag.String("meta", "", "save the generation metadata to this path")
	timeout := flag.Duration("timeout", 10*time.Minute, "request timeout")

	flag.Parse()

	client := generation.NewClient(cfg.Generation.BaseURL, *timeout)
	session := studio.NewSession("cli", client, studio.Options{
		FinetunedEnabled: cfg.Studio.FinetunedEnabled,
		DefaultDuration:  cfg.Studio.DefaultDuration,
	})
	defer session.Close()

	model := studiomodel.ModelType(*modelType)
	patch := studio.DraftPatch{ModelType: &model, DurationSec: duration, TextPrompt: text}
	if *seed >= 0 {
		patch.Seed = seed
	}
	if _, err := session.UpdateDraft(patch); err != nil {
		log.Fatalf("invalid input: %v", err)
	}

	if *imagePath != "" {
		asset, err := readAsset(*imagePath)
		if err != nil {
			log.Fatalf("read image: %v", err)
		}
		if _, err := session.AttachImage(asset); err != nil {
			log.Fatalf("attach image: %v", err)
		}
	}
	if *voicePath != "" {
		asset, err := readAsset(*voicePath)
		if err != nil {
			log.Fatalf("read voice: %v", err)
		}
		if _, err := session.AttachVoice(asset); err != nil {
			log.Fatalf("attach voice: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	log.Printf("generating against %s", client.BaseURL())
	start := time.Now()
	result, err := session.Submit(ctx)
	if err != nil {
		message := err.Error()
		if notice := session.View().Notice; notice != nil {
			message = notice.Message
		}
		log.Fatalf("generation failed: %s", message)
	}

	fmt.Printf("audio_id:     %s\n", result.AudioID)
	fmt.Printf("sample_rate:  %d\n", result.SampleRate)
	fmt.Printf("used_prompt:  %s\n", result.UsedPrompt)
	fmt.Printf("download_url: %s\n", result.DownloadURL)
	fmt.Printf("meta_url:     %s\n", result.MetaURL)
	fmt.Printf("elapsed:      %s\n", time.Since(start).Round(time.Millisecond))

	if *outPath != "" {
		if err := download(ctx, client, result.DownloadURL, *outPath); err != nil {
			log.Fatalf("download audio: %v", err)
		}
		log.Printf("audio saved to %s", *outPath)
	}
	if *metaPath != "" {
		if err := download(ctx, client, result.MetaURL, *metaPath); err != nil {
			log.Fatalf("download metadata: %v", err)
		}
		log.Printf("metadata saved to %s", *metaPath)
	}
}

func readAsset(path string) (*studiomodel.Asset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mediaType
	}
	return &studiomodel.Asset{Name: filepath.Base(path), ContentType: contentType, Data: data}, nil
}

func download(ctx context.Context, client *generation.Client, resourcePath, dest string) error {
	res, err := client.Fetch(ctx, resourcePath)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	file, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(file, res.Body); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
