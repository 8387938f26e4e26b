package app

import (
	"context"
	"log/slog"

	"github.com/fairyhunter13/ai-ad-generator/internal/adapter/provider/compose"
	"github.com/fairyhunter13/ai-ad-generator/internal/adapter/provider/image"
	"github.com/fairyhunter13/ai-ad-generator/internal/adapter/provider/research"
	"github.com/fairyhunter13/ai-ad-generator/internal/adapter/provider/script"
	"github.com/fairyhunter13/ai-ad-generator/internal/adapter/provider/stub"
	"github.com/fairyhunter13/ai-ad-generator/internal/adapter/provider/video"
	"github.com/fairyhunter13/ai-ad-generator/internal/adapter/provider/voice"
	"github.com/fairyhunter13/ai-ad-generator/internal/adapter/provider/watermark"
	"github.com/fairyhunter13/ai-ad-generator/internal/adapter/storage/gcs"
	"github.com/fairyhunter13/ai-ad-generator/internal/adapter/storage/memory"
	"github.com/fairyhunter13/ai-ad-generator/internal/config"
	"github.com/fairyhunter13/ai-ad-generator/internal/domain"
	"github.com/fairyhunter13/ai-ad-generator/internal/worker"
)

// useStubs reports whether this process should run on deterministic stub
// providers and in-memory storage: always in test, and in dev when no
// script key is configured.
func useStubs(cfg config.Config) bool {
	return cfg.IsTest() || (cfg.IsDev() && cfg.ScriptAPIKey == "")
}

// BuildProviders wires the provider adapters for the configured environment.
func BuildProviders(cfg config.Config) worker.Providers {
	if useStubs(cfg) {
		slog.Info("using stub providers")
		return worker.Providers{
			Script: stub.Script{},
			Voice:  stub.Voice{},
			Video: map[string]domain.VideoAdapter{
				domain.VideoServiceSora:  &stub.Video{Service: domain.VideoServiceSora, Watermark: true},
				domain.VideoServiceKling: &stub.Video{Service: domain.VideoServiceKling},
			},
			Watermark: stub.Watermark{},
			Compose:   stub.Compose{},
			Image:     stub.Image{},
			Research:  stub.Research{},
		}
	}
	return worker.Providers{
		Script: script.New(cfg),
		Voice:  voice.New(cfg),
		Video: map[string]domain.VideoAdapter{
			domain.VideoServiceSora:  video.NewSora(cfg),
			domain.VideoServiceKling: video.NewKling(cfg),
		},
		Watermark: watermark.New(cfg),
		Compose:   compose.New(cfg),
		Image:     image.New(cfg),
		Research:  research.New(cfg),
	}
}

// BuildBlobStore returns the artifact store: GCS normally, in-memory when
// running on stubs.
func BuildBlobStore(ctx context.Context, cfg config.Config) (domain.BlobStore, error) {
	if useStubs(cfg) {
		return memory.New(), nil
	}
	return gcs.New(ctx, cfg)
}
