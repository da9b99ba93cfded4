package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	config "github.com/postloom/postloom/configs"
	"github.com/postloom/postloom/internal/transfer"
)

// Generator is the opaque AI collaborator. It is consumed only to produce
// job content before scheduling; callers are responsible for admission
// control and for recording usage afterwards.
type Generator interface {
	Generate(ctx context.Context, prompt string) (*transfer.GeneratedContent, error)
}

type generationService struct {
	cfg    config.Config
	client *http.Client
}

func NewGenerationService(cfg config.Config) Generator {
	return &generationService{cfg: cfg, client: &http.Client{}}
}

type generateRequest struct {
	Prompt string `json:"prompt"`
}

func (s *generationService) Generate(ctx context.Context, prompt string) (*transfer.GeneratedContent, error) {
	body, err := json.Marshal(generateRequest{Prompt: prompt})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.GenerationURL+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.GenerationAPIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("generation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Info(fmt.Sprintf("generation service returned status %d", resp.StatusCode))
		return nil, fmt.Errorf("generation service returned status %d", resp.StatusCode)
	}

	var content transfer.GeneratedContent
	if err := json.NewDecoder(resp.Body).Decode(&content); err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("failed to decode generated content: %w", err)
	}

	return &content, nil
}
