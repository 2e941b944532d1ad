package worker

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/wavelearn/genflow/internal/config"
	"github.com/wavelearn/genflow/pkg/models"
)

// OpenAI is a synchronous-completing worker client for an OpenAI-compatible
// API: chat completions for step content, speech synthesis for podcast
// audio, image generations for images.
type OpenAI struct {
	cfg    config.OpenAIConfig
	client *http.Client
}

func NewOpenAI(cfg config.OpenAIConfig) *OpenAI {
	return &OpenAI{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (p *OpenAI) Name() string { return "openai" }

func (p *OpenAI) Invoke(ctx context.Context, job *models.Job) (Result, error) {
	switch job.Kind {
	case models.KindStepContent:
		return p.generateText(ctx, job)
	case models.KindPodcastAudio:
		return p.generateAudio(ctx, job)
	case models.KindImage:
		return p.generateImage(ctx, job)
	default:
		return Result{}, fmt.Errorf("%w: openai worker does not support kind %q", ErrRejected, job.Kind)
	}
}

type textPayload struct {
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
}

func (p *OpenAI) generateText(ctx context.Context, job *models.Job) (Result, error) {
	var payload textPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil || payload.Prompt == "" {
		return Result{}, fmt.Errorf("%w: payload must contain a prompt", ErrRejected)
	}

	system := payload.System
	if system == "" {
		system = "You are a tutor writing detailed lesson step content in markdown."
	}

	body := map[string]any{
		"model": p.cfg.TextModel,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": payload.Prompt},
		},
	}

	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := p.post(ctx, "/chat/completions", body, &resp); err != nil {
		return Result{}, err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return Result{}, fmt.Errorf("%w: empty completion", ErrUnavailable)
	}

	// Text artifacts travel inline as a data ref; callers treat refs as opaque.
	ref := "data:text/markdown;base64," +
		base64.StdEncoding.EncodeToString([]byte(resp.Choices[0].Message.Content))
	return Result{ResultRef: ref, Completed: true}, nil
}

type audioPayload struct {
	Script string `json:"script"`
	Voice  string `json:"voice,omitempty"`
}

func (p *OpenAI) generateAudio(ctx context.Context, job *models.Job) (Result, error) {
	var payload audioPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil || payload.Script == "" {
		return Result{}, fmt.Errorf("%w: payload must contain a script", ErrRejected)
	}

	voice := payload.Voice
	if voice == "" {
		voice = p.cfg.AudioVoice
	}

	body := map[string]any{
		"model":           p.cfg.AudioModel,
		"voice":           voice,
		"input":           payload.Script,
		"response_format": "mp3",
	}

	// The speech endpoint returns the audio bytes directly, not JSON.
	audio, err := p.postRaw(ctx, "/audio/speech", body)
	if err != nil {
		return Result{}, err
	}
	if len(audio) == 0 {
		return Result{}, fmt.Errorf("%w: empty speech response", ErrUnavailable)
	}

	ref := "data:audio/mpeg;base64," + base64.StdEncoding.EncodeToString(audio)
	return Result{ResultRef: ref, Completed: true}, nil
}

type imagePayload struct {
	Prompt string `json:"prompt"`
}

func (p *OpenAI) generateImage(ctx context.Context, job *models.Job) (Result, error) {
	var payload imagePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil || payload.Prompt == "" {
		return Result{}, fmt.Errorf("%w: payload must contain a prompt", ErrRejected)
	}

	body := map[string]any{
		"model":  p.cfg.ImageModel,
		"prompt": payload.Prompt,
		"size":   p.cfg.ImageSize,
		"n":      1,
	}

	var resp struct {
		Data []struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	if err := p.post(ctx, "/images/generations", body, &resp); err != nil {
		return Result{}, err
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return Result{}, fmt.Errorf("%w: empty image response", ErrUnavailable)
	}

	return Result{ResultRef: resp.Data[0].URL, Completed: true}, nil
}

func (p *OpenAI) post(ctx context.Context, path string, body any, out any) error {
	resp, err := p.do(ctx, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (p *OpenAI) postRaw(ctx context.Context, path string, body any) ([]byte, error) {
	resp, err := p.do(ctx, path, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return raw, nil
}

func (p *OpenAI) do(ctx context.Context, path string, body any) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, classifyHTTPError(err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, classifyStatus(resp.StatusCode)
	}
	return resp, nil
}

var _ Invoker = (*OpenAI)(nil)
