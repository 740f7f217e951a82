// Package analysis turns a finished interview transcript into a structured
// assessment via one provider call with a JSON response schema.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/talentwire/voicebridge/pkg/core"
	"github.com/talentwire/voicebridge/pkg/gateway/live/transcript"
	"github.com/talentwire/voicebridge/pkg/jobs"
)

const defaultModel = "gemini-2.0-flash"

type Analyzer struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

func New(ctx context.Context, apiKey, model string, logger *slog.Logger) (*Analyzer, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, core.NewInvalidRequestErrorWithParam("analysis api key is required", "api_key")
	}
	if strings.TrimSpace(model) == "" {
		model = defaultModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &Analyzer{
		client: client,
		model:  model,
		logger: logger.With("component", "analyzer"),
	}, nil
}

// Analyze renders the transcript with kind-appropriate role labels and runs
// one structured-output call. The returned document matches responseSchema.
func (a *Analyzer) Analyze(ctx context.Context, job jobs.AnalysisJob) (json.RawMessage, error) {
	userLabel, assistantLabel := job.Kind.RoleLabels()
	rendered := transcript.Render(job.Transcript, userLabel, assistantLabel)
	if strings.TrimSpace(rendered) == "" {
		return nil, core.NewInvalidRequestErrorWithParam("transcript is empty", "transcript")
	}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   responseSchema(),
		Temperature:      genai.Ptr(float32(0.2)),
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: rubricFor(job.Kind)}},
		},
	}
	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: buildPrompt(job, rendered)}},
	}}

	resp, err := a.client.Models.GenerateContent(ctx, a.model, contents, config)
	if err != nil {
		return nil, core.NewUpstreamError("analysis call failed", err)
	}

	text := responseText(resp)
	if strings.TrimSpace(text) == "" {
		return nil, core.NewUpstreamError("analysis response was empty", nil)
	}
	if !json.Valid([]byte(text)) {
		return nil, core.NewUpstreamError("analysis response was not valid JSON", nil)
	}

	a.logger.Info("analysis complete", "session_id", job.SessionID, "kind", job.Kind)
	return json.RawMessage(text), nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}
