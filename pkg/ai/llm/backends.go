package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	mistral "github.com/gage-technologies/mistral-go"
	"github.com/google/generative-ai-go/genai"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	googleoption "google.golang.org/api/option"

	"github.com/spendmonitor/alertengine/internal/config"
)

// backend is the one wire call that differs between providers; every
// other part of Client (prompt template, JSON-slot parsing) is shared.
type backend interface {
	complete(ctx context.Context, prompt string) (string, error)
}

// newBackend builds the provider-specific backend cfg.Provider names.
// NewClient has already validated Provider is one of the five below.
func newBackend(cfg config.LLMConfig) (backend, error) {
	switch cfg.Provider {
	case "localai":
		return newLocalAIBackend(cfg), nil
	case "anthropic":
		return newAnthropicBackend(cfg), nil
	case "bedrock":
		return newBedrockBackend(cfg)
	case "vertexai":
		return newVertexAIBackend(cfg)
	case "mistral":
		return newMistralBackend(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

// localAIBackend talks to an OpenAI-compatible completion endpoint
// (the shape a self-hosted LocalAI server exposes) through
// langchaingo's openai client rather than a hand-rolled HTTP POST.
type localAIBackend struct {
	llm *openai.LLM
}

func newLocalAIBackend(cfg config.LLMConfig) *localAIBackend {
	l, err := openai.New(
		openai.WithBaseURL(cfg.Endpoint+"/v1"),
		openai.WithModel(cfg.Model),
		openai.WithToken(cfg.APIKey),
	)
	if err != nil {
		return &localAIBackend{}
	}
	return &localAIBackend{llm: l}
}

func (b *localAIBackend) complete(ctx context.Context, prompt string) (string, error) {
	if b.llm == nil {
		return "", fmt.Errorf("localai backend failed to initialize")
	}
	resp, err := b.llm.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	})
	if err != nil {
		return "", fmt.Errorf("localai request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("localai response contained no choices")
	}
	return resp.Choices[0].Content, nil
}

// anthropicBackend calls Claude through the official SDK.
type anthropicBackend struct {
	client anthropic.Client
	model  string
	tokens int
}

func newAnthropicBackend(cfg config.LLMConfig) *anthropicBackend {
	model := cfg.Model
	if model == "" {
		model = string(anthropic.ModelClaude3_5HaikuLatest)
	}
	tokens := cfg.MaxTokens
	if tokens <= 0 {
		tokens = 1024
	}
	return &anthropicBackend{
		client: anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:  model,
		tokens: tokens,
	}
}

func (b *anthropicBackend) complete(ctx context.Context, prompt string) (string, error) {
	msg, err := b.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(b.model),
		MaxTokens: int64(b.tokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic request failed: %w", err)
	}
	for _, block := range msg.Content {
		if text := block.Text; text != "" {
			return text, nil
		}
	}
	return "", fmt.Errorf("anthropic response contained no text block")
}

// bedrockBackend invokes a model hosted on Amazon Bedrock using the
// same rule-intent prompt wrapped in that model's native request
// envelope (the Anthropic-on-Bedrock "messages" shape).
type bedrockBackend struct {
	client *bedrockruntime.Client
	model  string
	tokens int
}

func newBedrockBackend(cfg config.LLMConfig) (*bedrockBackend, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for bedrock: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = "anthropic.claude-3-haiku-20240307-v1:0"
	}
	tokens := cfg.MaxTokens
	if tokens <= 0 {
		tokens = 1024
	}
	return &bedrockBackend{
		client: bedrockruntime.NewFromConfig(awsCfg),
		model:  model,
		tokens: tokens,
	}, nil
}

func (b *bedrockBackend) complete(ctx context.Context, prompt string) (string, error) {
	body := fmt.Sprintf(
		`{"anthropic_version":"bedrock-2023-05-31","max_tokens":%d,"messages":[{"role":"user","content":%q}]}`,
		b.tokens, prompt,
	)
	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.model),
		ContentType: aws.String("application/json"),
		Body:        []byte(body),
	})
	if err != nil {
		return "", fmt.Errorf("bedrock invoke-model failed: %w", err)
	}
	return extractBedrockCompletion(out.Body)
}

// extractBedrockCompletion decodes the Anthropic-on-Bedrock response
// envelope, which wraps the model's text in a content-block array
// rather than the OpenAI-style "choices" shape.
func extractBedrockCompletion(body []byte) (string, error) {
	var decoded struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("failed to decode bedrock response: %w", err)
	}
	for _, block := range decoded.Content {
		if block.Type == "text" && block.Text != "" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("bedrock response contained no text content")
}

// vertexAIBackend calls a Gemini model through the generative-ai-go
// client. Note: cloud.google.com/go/vertexai and golang.org/x/oauth2
// are deliberately not used here; see DESIGN.md for why.
type vertexAIBackend struct {
	model *genai.GenerativeModel
}

func newVertexAIBackend(cfg config.LLMConfig) (*vertexAIBackend, error) {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, googleoption.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to build vertexai client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &vertexAIBackend{model: client.GenerativeModel(model)}, nil
}

func (b *vertexAIBackend) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := b.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("vertexai request failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("vertexai response contained no candidates")
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			return string(text), nil
		}
	}
	return "", fmt.Errorf("vertexai response contained no text part")
}

// mistralBackend calls a hosted Mistral model through its Go SDK.
type mistralBackend struct {
	client *mistral.MistralClient
	model  string
	tokens int
}

func newMistralBackend(cfg config.LLMConfig) *mistralBackend {
	model := cfg.Model
	if model == "" {
		model = "mistral-small-latest"
	}
	tokens := cfg.MaxTokens
	if tokens <= 0 {
		tokens = 1024
	}
	return &mistralBackend{
		client: mistral.NewMistralClientDefault(cfg.APIKey),
		model:  model,
		tokens: tokens,
	}
}

func (b *mistralBackend) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := b.client.Chat(b.model, []mistral.ChatMessage{
		{Role: "user", Content: prompt},
	}, &mistral.ChatRequestParams{MaxTokens: b.tokens})
	if err != nil {
		return "", fmt.Errorf("mistral request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("mistral response contained no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
