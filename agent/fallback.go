package agent

import (
	"context"
	"math/rand"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/sirupsen/logrus"
	"google.golang.org/genai"
)

// defaultFallbackPhrases is the short pool of colloquial Chinese phrases
// used when no configured fallback string is set. Picked uniformly at
// random so repeated fallbacks in one conversation don't read as a
// canned, repeated message.
var defaultFallbackPhrases = []string{
	"不好意思，我这边刚刚有点卡顿，您刚才说的能再跟我说一下吗？",
	"抱歉，网络好像有点问题，麻烦您稍等我一下～",
	"不好意思让您久等了，可以再重复一下刚才的问题吗？",
	"稍等一下哈，我这边处理得有点慢，马上回您。",
}

// StaticFallback is a FallbackProvider returning a fixed configured
// string when non-empty, otherwise a uniformly random pick from
// defaultFallbackPhrases.
type StaticFallback struct {
	Configured string
	rng        *rand.Rand
}

// NewStaticFallback returns a StaticFallback. configured may be empty to
// use the default phrase pool.
func NewStaticFallback(configured string) *StaticFallback {
	return &StaticFallback{Configured: configured, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (f *StaticFallback) FallbackText(_ context.Context) string {
	if f.Configured != "" {
		return f.Configured
	}
	return defaultFallbackPhrases[f.rng.Intn(len(defaultFallbackPhrases))]
}

// fallbackPrompt is the instruction given to an LLM-backed FallbackProvider:
// the reply it invents has to read like a believable stalling message, not
// an apology that exposes the failure.
const fallbackPrompt = "Write one short, natural, apologetic message in Chinese " +
	"telling the other person you had a brief hiccup and asking them to repeat " +
	"what they just said. No more than one sentence."

// OpenAIFallback asks an OpenAI chat model for a fresh stalling message on
// every call, falling back to Static on any request error so a flaky
// upstream never leaves the caller with nothing at all. Selected via
// AGENT_FALLBACK_PROVIDER=openai, grounded on
// botengine/providers/openai_provider.go's client construction and
// ChatCompletionNewParams usage.
type OpenAIFallback struct {
	client openai.Client
	model  string
	Static *StaticFallback
}

// NewOpenAIFallback returns an OpenAIFallback using model (falls back to
// gpt-4o-mini if empty) and apiKey, with configured as the Static backstop.
func NewOpenAIFallback(apiKey, model, configured string) *OpenAIFallback {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIFallback{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
		Static: NewStaticFallback(configured),
	}
}

func (f *OpenAIFallback) FallbackText(ctx context.Context) string {
	completion, err := f.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(f.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(fallbackPrompt),
		},
	})
	if err != nil || len(completion.Choices) == 0 {
		logrus.WithError(err).Warn("[Fallback] OpenAI fallback generation failed, using static phrase")
		return f.Static.FallbackText(ctx)
	}
	text := completion.Choices[0].Message.Content
	if text == "" {
		return f.Static.FallbackText(ctx)
	}
	return text
}

// GeminiFallback is the same selectable-enrichment slot as OpenAIFallback
// backed by Gemini instead, grounded on integrations/gemini/gemini.go's
// genai.NewClient/GenerateContent usage. Selected via
// AGENT_FALLBACK_PROVIDER=gemini.
type GeminiFallback struct {
	apiKey string
	model  string
	Static *StaticFallback
}

// NewGeminiFallback returns a GeminiFallback using model (falls back to
// gemini-2.0-flash if empty) and apiKey, with configured as the Static
// backstop.
func NewGeminiFallback(apiKey, model, configured string) *GeminiFallback {
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GeminiFallback{apiKey: apiKey, model: model, Static: NewStaticFallback(configured)}
}

func (f *GeminiFallback) FallbackText(ctx context.Context) string {
	text, err := f.generate(ctx)
	if err != nil || text == "" {
		logrus.WithError(err).Warn("[Fallback] Gemini fallback generation failed, using static phrase")
		return f.Static.FallbackText(ctx)
	}
	return text
}

func (f *GeminiFallback) generate(ctx context.Context) (string, error) {
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  f.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return "", err
	}

	contents := []*genai.Content{
		{Role: genai.RoleUser, Parts: []*genai.Part{{Text: fallbackPrompt}}},
	}
	result, err := gc.Models.GenerateContent(ctx, f.model, contents, nil)
	if err != nil {
		return "", err
	}
	return result.Text(), nil
}
