package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ChatClient is the subset of the OpenAI SDK used by the local backend.
// The local backend is any OpenAI-compatible server (Ollama, vLLM, llama.cpp).
type ChatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// NewLocal builds the local backend on top of a chat completions client.
// probe may be nil.
func NewLocal(chat ChatClient, probe ProbeFunc, opts Options) (*Adapter, error) {
	if chat == nil {
		return nil, errors.New("local: chat client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("local: model is required")
	}
	call := func(ctx context.Context, req Request) (Completion, error) {
		var messages []openai.ChatCompletionMessageParamUnion
		if req.System != "" {
			messages = append(messages, openai.SystemMessage(req.System))
		}
		messages = append(messages, openai.UserMessage(userContent(req)))

		resp, err := chat.New(ctx, openai.ChatCompletionNewParams{
			Model:     openai.ChatModel(opts.Model),
			Messages:  messages,
			MaxTokens: openai.Int(int64(req.MaxTokens)),
		})
		if err != nil {
			return Completion{}, localError(err)
		}
		if resp == nil || len(resp.Choices) == 0 {
			return Completion{}, fmt.Errorf("local: %w: no choices", ErrMalformed)
		}
		return Completion{
			Content:    resp.Choices[0].Message.Content,
			TokensUsed: int(resp.Usage.TotalTokens),
		}, nil
	}
	return NewAdapter(Local, LocalConfidence, call, probe, opts), nil
}

// NewLocalFromURL constructs the local backend against baseURL. apiKey may be
// empty for servers that do not check it. The probe lists available models.
func NewLocalFromURL(baseURL, apiKey string, opts Options) (*Adapter, error) {
	if baseURL == "" {
		return nil, errors.New("local: base url is required")
	}
	if apiKey == "" {
		apiKey = "local"
	}
	client := openai.NewClient(option.WithBaseURL(baseURL), option.WithAPIKey(apiKey))
	probe := func(ctx context.Context) error {
		_, err := client.Models.List(ctx)
		if err != nil {
			return localError(err)
		}
		return nil
	}
	return NewLocal(&client.Chat.Completions, probe, opts)
}

func localError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &Error{Backend: Local, StatusCode: apiErr.StatusCode, Err: err}
	}
	return err
}
