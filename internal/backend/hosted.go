package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// MessagesClient is the subset of the Anthropic SDK used by the hosted
// backend. *sdk.MessageService satisfies it.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// NewHosted builds the hosted backend on top of an Anthropic messages client.
// probe may be nil.
func NewHosted(msgs MessagesClient, probe ProbeFunc, opts Options) (*Adapter, error) {
	if msgs == nil {
		return nil, errors.New("hosted: messages client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("hosted: model is required")
	}
	call := func(ctx context.Context, req Request) (Completion, error) {
		params := sdk.MessageNewParams{
			MaxTokens: int64(req.MaxTokens),
			Model:     sdk.Model(opts.Model),
			Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(userContent(req)))},
		}
		if req.System != "" {
			params.System = []sdk.TextBlockParam{{Text: req.System}}
		}
		msg, err := msgs.New(ctx, params)
		if err != nil {
			return Completion{}, hostedError(err)
		}
		return translateMessage(msg)
	}
	return NewAdapter(Hosted, HostedConfidence, call, probe, opts), nil
}

// NewHostedFromAPIKey constructs the hosted backend with the default Anthropic
// HTTP client. The probe lists available models.
func NewHostedFromAPIKey(apiKey string, opts Options) (*Adapter, error) {
	if apiKey == "" {
		return nil, errors.New("hosted: api key is required")
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	probe := func(ctx context.Context) error {
		_, err := client.Models.List(ctx, sdk.ModelListParams{})
		if err != nil {
			return hostedError(err)
		}
		return nil
	}
	return NewHosted(&client.Messages, probe, opts)
}

func translateMessage(msg *sdk.Message) (Completion, error) {
	if msg == nil {
		return Completion{}, fmt.Errorf("hosted: %w: nil message", ErrMalformed)
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			b.WriteString(block.Text)
		}
	}
	return Completion{
		Content:    b.String(),
		TokensUsed: int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}, nil
}

func hostedError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return &Error{Backend: Hosted, StatusCode: apiErr.StatusCode, Err: err}
	}
	return err
}
