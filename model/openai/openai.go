//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package openai provides OpenAI-compatible model implementations.
package openai

import (
	"context"
	"errors"
	"net/http"
	"time"

	openai "github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"trpc.group/trpc-go/trpc-workflow-go/log"
	"trpc.group/trpc-go/trpc-workflow-go/model"
)

// defaultChannelBufferSize is the default channel buffer size.
const defaultChannelBufferSize = 256

// HTTPClient is the interface for the HTTP client.
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// HTTPClientNewFunc is the function type for creating a new HTTP client.
type HTTPClientNewFunc func(opts ...HTTPClientOption) HTTPClient

// DefaultNewHTTPClient is the default HTTP client for OpenAI.
var DefaultNewHTTPClient HTTPClientNewFunc = func(opts ...HTTPClientOption) HTTPClient {
	options := &HTTPClientOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return &http.Client{
		Transport: options.Transport,
	}
}

// HTTPClientOption is the option for the HTTP client.
type HTTPClientOption func(*HTTPClientOptions)

// WithHTTPClientTransport is the option for the HTTP client transport.
func WithHTTPClientTransport(transport http.RoundTripper) HTTPClientOption {
	return func(options *HTTPClientOptions) {
		options.Transport = transport
	}
}

// HTTPClientOptions is the options for the HTTP client.
type HTTPClientOptions struct {
	Transport http.RoundTripper
}

// ChatRequestCallbackFunc is called before a chat request is sent.
type ChatRequestCallbackFunc func(
	ctx context.Context,
	chatRequest *openai.ChatCompletionNewParams,
)

// Model implements the model.Model interface for OpenAI API.
type Model struct {
	client              openai.Client
	name                string
	baseURL             string
	apiKey              string
	channelBufferSize   int
	chatRequestCallback ChatRequestCallbackFunc
	extraFields         map[string]any
}

type options struct {
	APIKey              string
	BaseURL             string
	ChannelBufferSize   int
	HTTPClientOptions   []HTTPClientOption
	ChatRequestCallback ChatRequestCallbackFunc
	OpenAIOptions       []openaiopt.RequestOption
	ExtraFields         map[string]any
}

// Option is a function that configures an OpenAI model.
type Option func(*options)

// WithAPIKey sets the API key for the OpenAI client.
func WithAPIKey(key string) Option {
	return func(opts *options) {
		opts.APIKey = key
	}
}

// WithBaseURL sets the base URL for the OpenAI client.
func WithBaseURL(url string) Option {
	return func(opts *options) {
		opts.BaseURL = url
	}
}

// WithChannelBufferSize sets the channel buffer size for the OpenAI client.
func WithChannelBufferSize(size int) Option {
	return func(opts *options) {
		if size <= 0 {
			size = defaultChannelBufferSize
		}
		opts.ChannelBufferSize = size
	}
}

// WithHTTPClientOptions sets the HTTP client options for the OpenAI client.
func WithHTTPClientOptions(httpOpts ...HTTPClientOption) Option {
	return func(opts *options) {
		opts.HTTPClientOptions = httpOpts
	}
}

// WithChatRequestCallback sets the function to be called before sending a chat request.
func WithChatRequestCallback(fn ChatRequestCallbackFunc) Option {
	return func(opts *options) {
		opts.ChatRequestCallback = fn
	}
}

// WithOpenAIOptions appends raw client options, e.g. middleware.
func WithOpenAIOptions(openaiOpts ...openaiopt.RequestOption) Option {
	return func(opts *options) {
		opts.OpenAIOptions = append(opts.OpenAIOptions, openaiOpts...)
	}
}

// WithExtraFields sets extra fields added to every request body.
func WithExtraFields(extraFields map[string]any) Option {
	return func(opts *options) {
		if opts.ExtraFields == nil {
			opts.ExtraFields = make(map[string]any)
		}
		for k, v := range extraFields {
			opts.ExtraFields[k] = v
		}
	}
}

// New creates a new OpenAI-like model.
func New(name string, opts ...Option) *Model {
	o := &options{
		ChannelBufferSize: defaultChannelBufferSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	var clientOpts []openaiopt.RequestOption
	if o.APIKey != "" {
		clientOpts = append(clientOpts, openaiopt.WithAPIKey(o.APIKey))
	}
	if o.BaseURL != "" {
		clientOpts = append(clientOpts, openaiopt.WithBaseURL(o.BaseURL))
	}
	clientOpts = append(clientOpts, openaiopt.WithHTTPClient(DefaultNewHTTPClient(o.HTTPClientOptions...)))
	clientOpts = append(clientOpts, o.OpenAIOptions...)

	return &Model{
		client:              openai.NewClient(clientOpts...),
		name:                name,
		baseURL:             o.BaseURL,
		apiKey:              o.APIKey,
		channelBufferSize:   o.ChannelBufferSize,
		chatRequestCallback: o.ChatRequestCallback,
		extraFields:         o.ExtraFields,
	}
}

// Info implements the model.Model interface.
func (m *Model) Info() model.Info {
	return model.Info{
		Name: m.name,
	}
}

// GenerateContent implements the model.Model interface.
func (m *Model) GenerateContent(
	ctx context.Context,
	request *model.Request,
) (<-chan *model.Response, error) {
	if request == nil {
		return nil, errors.New("request cannot be nil")
	}

	responseChan := make(chan *model.Response, m.channelBufferSize)

	chatRequest := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(m.name),
		Messages: convertMessages(request.Messages),
	}
	if request.MaxTokens != nil {
		chatRequest.MaxCompletionTokens = openai.Int(int64(*request.MaxTokens))
	}
	if request.Temperature != nil {
		chatRequest.Temperature = openai.Float(*request.Temperature)
	}
	if request.TopP != nil {
		chatRequest.TopP = openai.Float(*request.TopP)
	}
	if len(request.Stop) > 0 {
		// Use the first stop string for simplicity.
		chatRequest.Stop = openai.ChatCompletionNewParamsStopUnion{
			OfString: openai.String(request.Stop[0]),
		}
	}
	var opts []openaiopt.RequestOption
	for key, value := range m.extraFields {
		opts = append(opts, openaiopt.WithJSONSet(key, value))
	}
	if request.Stream {
		chatRequest.StreamOptions = openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		}
	}

	go func() {
		defer close(responseChan)

		if m.chatRequestCallback != nil {
			m.chatRequestCallback(ctx, &chatRequest)
		}
		if request.Stream {
			m.handleStreamingResponse(ctx, chatRequest, responseChan, opts...)
		} else {
			m.handleNonStreamingResponse(ctx, chatRequest, responseChan, opts...)
		}
	}()

	return responseChan, nil
}

func convertMessages(messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			result = append(result, openai.SystemMessage(msg.Content))
		case model.RoleAssistant:
			result = append(result, openai.AssistantMessage(msg.Content))
		default:
			result = append(result, openai.UserMessage(msg.Content))
		}
	}
	return result
}

func (m *Model) handleStreamingResponse(
	ctx context.Context,
	chatRequest openai.ChatCompletionNewParams,
	responseChan chan<- *model.Response,
	opts ...openaiopt.RequestOption,
) {
	stream := m.client.Chat.Completions.NewStreaming(ctx, chatRequest, opts...)
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		// Usage-only and empty chunks carry nothing to show.
		if len(chunk.Choices) == 0 || (chunk.Choices[0].Delta.Content == "" && chunk.Choices[0].FinishReason == "") {
			continue
		}
		response := &model.Response{
			ID:        chunk.ID,
			Object:    model.ObjectTypeChatCompletionChunk,
			Created:   chunk.Created,
			Model:     chunk.Model,
			Timestamp: time.Now(),
			IsPartial: true,
			Choices: []model.Choice{{
				Index: int(chunk.Choices[0].Index),
				Delta: model.Message{Role: model.RoleAssistant, Content: chunk.Choices[0].Delta.Content},
			}},
		}
		if fr := chunk.Choices[0].FinishReason; fr != "" {
			response.Choices[0].FinishReason = &fr
		}
		select {
		case responseChan <- response:
		case <-ctx.Done():
			return
		}
	}

	if err := stream.Err(); err != nil {
		log.Warnf("openai stream for %s failed: %v", m.name, err)
		send(ctx, responseChan, &model.Response{
			Error:     &model.ResponseError{Message: err.Error(), Type: model.ErrorTypeStreamError},
			Timestamp: time.Now(),
			Done:      true,
		})
		return
	}
	final := &model.Response{
		Object:  model.ObjectTypeChatCompletion,
		ID:      acc.ID,
		Created: acc.Created,
		Model:   acc.Model,
		Choices: make([]model.Choice, len(acc.Choices)),
		Usage: &model.Usage{
			PromptTokens:     int(acc.Usage.PromptTokens),
			CompletionTokens: int(acc.Usage.CompletionTokens),
			TotalTokens:      int(acc.Usage.TotalTokens),
		},
		Timestamp: time.Now(),
		Done:      true,
	}
	for i, choice := range acc.Choices {
		final.Choices[i] = model.Choice{
			Index:   int(choice.Index),
			Message: model.Message{Role: model.RoleAssistant, Content: choice.Message.Content},
		}
		if fr := choice.FinishReason; fr != "" {
			final.Choices[i].FinishReason = &fr
		}
	}
	send(ctx, responseChan, final)
}

func (m *Model) handleNonStreamingResponse(
	ctx context.Context,
	chatRequest openai.ChatCompletionNewParams,
	responseChan chan<- *model.Response,
	opts ...openaiopt.RequestOption,
) {
	chatCompletion, err := m.client.Chat.Completions.New(ctx, chatRequest, opts...)
	if err != nil {
		send(ctx, responseChan, &model.Response{
			Error:     &model.ResponseError{Message: err.Error(), Type: model.ErrorTypeAPIError},
			Timestamp: time.Now(),
			Done:      true,
		})
		return
	}

	response := &model.Response{
		ID:        chatCompletion.ID,
		Object:    string(chatCompletion.Object),
		Created:   chatCompletion.Created,
		Model:     chatCompletion.Model,
		Timestamp: time.Now(),
		Done:      true,
		Choices:   make([]model.Choice, len(chatCompletion.Choices)),
	}
	for i, choice := range chatCompletion.Choices {
		response.Choices[i] = model.Choice{
			Index:   int(choice.Index),
			Message: model.Message{Role: model.RoleAssistant, Content: choice.Message.Content},
		}
		if choice.FinishReason != "" {
			finishReason := choice.FinishReason
			response.Choices[i].FinishReason = &finishReason
		}
	}
	if chatCompletion.Usage.PromptTokens > 0 || chatCompletion.Usage.CompletionTokens > 0 {
		response.Usage = &model.Usage{
			PromptTokens:     int(chatCompletion.Usage.PromptTokens),
			CompletionTokens: int(chatCompletion.Usage.CompletionTokens),
			TotalTokens:      int(chatCompletion.Usage.TotalTokens),
		}
	}
	send(ctx, responseChan, response)
}

func send(ctx context.Context, ch chan<- *model.Response, rsp *model.Response) {
	select {
	case ch <- rsp:
	case <-ctx.Done():
	}
}
