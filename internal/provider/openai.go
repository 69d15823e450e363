package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/inaiurai/metagen/internal/models"
)

// OpenAI calls the chat completions API in JSON-object mode.
type OpenAI struct {
	settings Settings
}

func NewOpenAI(s Settings) *OpenAI {
	if s.TextModel == "" {
		s.TextModel = openai.GPT4oMini
	}
	if s.VisionModel == "" {
		s.VisionModel = openai.GPT4o
	}
	return &OpenAI{settings: s}
}

func (o *OpenAI) Kind() string   { return models.ProviderOpenAI }
func (o *OpenAI) Policy() Policy { return o.settings.Policy }

func (o *OpenAI) client(credential string) *openai.Client {
	cfg := openai.DefaultConfig(credential)
	if o.settings.BaseURL != "" {
		cfg.BaseURL = o.settings.BaseURL
	}
	return openai.NewClientWithConfig(cfg)
}

func (o *OpenAI) GenerateFromText(ctx context.Context, credential, prompt, subject string) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", newError(o.Kind(), Malformed, errEmptyInput)
	}
	return o.complete(ctx, credential, o.settings.TextModel, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: prompt},
		{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(chatTextInstruction, subject)},
	})
}

func (o *OpenAI) GenerateFromImage(ctx context.Context, credential, prompt string, image []byte) (string, error) {
	if len(image) == 0 {
		return "", newError(o.Kind(), Malformed, errEmptyInput)
	}
	dataURL := "data:" + imageMIME(image) + ";base64," + base64.StdEncoding.EncodeToString(image)
	return o.complete(ctx, credential, o.settings.VisionModel, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: prompt},
		{Role: openai.ChatMessageRoleUser, MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: imageInstruction},
			{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: dataURL}},
		}},
	})
}

func (o *OpenAI) complete(ctx context.Context, credential, model string, messages []openai.ChatCompletionMessage) (string, error) {
	ctx, cancel := withTimeout(ctx, o.settings.Timeout)
	defer cancel()

	resp, err := o.client(credential).CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:          model,
		Messages:       messages,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return "", o.classify(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", newError(o.Kind(), Malformed, errors.New("no response from OpenAI"))
	}
	return resp.Choices[0].Message.Content, nil
}

func (o *OpenAI) classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return newError(o.Kind(), kindForStatus(apiErr.HTTPStatusCode), err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return newError(o.Kind(), kindForStatus(reqErr.HTTPStatusCode), err)
	}
	return newError(o.Kind(), Transient, err)
}
