package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/inaiurai/metagen/internal/models"
)

// Gemini calls generateContent with a JSON response MIME type.
type Gemini struct {
	settings Settings
}

func NewGemini(s Settings) *Gemini {
	if s.TextModel == "" {
		s.TextModel = "gemini-1.5-flash"
	}
	if s.VisionModel == "" {
		s.VisionModel = "gemini-2.0-flash-001"
	}
	return &Gemini{settings: s}
}

func (g *Gemini) Kind() string   { return models.ProviderGemini }
func (g *Gemini) Policy() Policy { return g.settings.Policy }

func (g *Gemini) GenerateFromText(ctx context.Context, credential, prompt, subject string) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", newError(g.Kind(), Malformed, errEmptyInput)
	}
	text := fmt.Sprintf("%s. "+textInstruction, prompt, subject)
	return g.generate(ctx, credential, g.settings.TextModel, genai.Text(text))
}

func (g *Gemini) GenerateFromImage(ctx context.Context, credential, prompt string, image []byte) (string, error) {
	if len(image) == 0 {
		return "", newError(g.Kind(), Malformed, errEmptyInput)
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(image, imageMIME(image)),
			genai.NewPartFromText(prompt + ". " + imageInstruction),
		}, genai.RoleUser),
	}
	return g.generate(ctx, credential, g.settings.VisionModel, contents)
}

func (g *Gemini) generate(ctx context.Context, credential, model string, contents []*genai.Content) (string, error) {
	ctx, cancel := withTimeout(ctx, g.settings.Timeout)
	defer cancel()

	cfg := &genai.ClientConfig{APIKey: credential, Backend: genai.BackendGeminiAPI}
	if g.settings.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: g.settings.BaseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return "", newError(g.Kind(), InvalidCredential, err)
	}

	resp, err := client.Models.GenerateContent(ctx, model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return "", g.classify(err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", newError(g.Kind(), Malformed, errors.New("empty response from Gemini"))
	}
	return text, nil
}

func (g *Gemini) classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code != 0 {
		return newError(g.Kind(), kindForStatus(apiErr.Code), err)
	}
	return newError(g.Kind(), Transient, err)
}
