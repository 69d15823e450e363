// Package provider adapts external metadata-generation services. Adapters
// return the provider's raw text; interpreting it is the normalizer's job.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Policy tells the orchestrator how hard a provider may be driven.
type Policy struct {
	// MaxConcurrency of 1 (or less) means files are processed strictly one at a time.
	MaxConcurrency int
	// MinInterRequestDelay spaces consecutive calls; zero disables spacing.
	MinInterRequestDelay time.Duration
}

// Sequential reports whether calls must not overlap.
func (p Policy) Sequential() bool { return p.MaxConcurrency <= 1 }

type Adapter interface {
	Kind() string
	Policy() Policy
	GenerateFromText(ctx context.Context, credential, prompt, subject string) (string, error)
	GenerateFromImage(ctx context.Context, credential, prompt string, image []byte) (string, error)
}

// Settings is the per-provider configuration shared by all adapters.
type Settings struct {
	BaseURL     string
	TextModel   string
	VisionModel string
	Policy      Policy
	Timeout     time.Duration
}

const (
	chatTextInstruction = "Get metadata for %s"
	textInstruction     = "Generate metadata for %s"
	imageInstruction    = "Analyse this image and generate required metadata"
)

var errEmptyInput = errors.New("neither subject nor image given")

// Registry resolves adapters by provider kind.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Kind()] = a
	}
	return r
}

func (r *Registry) Get(kind string) (Adapter, error) {
	a, ok := r.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("no provider adapter for %q", kind)
	}
	return a, nil
}

// imageMIME sniffs the payload type; providers only accept image types.
func imageMIME(image []byte) string {
	mime := http.DetectContentType(image)
	switch mime {
	case "image/png", "image/gif", "image/webp", "image/jpeg":
		return mime
	default:
		return "image/jpeg"
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
