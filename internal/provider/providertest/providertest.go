// Package providertest provides a scripted provider.Provider for tests.
package providertest

import (
	"context"
	"iter"
	"slices"
	"sync"

	"github.com/rcliao/persona-proxy/internal/provider"
)

// Provider replays a fixed script. Text is returned by Generate and Chunks
// are yielded by Stream. StreamErr, if set, is yielded after the chunks.
type Provider struct {
	Text      string
	Err       error
	Chunks    []string
	StreamErr error
	Catalog   []string

	mu       sync.Mutex
	requests []provider.Request
	pulled   int
}

var _ provider.Provider = (*Provider)(nil)

func (p *Provider) Name() string { return "scripted" }

func (p *Provider) Generate(ctx context.Context, req provider.Request) (string, error) {
	p.record(req)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p.Text, p.Err
}

func (p *Provider) Stream(ctx context.Context, req provider.Request) iter.Seq2[string, error] {
	p.record(req)
	return func(yield func(string, error) bool) {
		if p.Err != nil {
			yield("", p.Err)
			return
		}
		for _, c := range p.Chunks {
			if ctx.Err() != nil {
				return
			}
			p.mu.Lock()
			p.pulled++
			p.mu.Unlock()
			if !yield(c, nil) {
				return
			}
		}
		if p.StreamErr != nil {
			yield("", p.StreamErr)
		}
	}
}

func (p *Provider) Models() []string {
	if len(p.Catalog) == 0 {
		return []string{"test-model"}
	}
	return slices.Clone(p.Catalog)
}

func (p *Provider) ValidateModel(name string) bool {
	return slices.Contains(p.Models(), name)
}

// Requests returns every request received so far.
func (p *Provider) Requests() []provider.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.requests)
}

// Pulled reports how many chunks Stream has yielded.
func (p *Provider) Pulled() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pulled
}

func (p *Provider) record(req provider.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
}
