package vision

import (
	"context"

	"github.com/mj1618/portal-pilot/internal/capture"
	"github.com/mj1618/portal-pilot/internal/model"
)

// Perceiver captures the screen and parses it in one step.
type Perceiver struct {
	sampler *capture.Sampler
	parser  *Parser
}

// NewPerceiver pairs a sampler with a parser.
func NewPerceiver(s *capture.Sampler, p *Parser) *Perceiver {
	return &Perceiver{sampler: s, parser: p}
}

// Perceive captures with opts and returns the parsed screen together with
// the frame it was parsed from.
func (p *Perceiver) Perceive(ctx context.Context, opts capture.Options) (*model.ParsedScreen, capture.Frame, error) {
	f, err := p.sampler.Capture(ctx, opts)
	if err != nil {
		return nil, capture.Frame{}, err
	}
	screen, err := p.parser.ParseFrame(ctx, f)
	if err != nil {
		return nil, f, err
	}
	return screen, f, nil
}
