package content

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicGenerator is the bundled Generator adapter, carried from the
// pack's goa-ai/jordigilh-kubernaut stack since both already depend on
// anthropic-sdk-go for exactly this kind of provider call.
type AnthropicGenerator struct {
	client anthropic.Client
	model  anthropic.Model
}

func NewAnthropicGenerator(apiKey, model string) *AnthropicGenerator {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	m := anthropic.Model(model)
	if model == "" {
		m = anthropic.ModelClaude3_5SonnetLatest
	}
	return &AnthropicGenerator{client: client, model: m}
}

func (g *AnthropicGenerator) Generate(ctx context.Context, req Request) (Response, error) {
	prompt := buildPrompt(req)

	msg, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     g.model,
		MaxTokens: 512,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return Response{}, fmt.Errorf("anthropic generate: %w", err)
	}

	var body strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			body.WriteString(block.Text)
		}
	}

	resp := Response{Body: body.String()}
	if req.Channel == "email" {
		resp.Subject, resp.Body = splitSubject(resp.Body)
	}
	return resp, nil
}

func buildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a %s outreach message to %s about %s on behalf of %s.",
		req.Channel, req.LeadName, req.ProductName, req.CompanyName)
	if req.Strategy != "" {
		fmt.Fprintf(&b, " Use a %s follow-up tone.", req.Strategy)
	}
	if req.Channel == "email" {
		b.WriteString(" Respond with a subject line followed by a blank line then the body.")
	}
	return b.String()
}

// splitSubject pulls the first line off as the subject when the model
// followed the prompt's "subject, blank line, body" instruction.
func splitSubject(text string) (subject, body string) {
	parts := strings.SplitN(text, "\n\n", 2)
	if len(parts) == 2 {
		return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	}
	return "", text
}
