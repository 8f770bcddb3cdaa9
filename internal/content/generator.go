// Package content defines the pluggable AI content-generation contract
// and bundles one adapter. Generation internals are explicitly out of
// scope (spec.md §1 Non-goals): the Generator interface is the entire
// contract this module owns, mirroring listmonk's TemplateFuncs
// pass-through of opaque strategy data to the render layer
// (internal/manager/tenant_instance.go) without this module caring what
// the strings mean.
package content

import "context"

// Request carries everything a Generator needs to produce one message
// body. Strategy is the opaque reminder-cadence tag (gentle, value-add,
// social-proof, ...); empty for an initial-stage send.
type Request struct {
	Channel    string
	Strategy   string
	LeadName   string
	ProductName string
	CompanyName string
	Context    map[string]any // arbitrary enrichment data, passed through untouched
}

// Response is one generated message.
type Response struct {
	Subject string // email only; empty for call/linkedin
	Body    string
}

// Generator produces outbound message content. Swappable: the bundled
// Anthropic adapter is one implementation among any number a deployment
// might plug in.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
}
