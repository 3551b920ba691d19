package extract

import "context"

// Request is one logical extraction request: the document text plus the
// schema-describing instructions.
type Request struct {
	Content      string
	Instructions string
}

// Fingerprint identifies the request for ledger lookup and replay.
func (r Request) Fingerprint() string {
	return Fingerprint(r.Content, r.Instructions)
}

// Response is the raw model output for one attempt.
type Response struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	Replayed         bool // true when served from the ledger, not the network
}

// Caller performs one model call. LiveCaller talks to the API; ReplayCaller
// serves prior invocations from the ledger. Selected at construction time.
type Caller interface {
	Call(ctx context.Context, req Request) (Response, error)
}
