package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// InvocationRecord is the logged request/response pair for one extraction
// model call. The ledger is the audit trail and doubles as a replay source.
type InvocationRecord struct {
	ID               string // ULID, sortable by creation time
	Fingerprint      string // sha256 over content+instructions
	Model            string
	Prompt           string
	Response         string
	Status           string // "ok" or "error"
	Error            string
	LatencyMS        int64
	PromptTokens     int
	CompletionTokens int
	CreatedAt        time.Time
}

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Ledger durably records every extraction attempt and looks up prior
// invocations by fingerprint for replay.
type Ledger interface {
	AppendInvocation(ctx context.Context, rec InvocationRecord) error
	// FindInvocation returns the most recent successful record for the
	// fingerprint, or nil when none exists.
	FindInvocation(ctx context.Context, fingerprint string) (*InvocationRecord, error)
}

// Fingerprint identifies a logical extraction request, independent of when it ran.
func Fingerprint(content, instructions string) string {
	h := sha256.New()
	h.Write([]byte(instructions))
	h.Write([]byte{0})
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}
