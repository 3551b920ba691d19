package model

import (
	"context"
	"time"
)

// ListingReference is the minimal identity needed to fetch a full listing.
// Produced by an AcquisitionSource and consumed once per pipeline run.
type ListingReference struct {
	ID     string // unique per source
	Title  string
	URL    string // detail page link
	Source string // source name, e.g. board slug
}

// ListingDetail is the full scraped record for one listing.
// Read-only once produced by the acquisition source.
type ListingDetail struct {
	ID               string
	Title            string
	Organization     string
	Location         string
	URL              string
	Source           string
	Description      string
	Responsibilities string
	Requirements     string
	Notes            string
	PostedAt         *time.Time // nullable (not all sources provide this)
	Embedding        []float32  // optional pre-computed text embedding
	RoleID           string     // optional link to a canonical role
}

// Text joins the free-text sections into one block for prompting and embedding.
func (d ListingDetail) Text() string {
	out := d.Description
	for _, s := range []string{d.Responsibilities, d.Requirements, d.Notes} {
		if s == "" {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		out += s
	}
	return out
}

// PlaceholderDetail builds an empty detail for a reference whose fetch failed,
// so downstream batch counts stay consistent.
func PlaceholderDetail(ref ListingReference) ListingDetail {
	return ListingDetail{
		ID:     ref.ID,
		Title:  ref.Title,
		URL:    ref.URL,
		Source: ref.Source,
	}
}

// CapabilityMatch is one extracted capability mapped onto the loaded taxonomy.
type CapabilityMatch struct {
	CapabilityID string
	Name         string
	Level        int
}

// GroupMatch is one extracted classification tag mapped onto the loaded taxonomy.
type GroupMatch struct {
	GroupID string
	Name    string
}

// RoleProposal is the model's general-role classification for a listing.
// An empty ID means the model proposed a role not among the known canon.
type RoleProposal struct {
	ID          string
	Title       string
	Description string
}

// RoleAnalysis is the structured output of the enrichment stage for one listing.
type RoleAnalysis struct {
	Capabilities []CapabilityMatch
	Skills       []string
	Groups       []GroupMatch
	GeneralRole  *RoleProposal
	Summary      string
}

// EnrichedRecord is a ListingDetail plus its analysis and embeddings.
// Immutable once produced; consumed by the persistence sink.
// Analysis is nil on scrape-only runs.
type EnrichedRecord struct {
	Detail               ListingDetail
	Analysis             *RoleAnalysis
	RoleID               string // resolved canonical role, empty if none
	TextEmbedding        []float32
	CapabilityEmbeddings map[string][]float32 // keyed by capability ID
}

// DateRange bounds listing selection by posting date. Zero values mean unbounded.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// SourceFilters narrows which references an acquisition source yields.
type SourceFilters struct {
	DateRange     *DateRange
	Organizations []string
	Locations     []string
}

// AcquisitionSource yields listing references and expands them into full details.
// limit <= 0 means unlimited.
type AcquisitionSource interface {
	ListReferences(ctx context.Context, limit int, filters SourceFilters) ([]ListingReference, error)
	FetchDetail(ctx context.Context, ref ListingReference) (ListingDetail, error)
}

// BatchSink commits a batch of enriched records to staged storage.
type BatchSink interface {
	StoreBatch(ctx context.Context, records []EnrichedRecord) error
}

// LiveMigrator promotes already-staged records to the live store.
type LiveMigrator interface {
	MigrateBatchToLive(ctx context.Context, records []EnrichedRecord) error
}

// RoleResolver resolves a role title to a canonical role, creating it if needed.
type RoleResolver interface {
	GetOrCreateCanonicalRole(ctx context.Context, title, description string) (CanonicalRole, error)
}

// SimilarRoleFinder ranks known canonical roles by similarity to an embedding.
type SimilarRoleFinder interface {
	FindSimilarCanonicalRoles(ctx context.Context, embedding []float32, limit int) ([]SimilarRole, error)
}

// Embedder turns texts into embedding vectors, one per input.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
