package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/jobsift/jobsift/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubExtractor returns a canned JSON response and captures the prompt.
type stubExtractor struct {
	response    string
	err         error
	lastContent string
	calls       int
}

func (e *stubExtractor) Extract(_ context.Context, content, _ string, out any) error {
	e.calls++
	e.lastContent = content
	if e.err != nil {
		return e.err
	}
	return json.Unmarshal([]byte(e.response), out)
}

type fakeRoles struct {
	created []string
	nextID  string
}

func (r *fakeRoles) GetOrCreateCanonicalRole(_ context.Context, title, description string) (model.CanonicalRole, error) {
	r.created = append(r.created, title)
	return model.CanonicalRole{ID: r.nextID, Title: title, Description: description}, nil
}

type fakeSimilar struct {
	roles []model.SimilarRole
	err   error
	calls int
}

func (f *fakeSimilar) FindSimilarCanonicalRoles(_ context.Context, _ []float32, limit int) ([]model.SimilarRole, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.roles) > limit {
		return f.roles[:limit], nil
	}
	return f.roles, nil
}

type fakeEmbedder struct {
	calls [][]string
}

func (e *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls = append(e.calls, texts)
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{float32(len(texts[i])), 1}
	}
	return vectors, nil
}

func testTaxonomies() ([]model.Capability, []model.TaxonomyGroup) {
	caps := []model.Capability{
		{ID: "cap-go", Name: "Go Development", Level: 2},
		{ID: "cap-sql", Name: "SQL", Level: 1},
	}
	groups := []model.TaxonomyGroup{
		{ID: "grp-backend", Name: "Backend"},
		{ID: "grp-data", Name: "Data"},
	}
	return caps, groups
}

func testDetail() model.ListingDetail {
	return model.ListingDetail{
		ID:           "l1",
		Title:        "Backend Engineer",
		Organization: "Acme",
		Location:     "Remote",
		Description:  "Build services in Go against a SQL store.",
	}
}

func newTestStage(extractor Extractor, roles model.RoleResolver, similar model.SimilarRoleFinder, embedder model.Embedder) *Stage {
	s := NewStage(extractor, roles, similar, embedder, discardLogger())
	caps, groups := testTaxonomies()
	s.LoadTaxonomies(caps, groups)
	return s
}

func TestEnrich_RequiresLoadedTaxonomies(t *testing.T) {
	s := NewStage(&stubExtractor{}, &fakeRoles{}, nil, nil, discardLogger())
	if _, err := s.Enrich(context.Background(), testDetail()); err == nil {
		t.Fatal("expected error when taxonomies are not loaded")
	}
}

func TestEnrich_DropsUnknownNames(t *testing.T) {
	extractor := &stubExtractor{response: `{
		"capabilities": [
			{"name": "Go Development", "level": 3},
			{"name": "Quantum Telepathy", "level": 5}
		],
		"skills": ["grpc"],
		"groups": ["Backend", "Astrology"],
		"summary": "backend role"
	}`}
	s := newTestStage(extractor, &fakeRoles{}, nil, nil)

	rec, err := s.Enrich(context.Background(), testDetail())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(rec.Analysis.Capabilities) != 1 {
		t.Fatalf("expected 1 capability after dropping unknowns, got %d", len(rec.Analysis.Capabilities))
	}
	got := rec.Analysis.Capabilities[0]
	if got.CapabilityID != "cap-go" || got.Level != 3 {
		t.Errorf("unexpected capability match: %+v", got)
	}
	if len(rec.Analysis.Groups) != 1 || rec.Analysis.Groups[0].GroupID != "grp-backend" {
		t.Errorf("expected only the known group, got %+v", rec.Analysis.Groups)
	}
}

func TestEnrich_MatchesNamesCaseInsensitively(t *testing.T) {
	extractor := &stubExtractor{response: `{
		"capabilities": [{"name": "go development"}],
		"groups": ["BACKEND"],
		"summary": "s"
	}`}
	s := newTestStage(extractor, &fakeRoles{}, nil, nil)

	rec, err := s.Enrich(context.Background(), testDetail())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.Analysis.Capabilities) != 1 || rec.Analysis.Capabilities[0].CapabilityID != "cap-go" {
		t.Errorf("case-insensitive capability match failed: %+v", rec.Analysis.Capabilities)
	}
	// Level omitted by the model falls back to the taxonomy default.
	if rec.Analysis.Capabilities[0].Level != 2 {
		t.Errorf("expected default level 2, got %d", rec.Analysis.Capabilities[0].Level)
	}
	if len(rec.Analysis.Groups) != 1 {
		t.Errorf("case-insensitive group match failed: %+v", rec.Analysis.Groups)
	}
}

func TestEnrich_LinksExistingRoleWithoutCreate(t *testing.T) {
	extractor := &stubExtractor{response: `{
		"general_role": {"id": "role-existing", "title": "Backend Engineer"},
		"summary": "s"
	}`}
	roles := &fakeRoles{nextID: "role-new"}
	s := newTestStage(extractor, roles, nil, nil)

	rec, err := s.Enrich(context.Background(), testDetail())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.RoleID != "role-existing" || rec.Detail.RoleID != "role-existing" {
		t.Errorf("expected direct link to role-existing, got %q/%q", rec.RoleID, rec.Detail.RoleID)
	}
	if len(roles.created) != 0 {
		t.Errorf("expected no role creation, got %v", roles.created)
	}
}

func TestEnrich_CreatesRoleForNewProposal(t *testing.T) {
	extractor := &stubExtractor{response: `{
		"general_role": {"id": "", "title": "Platform Engineer", "description": "runs the platform"},
		"summary": "s"
	}`}
	roles := &fakeRoles{nextID: "role-1"}
	s := newTestStage(extractor, roles, nil, nil)

	rec, err := s.Enrich(context.Background(), testDetail())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.RoleID != "role-1" {
		t.Errorf("expected created role ID, got %q", rec.RoleID)
	}
	if len(roles.created) != 1 || roles.created[0] != "Platform Engineer" {
		t.Errorf("expected one create for Platform Engineer, got %v", roles.created)
	}
}

func TestEnrich_NoProposalLeavesRoleUnset(t *testing.T) {
	extractor := &stubExtractor{response: `{"summary": "s"}`}
	roles := &fakeRoles{nextID: "role-1"}
	s := newTestStage(extractor, roles, nil, nil)

	rec, err := s.Enrich(context.Background(), testDetail())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.RoleID != "" {
		t.Errorf("expected no role link, got %q", rec.RoleID)
	}
	if len(roles.created) != 0 {
		t.Errorf("expected no role creation, got %v", roles.created)
	}
}

func TestEnrich_EmbedsTextAndCapabilities(t *testing.T) {
	extractor := &stubExtractor{response: `{
		"capabilities": [{"name": "Go Development"}, {"name": "SQL"}],
		"summary": "s"
	}`}
	embedder := &fakeEmbedder{}
	s := newTestStage(extractor, &fakeRoles{}, nil, embedder)

	rec, err := s.Enrich(context.Background(), testDetail())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.TextEmbedding == nil {
		t.Error("expected a text embedding")
	}
	if len(rec.CapabilityEmbeddings) != 2 {
		t.Fatalf("expected 2 capability embeddings, got %d", len(rec.CapabilityEmbeddings))
	}
	// Keyed by taxonomy ID, not by the model's names.
	for _, id := range []string{"cap-go", "cap-sql"} {
		if _, ok := rec.CapabilityEmbeddings[id]; !ok {
			t.Errorf("missing capability embedding for %s", id)
		}
	}
	// One call for the listing text, one for the capability names.
	if len(embedder.calls) != 2 {
		t.Errorf("expected 2 embed calls, got %d", len(embedder.calls))
	}
}

func TestEnrich_PrecomputedEmbeddingSkipsTextEmbed(t *testing.T) {
	extractor := &stubExtractor{response: `{"summary": "s"}`}
	embedder := &fakeEmbedder{}
	s := newTestStage(extractor, &fakeRoles{}, nil, embedder)

	detail := testDetail()
	detail.Embedding = []float32{0.5, 0.5}
	rec, err := s.Enrich(context.Background(), detail)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.TextEmbedding) != 2 || rec.TextEmbedding[0] != 0.5 {
		t.Errorf("expected the precomputed embedding, got %v", rec.TextEmbedding)
	}
	if len(embedder.calls) != 0 {
		t.Errorf("expected no embed calls, got %d", len(embedder.calls))
	}
}

func TestEnrich_SimilarRolesFeedThePrompt(t *testing.T) {
	extractor := &stubExtractor{response: `{"summary": "s"}`}
	similar := &fakeSimilar{roles: []model.SimilarRole{
		{ID: "role-be", Name: "Backend Engineer", Similarity: 0.91},
	}}
	s := newTestStage(extractor, &fakeRoles{}, similar, &fakeEmbedder{})

	if _, err := s.Enrich(context.Background(), testDetail()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if similar.calls != 1 {
		t.Fatalf("expected one similar-role lookup, got %d", similar.calls)
	}
	if !strings.Contains(extractor.lastContent, "Backend Engineer") ||
		!strings.Contains(extractor.lastContent, "role-be") {
		t.Error("expected similar roles to appear in the rendered prompt")
	}
}

func TestEnrich_PromptStableAcrossCalls(t *testing.T) {
	// Replay serves prior responses keyed on a hash of the prompt text, so
	// enriching the same listing twice must render byte-identical prompts.
	extractor := &stubExtractor{response: `{"summary": "s"}`}
	s := newTestStage(extractor, &fakeRoles{}, nil, nil)

	if _, err := s.Enrich(context.Background(), testDetail()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first := extractor.lastContent

	for i := 0; i < 10; i++ {
		if _, err := s.Enrich(context.Background(), testDetail()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if extractor.lastContent != first {
			t.Fatalf("prompt differs between identical enrichments (call %d)", i+2)
		}
	}

	// Both vocabularies render in load order.
	goIdx := strings.Index(first, "Go Development")
	sqlIdx := strings.Index(first, "- SQL")
	if goIdx < 0 || sqlIdx < 0 || goIdx > sqlIdx {
		t.Errorf("capabilities not rendered in load order: go=%d sql=%d", goIdx, sqlIdx)
	}
	backendIdx := strings.Index(first, "Backend:")
	dataIdx := strings.Index(first, "Data:")
	if backendIdx < 0 || dataIdx < 0 || backendIdx > dataIdx {
		t.Errorf("groups not rendered in load order: backend=%d data=%d", backendIdx, dataIdx)
	}
}

func TestEnrich_SimilarRoleLookupFailureIsNotFatal(t *testing.T) {
	extractor := &stubExtractor{response: `{"summary": "s"}`}
	similar := &fakeSimilar{err: errors.New("index offline")}
	s := newTestStage(extractor, &fakeRoles{}, similar, &fakeEmbedder{})

	rec, err := s.Enrich(context.Background(), testDetail())
	if err != nil {
		t.Fatalf("expected lookup failure to be tolerated, got %v", err)
	}
	if rec.Analysis == nil {
		t.Error("expected analysis despite similar-role failure")
	}
}

func TestEnrich_ExtractionFailurePropagates(t *testing.T) {
	boom := errors.New("model unavailable")
	extractor := &stubExtractor{err: boom}
	s := newTestStage(extractor, &fakeRoles{}, nil, nil)

	_, err := s.Enrich(context.Background(), testDetail())
	if !errors.Is(err, boom) {
		t.Fatalf("expected extraction error to propagate, got %v", err)
	}
}
