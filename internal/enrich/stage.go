package enrich

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jobsift/jobsift/internal/model"
)

// similarRoleLimit bounds how many known roles are offered to the model as
// classification candidates.
const similarRoleLimit = 5

// Extractor issues one structured-extraction call. Retry lives behind this
// interface; the stage never retries on its own.
type Extractor interface {
	Extract(ctx context.Context, content, instructions string, out any) error
}

// Stage turns one listing's details into an enriched record: capability and
// group matches, an optional general-role link, and embeddings.
type Stage struct {
	extractor Extractor
	roles     model.RoleResolver
	similar   model.SimilarRoleFinder // optional
	embedder  model.Embedder          // optional
	logger    *slog.Logger

	// Slices keep the load order so rendered prompts are byte-stable; the
	// replay ledger keys on a fingerprint of the prompt text.
	capabilities []model.Capability
	groups       []model.TaxonomyGroup
	capsByName   map[string]model.Capability
	groupsByName map[string]model.TaxonomyGroup
}

// NewStage creates an enrichment stage. similar and embedder may be nil.
func NewStage(extractor Extractor, roles model.RoleResolver, similar model.SimilarRoleFinder, embedder model.Embedder, logger *slog.Logger) *Stage {
	return &Stage{
		extractor: extractor,
		roles:     roles,
		similar:   similar,
		embedder:  embedder,
		logger:    logger,
	}
}

// LoadTaxonomies installs the reference sets used to validate model output.
// Both must be non-empty before Enrich is called.
func (s *Stage) LoadTaxonomies(capabilities []model.Capability, groups []model.TaxonomyGroup) {
	s.capabilities = capabilities
	s.capsByName = make(map[string]model.Capability, len(capabilities))
	for _, c := range capabilities {
		s.capsByName[strings.ToLower(c.Name)] = c
	}
	s.groups = groups
	s.groupsByName = make(map[string]model.TaxonomyGroup, len(groups))
	for _, g := range groups {
		s.groupsByName[strings.ToLower(g.Name)] = g
	}
}

// rawAnalysis is the JSON shape returned by the model.
type rawAnalysis struct {
	Capabilities []struct {
		Name  string `json:"name"`
		Level int    `json:"level"`
	} `json:"capabilities"`
	Skills      []string `json:"skills"`
	Groups      []string `json:"groups"`
	GeneralRole *struct {
		ID          string `json:"id"`
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"general_role"`
	Summary string `json:"summary"`
}

// promptData feeds the role analysis template.
type promptData struct {
	Title        string
	Organization string
	Location     string
	Text         string
	Capabilities []model.Capability
	Groups       []model.TaxonomyGroup
	SimilarRoles []model.SimilarRole
}

// Enrich analyzes one listing. Extraction failures propagate as-is; names the
// model invents outside the controlled vocabularies are dropped, not errors.
func (s *Stage) Enrich(ctx context.Context, detail model.ListingDetail) (model.EnrichedRecord, error) {
	if len(s.capsByName) == 0 || len(s.groupsByName) == 0 {
		return model.EnrichedRecord{}, fmt.Errorf("enrich %s: taxonomies not loaded", detail.ID)
	}

	rec := model.EnrichedRecord{Detail: detail}

	// Embed the listing text first so similar-role lookup can use it.
	// A pre-computed embedding on the detail takes precedence.
	textEmbedding := detail.Embedding
	if textEmbedding == nil && s.embedder != nil {
		vectors, err := s.embedder.Embed(ctx, []string{detail.Text()})
		if err != nil {
			return rec, fmt.Errorf("embed listing %s: %w", detail.ID, err)
		}
		textEmbedding = vectors[0]
	}
	rec.TextEmbedding = textEmbedding

	var similarRoles []model.SimilarRole
	if s.similar != nil && textEmbedding != nil {
		var err error
		similarRoles, err = s.similar.FindSimilarCanonicalRoles(ctx, textEmbedding, similarRoleLimit)
		if err != nil {
			// Bias list is best-effort; classification works without it.
			s.logger.Warn("similar role lookup failed", "listing", detail.ID, "error", err)
		}
	}

	prompt, err := s.buildPrompt(detail, similarRoles)
	if err != nil {
		return rec, fmt.Errorf("render prompt for %s: %w", detail.ID, err)
	}

	var raw rawAnalysis
	if err := s.extractor.Extract(ctx, prompt, extractionInstructions, &raw); err != nil {
		return rec, fmt.Errorf("extract %s: %w", detail.ID, err)
	}

	analysis := s.mapAnalysis(detail.ID, raw)
	rec.Analysis = analysis

	roleID, err := s.resolveRole(ctx, analysis.GeneralRole)
	if err != nil {
		return rec, fmt.Errorf("resolve role for %s: %w", detail.ID, err)
	}
	rec.RoleID = roleID
	rec.Detail.RoleID = roleID

	if s.embedder != nil && len(analysis.Capabilities) > 0 {
		names := make([]string, len(analysis.Capabilities))
		for i, c := range analysis.Capabilities {
			names[i] = c.Name
		}
		vectors, err := s.embedder.Embed(ctx, names)
		if err != nil {
			return rec, fmt.Errorf("embed capabilities for %s: %w", detail.ID, err)
		}
		rec.CapabilityEmbeddings = make(map[string][]float32, len(vectors))
		for i, c := range analysis.Capabilities {
			rec.CapabilityEmbeddings[c.CapabilityID] = vectors[i]
		}
	}

	return rec, nil
}

func (s *Stage) buildPrompt(detail model.ListingDetail, similarRoles []model.SimilarRole) (string, error) {
	data := promptData{
		Title:        detail.Title,
		Organization: detail.Organization,
		Location:     detail.Location,
		Text:         detail.Text(),
		Capabilities: s.capabilities,
		Groups:       s.groups,
		SimilarRoles: similarRoles,
	}

	var buf bytes.Buffer
	if err := roleAnalysisTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// mapAnalysis maps by-name model output back onto caller-known IDs.
// Unknown names are dropped: the model may hallucinate outside the vocabulary.
func (s *Stage) mapAnalysis(listingID string, raw rawAnalysis) *model.RoleAnalysis {
	analysis := &model.RoleAnalysis{
		Skills:  raw.Skills,
		Summary: raw.Summary,
	}

	for _, rc := range raw.Capabilities {
		known, ok := s.capsByName[strings.ToLower(rc.Name)]
		if !ok {
			s.logger.Debug("dropping unknown capability", "listing", listingID, "name", rc.Name)
			continue
		}
		level := rc.Level
		if level == 0 {
			level = known.Level
		}
		analysis.Capabilities = append(analysis.Capabilities, model.CapabilityMatch{
			CapabilityID: known.ID,
			Name:         known.Name,
			Level:        level,
		})
	}

	for _, name := range raw.Groups {
		g, ok := s.groupsByName[strings.ToLower(name)]
		if !ok {
			s.logger.Debug("dropping unknown group", "listing", listingID, "name", name)
			continue
		}
		analysis.Groups = append(analysis.Groups, model.GroupMatch{GroupID: g.ID, Name: g.Name})
	}

	if raw.GeneralRole != nil && (raw.GeneralRole.Title != "" || raw.GeneralRole.ID != "") {
		analysis.GeneralRole = &model.RoleProposal{
			ID:          raw.GeneralRole.ID,
			Title:       raw.GeneralRole.Title,
			Description: raw.GeneralRole.Description,
		}
	}

	return analysis
}

// resolveRole links the proposal to a canonical role. A non-empty proposal ID
// links directly; otherwise the role is created (or found) by title.
func (s *Stage) resolveRole(ctx context.Context, proposal *model.RoleProposal) (string, error) {
	if proposal == nil {
		return "", nil
	}
	if proposal.ID != "" {
		return proposal.ID, nil
	}
	role, err := s.roles.GetOrCreateCanonicalRole(ctx, proposal.Title, proposal.Description)
	if err != nil {
		return "", err
	}
	return role.ID, nil
}
