package enrich

import (
	_ "embed"
	"text/template"
)

//go:embed prompts/role_analysis.md
var roleAnalysisPromptRaw string

// roleAnalysisTemplate is the parsed prompt template for listing analysis.
// Parsed once at package init; reused on every Enrich call.
var roleAnalysisTemplate = template.Must(template.New("role_analysis").Parse(roleAnalysisPromptRaw))

// extractionInstructions is the system message describing the response shape.
// The model must answer with a single JSON object matching rawAnalysis.
const extractionInstructions = `You are a precise structured data extractor for job listings.
Respond with a single JSON object of this shape and nothing else:
{
  "capabilities": [{"name": "...", "level": 1}],
  "skills": ["..."],
  "groups": ["..."],
  "general_role": {"id": "", "title": "...", "description": "..."},
  "summary": "..."
}
Capability and group names must come from the controlled vocabularies in the
prompt. For general_role, set "id" only when matching a listed known role.`
