package model

// Capability is one entry in the capability taxonomy loaded before a run.
type Capability struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Level       int    `yaml:"level"`
	Description string `yaml:"description"`
}

// TaxonomyGroup is one named group in the classification taxonomy.
type TaxonomyGroup struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// CanonicalRole is a deduplicated role classification that multiple raw
// listings may resolve to.
type CanonicalRole struct {
	ID          string
	Title       string
	Description string
	Embedding   []float32
}

// SimilarRole is a canonical role ranked by similarity to a listing embedding.
type SimilarRole struct {
	ID          string
	Name        string
	Description string
	Similarity  float64
}
