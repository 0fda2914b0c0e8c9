package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type MetadataType string

const (
	MetadataClinical MetadataType = "clinical"
	MetadataPolicy   MetadataType = "policy"
)

// ChunkMetadata is the closed set of chunk metadata variants: *ClinicalMetadata or *PolicyMetadata.
type ChunkMetadata interface {
	Type() MetadataType
	Validate() error
	isChunkMetadata()
}

type ClinicalMetadata struct {
	PatientID      string `json:"patient_id"`
	RecordType     string `json:"record_type"`
	Date           string `json:"date"`
	SourceFilename string `json:"source_filename"`
}

func (*ClinicalMetadata) Type() MetadataType { return MetadataClinical }
func (*ClinicalMetadata) isChunkMetadata()   {}

func (m *ClinicalMetadata) Validate() error {
	if strings.TrimSpace(m.PatientID) == "" {
		return WrapError(ErrInvalidInput, "clinical metadata", errors.New("patient_id is required"))
	}
	return nil
}

type PolicyMetadata struct {
	Payer         string   `json:"payer"`
	PolicyID      string   `json:"policy_id"`
	CPTCodes      []string `json:"cpt_codes"`
	SectionHeader string   `json:"section_header"`
}

func (*PolicyMetadata) Type() MetadataType { return MetadataPolicy }
func (*PolicyMetadata) isChunkMetadata()   {}

func (m *PolicyMetadata) Validate() error {
	if strings.TrimSpace(m.Payer) == "" {
		return WrapError(ErrInvalidInput, "policy metadata", errors.New("payer is required"))
	}
	return nil
}

// MarshalMetadata encodes a metadata variant as a flat JSON object carrying a "type" discriminant.
func MarshalMetadata(meta ChunkMetadata) ([]byte, error) {
	if meta == nil {
		return nil, WrapError(ErrInvalidInput, "marshal metadata", errors.New("metadata is nil"))
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal %s metadata: %w", meta.Type(), err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("flatten %s metadata: %w", meta.Type(), err)
	}
	fields["type"] = string(meta.Type())
	return json.Marshal(fields)
}

// UnmarshalMetadata decodes stored metadata and rejects a missing or unknown discriminant.
func UnmarshalMetadata(raw []byte) (ChunkMetadata, error) {
	var head struct {
		Type MetadataType `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, WrapError(ErrInvalidInput, "unmarshal metadata", err)
	}

	var meta ChunkMetadata
	switch head.Type {
	case MetadataClinical:
		meta = &ClinicalMetadata{}
	case MetadataPolicy:
		meta = &PolicyMetadata{}
	case "":
		return nil, WrapError(ErrInvalidInput, "unmarshal metadata", errors.New("missing metadata type"))
	default:
		return nil, WrapError(ErrInvalidInput, "unmarshal metadata", fmt.Errorf("unknown metadata type %q", head.Type))
	}
	if err := json.Unmarshal(raw, meta); err != nil {
		return nil, WrapError(ErrInvalidInput, "unmarshal metadata", err)
	}
	return meta, nil
}

type DocumentChunk struct {
	ID             string        `json:"id"`
	Content        string        `json:"content"`
	Embedding      []float32     `json:"-"`
	Metadata       ChunkMetadata `json:"metadata"`
	SourceFilename string        `json:"source_filename"`
	ChunkIndex     int           `json:"chunk_index"`
}

type ScoredChunk struct {
	DocumentChunk
	Similarity float64 `json:"similarity"`
}

// MetadataFilter is a conjunction of exact-match predicates; empty fields are ignored.
type MetadataFilter struct {
	Type       MetadataType
	Payer      string
	PatientID  string
	PolicyID   string
	RecordType string
}

// Fields returns the non-empty predicates keyed by their stored metadata field name.
func (f MetadataFilter) Fields() map[string]string {
	out := make(map[string]string, 5)
	if f.Type != "" {
		out["type"] = string(f.Type)
	}
	if f.Payer != "" {
		out["payer"] = f.Payer
	}
	if f.PatientID != "" {
		out["patient_id"] = f.PatientID
	}
	if f.PolicyID != "" {
		out["policy_id"] = f.PolicyID
	}
	if f.RecordType != "" {
		out["record_type"] = f.RecordType
	}
	return out
}

// Matches reports whether the metadata satisfies every predicate of the filter.
func (f MetadataFilter) Matches(meta ChunkMetadata) bool {
	if meta == nil {
		return false
	}
	if f.Type != "" && meta.Type() != f.Type {
		return false
	}
	switch m := meta.(type) {
	case *ClinicalMetadata:
		return f.Payer == "" && f.PolicyID == "" &&
			(f.PatientID == "" || f.PatientID == m.PatientID) &&
			(f.RecordType == "" || f.RecordType == m.RecordType)
	case *PolicyMetadata:
		return f.PatientID == "" && f.RecordType == "" &&
			(f.Payer == "" || f.Payer == m.Payer) &&
			(f.PolicyID == "" || f.PolicyID == m.PolicyID)
	default:
		return false
	}
}

// ChunkConfig is a chunker window expressed in approximate tokens.
type ChunkConfig struct {
	MaxTokens     int `json:"max_tokens"`
	OverlapTokens int `json:"overlap_tokens"`
}

var (
	ClinicalChunkConfig = ChunkConfig{MaxTokens: 256, OverlapTokens: 32}
	PolicyChunkConfig   = ChunkConfig{MaxTokens: 512, OverlapTokens: 64}
)

// DefaultChunkConfig returns the window used for a metadata variant.
func DefaultChunkConfig(meta ChunkMetadata) ChunkConfig {
	if meta != nil && meta.Type() == MetadataPolicy {
		return PolicyChunkConfig
	}
	return ClinicalChunkConfig
}
