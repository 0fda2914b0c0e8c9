package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kirillkom/prior-auth-rag/internal/core/domain"
)

// SeedManifest lists documents to load into a fresh environment. Each entry carries
// either a file (relative to the manifest) or inline text.
type SeedManifest struct {
	Documents []SeedDocument `yaml:"documents"`
}

type SeedDocument struct {
	File           string         `yaml:"file"`
	Text           string         `yaml:"text"`
	SourceFilename string         `yaml:"source_filename"`
	Metadata       map[string]any `yaml:"metadata"`
}

func LoadSeedManifest(path string) (*SeedManifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var manifest SeedManifest
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if len(manifest.Documents) == 0 {
		return nil, errors.New("manifest has no documents")
	}

	baseDir := filepath.Dir(path)
	for i := range manifest.Documents {
		doc := &manifest.Documents[i]
		hasFile := strings.TrimSpace(doc.File) != ""
		hasText := strings.TrimSpace(doc.Text) != ""
		if hasFile == hasText {
			return nil, fmt.Errorf("document %d: exactly one of file or text is required", i+1)
		}
		if hasFile && !filepath.IsAbs(doc.File) {
			doc.File = filepath.Join(baseDir, doc.File)
		}
		if hasText && strings.TrimSpace(doc.SourceFilename) == "" {
			return nil, fmt.Errorf("document %d: source_filename is required for inline text", i+1)
		}
	}
	return &manifest, nil
}

func (d SeedDocument) metadata() (domain.ChunkMetadata, error) {
	raw, err := json.Marshal(d.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return domain.UnmarshalMetadata(raw)
}

func (d SeedDocument) name() string {
	if d.File != "" {
		return filepath.Base(d.File)
	}
	return d.SourceFilename
}

func newSeedCmd(opts *globalOptions) *cobra.Command {
	var continueOnError bool

	cmd := &cobra.Command{
		Use:   "seed [manifest.yaml]",
		Short: "Load policy and clinical documents from a YAML manifest",
		Long: `Load every document listed in a YAML manifest.

Manifest format:
  documents:
    - file: policies/aetna-cpb-0004.pdf
      metadata: {type: policy, payer: Aetna, policy_id: CPB-0004, cpt_codes: ["95810"]}
    - source_filename: labs-p001.txt
      text: "HbA1c 6.8% (2024-02-01)"
      metadata: {type: clinical, patient_id: P-001, record_type: lab, date: "2024-02-01"}`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, err := LoadSeedManifest(args[0])
			if err != nil {
				return err
			}

			client := opts.client()
			var failed int
			for _, doc := range manifest.Documents {
				chunks, err := seedDocument(cmd.Context(), client, doc)
				if err != nil {
					failed++
					cmd.PrintErrf("FAIL %s: %v\n", doc.name(), err)
					if !continueOnError {
						return fmt.Errorf("seed %s: %w", doc.name(), err)
					}
					continue
				}
				cmd.Printf("ok   %s (%d chunks)\n", doc.name(), chunks)
			}

			cmd.Printf("Seeded %d of %d documents\n", len(manifest.Documents)-failed, len(manifest.Documents))
			if failed > 0 {
				return fmt.Errorf("%d documents failed", failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&continueOnError, "continue-on-error", false, "Keep going after a document fails")
	return cmd
}

func seedDocument(ctx context.Context, client *Client, doc SeedDocument) (int, error) {
	meta, err := doc.metadata()
	if err != nil {
		return 0, err
	}
	if doc.Text != "" {
		ids, err := client.IngestText(ctx, doc.Text, doc.SourceFilename, meta)
		return len(ids), err
	}

	file, err := os.Open(doc.File)
	if err != nil {
		return 0, fmt.Errorf("open: %w", err)
	}
	defer file.Close()
	result, err := client.UploadDocument(ctx, doc.File, mime.TypeByExtension(filepath.Ext(doc.File)), file, meta)
	if err != nil {
		return 0, err
	}
	return len(result.ChunkIDs), nil
}
