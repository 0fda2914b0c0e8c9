package cli

import (
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newIngestCmd(opts *globalOptions) *cobra.Command {
	var meta metadataFlags

	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Upload a policy or clinical document",
		Long: `Upload a document to the API, which stores the original, extracts its text and
indexes the chunks for retrieval.

Examples:
  pactl ingest cpb-0004.pdf --type policy --payer Aetna --policy-id CPB-0004 --cpt-codes 95810,95811
  pactl ingest labs.txt --type clinical --patient-id P-001 --record-type lab --date 2024-02-01`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			metadata, err := meta.metadata()
			if err != nil {
				return err
			}

			path := args[0]
			file, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open %s: %w", path, err)
			}
			defer file.Close()

			result, err := opts.client().UploadDocument(cmd.Context(), path, mime.TypeByExtension(filepath.Ext(path)), file, metadata)
			if err != nil {
				return fmt.Errorf("upload %s: %w", path, err)
			}

			if opts.json {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(result)
			}
			cmd.Printf("Uploaded %s as %s (%d chunks)\n", filepath.Base(path), result.StorageKey, len(result.ChunkIDs))
			return nil
		},
	}
	meta.register(cmd)
	return cmd
}
