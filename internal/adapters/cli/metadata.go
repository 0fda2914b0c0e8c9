package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kirillkom/prior-auth-rag/internal/core/domain"
)

type metadataFlags struct {
	kind          string
	patientID     string
	recordType    string
	date          string
	payer         string
	policyID      string
	cptCodes      []string
	sectionHeader string
}

func (f *metadataFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.kind, "type", "", "Document kind: clinical or policy")
	cmd.Flags().StringVar(&f.patientID, "patient-id", "", "Clinical: patient identifier")
	cmd.Flags().StringVar(&f.recordType, "record-type", "", "Clinical: lab, note, imaging, ...")
	cmd.Flags().StringVar(&f.date, "date", "", "Clinical: record date")
	cmd.Flags().StringVar(&f.payer, "payer", "", "Policy: payer name")
	cmd.Flags().StringVar(&f.policyID, "policy-id", "", "Policy: payer policy identifier")
	cmd.Flags().StringSliceVar(&f.cptCodes, "cpt-codes", nil, "Policy: comma separated CPT codes")
	cmd.Flags().StringVar(&f.sectionHeader, "section-header", "", "Policy: section heading")
	_ = cmd.MarkFlagRequired("type")
}

func (f *metadataFlags) metadata() (domain.ChunkMetadata, error) {
	switch domain.MetadataType(f.kind) {
	case domain.MetadataClinical:
		return &domain.ClinicalMetadata{
			PatientID:  f.patientID,
			RecordType: f.recordType,
			Date:       f.date,
		}, nil
	case domain.MetadataPolicy:
		codes := f.cptCodes
		if codes == nil {
			codes = []string{}
		}
		return &domain.PolicyMetadata{
			Payer:         f.payer,
			PolicyID:      f.policyID,
			CPTCodes:      codes,
			SectionHeader: f.sectionHeader,
		}, nil
	default:
		return nil, fmt.Errorf("--type must be clinical or policy, got %q", f.kind)
	}
}
