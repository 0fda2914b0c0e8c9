// Package mcpadapter exposes evaluation and ingestion as MCP tools for agent clients.
package mcpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/prior-auth-rag/internal/core/domain"
	"github.com/kirillkom/prior-auth-rag/internal/core/ports"
)

type Server struct {
	evaluations ports.EvaluationService
	ingestor    ports.DocumentIngestor
	mcp         *server.MCPServer
}

func New(version string, evaluations ports.EvaluationService, ingestor ports.DocumentIngestor) *Server {
	s := &Server{
		evaluations: evaluations,
		ingestor:    ingestor,
		mcp:         server.NewMCPServer("prior-auth-rag", version, server.WithToolCapabilities(false)),
	}

	s.mcp.AddTool(mcp.NewTool("trigger_evaluation",
		mcp.WithDescription("Start a prior-authorization evaluation for a patient, CPT code and payer. Returns the request id; poll get_evaluation for the result."),
		mcp.WithString("patient_id", mcp.Required(), mcp.Description("Patient identifier")),
		mcp.WithString("cpt_code", mcp.Required(), mcp.Description("Five character CPT procedure code")),
		mcp.WithString("payer", mcp.Required(), mcp.Description("Insurance payer name, e.g. Aetna")),
	), s.triggerEvaluation)

	s.mcp.AddTool(mcp.NewTool("get_evaluation",
		mcp.WithDescription("Fetch the status of an evaluation and, once complete, its determination."),
		mcp.WithString("request_id", mcp.Required(), mcp.Description("Id returned by trigger_evaluation")),
	), s.getEvaluation)

	s.mcp.AddTool(mcp.NewTool("ingest_text",
		mcp.WithDescription("Chunk, embed and store a clinical note or policy excerpt."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Document text")),
		mcp.WithString("source_filename", mcp.Required(), mcp.Description("Name the chunks are attributed to")),
		mcp.WithString("type", mcp.Required(), mcp.Enum("clinical", "policy"), mcp.Description("Document kind")),
		mcp.WithString("patient_id", mcp.Description("Clinical documents: patient identifier")),
		mcp.WithString("record_type", mcp.Description("Clinical documents: lab, note, imaging, ...")),
		mcp.WithString("date", mcp.Description("Clinical documents: record date")),
		mcp.WithString("payer", mcp.Description("Policy documents: payer name")),
		mcp.WithString("policy_id", mcp.Description("Policy documents: payer policy identifier")),
		mcp.WithArray("cpt_codes", mcp.WithStringItems(), mcp.Description("Policy documents: CPT codes covered")),
		mcp.WithString("section_header", mcp.Description("Policy documents: section heading")),
	), s.ingestText)

	return s
}

// ServeStdio blocks serving JSON-RPC over stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) triggerEvaluation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	patientID, err := req.RequireString("patient_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	cptCode, err := req.RequireString("cpt_code")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	payer, err := req.RequireString("payer")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	id, err := s.evaluations.TriggerEvaluation(ctx, patientID, cptCode, payer)
	if err != nil {
		return toolError("trigger_evaluation", err)
	}
	return jsonResult(map[string]string{"request_id": id, "status": string(domain.RequestPending)})
}

func (s *Server) getEvaluation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	requestID, err := req.RequireString("request_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	view, err := s.evaluations.GetEvaluation(ctx, requestID)
	if err != nil {
		return toolError("get_evaluation", err)
	}
	return jsonResult(view)
}

func (s *Server) ingestText(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	filename, err := req.RequireString("source_filename")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var meta domain.ChunkMetadata
	switch kind := req.GetString("type", ""); domain.MetadataType(kind) {
	case domain.MetadataClinical:
		meta = &domain.ClinicalMetadata{
			PatientID:  req.GetString("patient_id", ""),
			RecordType: req.GetString("record_type", ""),
			Date:       req.GetString("date", ""),
		}
	case domain.MetadataPolicy:
		meta = &domain.PolicyMetadata{
			Payer:         req.GetString("payer", ""),
			PolicyID:      req.GetString("policy_id", ""),
			CPTCodes:      req.GetStringSlice("cpt_codes", nil),
			SectionHeader: req.GetString("section_header", ""),
		}
	default:
		return mcp.NewToolResultError(fmt.Sprintf("type must be clinical or policy, got %q", kind)), nil
	}

	ids, err := s.ingestor.IngestDocument(ctx, text, filename, domain.ChunkConfig{}, meta)
	if err != nil {
		return toolError("ingest_text", err)
	}
	return jsonResult(map[string]any{"chunk_ids": ids})
}

// toolError reports caller mistakes back to the model as tool errors; everything else is
// a protocol-level failure.
func toolError(tool string, err error) (*mcp.CallToolResult, error) {
	if domain.IsKind(err, domain.ErrInvalidInput) || domain.IsKind(err, domain.ErrRequestNotFound) {
		return mcp.NewToolResultError(err.Error()), nil
	}
	slog.Error("mcp_tool_failed", "tool", tool, "error", err)
	if domain.IsKind(err, domain.ErrTemporary) {
		return mcp.NewToolResultError("upstream temporarily unavailable, retry later"), nil
	}
	return nil, errors.New(tool + " failed")
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return mcp.NewToolResultText(string(raw)), nil
}
