package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu          sync.Mutex
	uploads     []upload
	texts       []map[string]any
	triggers    []map[string]string
	polls       int
	pendingFor  int
	finalStatus string
}

type upload struct {
	filename    string
	contentType string
	body        string
	metadata    map[string]any
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()
	api := &fakeAPI{finalStatus: "complete"}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/documents", func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, `{"error":"multipart field 'file' is required"}`, http.StatusBadRequest)
			return
		}
		defer file.Close()
		body, _ := io.ReadAll(file)
		var meta map[string]any
		_ = json.Unmarshal([]byte(r.FormValue("metadata")), &meta)

		api.mu.Lock()
		api.uploads = append(api.uploads, upload{
			filename:    header.Filename,
			contentType: header.Header.Get("Content-Type"),
			body:        string(body),
			metadata:    meta,
		})
		api.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"storage_key":"abc_` + header.Filename + `","chunk_ids":["c1","c2"]}`))
	})
	mux.HandleFunc("POST /v1/documents/text", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		api.mu.Lock()
		api.texts = append(api.texts, req)
		api.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"chunk_ids":["t1"]}`))
	})
	mux.HandleFunc("POST /v1/evaluations", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["cpt_code"] == "bad" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid input: cpt_code must be 5 alphanumeric characters"}`))
			return
		}
		api.mu.Lock()
		api.triggers = append(api.triggers, req)
		api.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"request_id":"req-1","status":"pending"}`))
	})
	mux.HandleFunc("GET /v1/evaluations/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "req-1" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"evaluation request not found"}`))
			return
		}
		api.mu.Lock()
		api.polls++
		pending := api.polls <= api.pendingFor
		status := api.finalStatus
		api.mu.Unlock()

		switch {
		case pending:
			_, _ = w.Write([]byte(`{"request_id":"req-1","status":"pending"}`))
		case status == "error":
			_, _ = w.Write([]byte(`{"request_id":"req-1","status":"error"}`))
		default:
			_, _ = w.Write([]byte(`{"request_id":"req-1","status":"complete","determination":{
				"id":"det-1","request_id":"req-1","probability_score":0.92,"recommendation":"LIKELY_APPROVED",
				"criteria_results":[{"criterion":"HbA1c below 8.0%","met":true,"confidence":0.92,
				"evidence_quote":"HbA1c 6.8%","clinical_citation":"[Source: labs.txt]","policy_citation":"CPB-0004 §2","reasoning":"ok"}],
				"missing_info":[]}}`))
		}
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return api, server
}

func runPactl(t *testing.T, apiURL string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd("test")
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(append([]string{"--api-url", apiURL}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	root := NewRootCmd("test")
	names := make([]string, 0, len(root.Commands()))
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}

	assert.Contains(t, names, "ingest")
	assert.Contains(t, names, "seed")
	assert.Contains(t, names, "evaluate")
	assert.Contains(t, names, "status")
	assert.Contains(t, names, "mcp")
}

func TestIngestCmd_RequiresType(t *testing.T) {
	_, server := newFakeAPI(t)
	path := filepath.Join(t.TempDir(), "labs.txt")
	require.NoError(t, os.WriteFile(path, []byte("HbA1c 6.8%"), 0o600))

	_, err := runPactl(t, server.URL, "ingest", path)

	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "type" not set`)
}

func TestIngestCmd_UploadsPolicyDocument(t *testing.T) {
	api, server := newFakeAPI(t)
	path := filepath.Join(t.TempDir(), "cpb-0004.txt")
	require.NoError(t, os.WriteFile(path, []byte("Polysomnography criteria"), 0o600))

	out, err := runPactl(t, server.URL, "ingest", path,
		"--type", "policy", "--payer", "Aetna", "--policy-id", "CPB-0004", "--cpt-codes", "95810,95811")

	require.NoError(t, err)
	assert.Contains(t, out, "Uploaded cpb-0004.txt as abc_cpb-0004.txt (2 chunks)")
	require.Len(t, api.uploads, 1)
	got := api.uploads[0]
	assert.Equal(t, "cpb-0004.txt", got.filename)
	assert.Equal(t, "Polysomnography criteria", got.body)
	assert.Equal(t, "policy", got.metadata["type"])
	assert.Equal(t, "Aetna", got.metadata["payer"])
	assert.Equal(t, []any{"95810", "95811"}, got.metadata["cpt_codes"])
}

func TestIngestCmd_RejectsUnknownType(t *testing.T) {
	_, server := newFakeAPI(t)
	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	_, err := runPactl(t, server.URL, "ingest", path, "--type", "billing")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "clinical or policy")
}

func TestEvaluateCmd_PollsUntilComplete(t *testing.T) {
	api, server := newFakeAPI(t)
	api.pendingFor = 2

	out, err := runPactl(t, server.URL, "evaluate",
		"--patient-id", "P-001", "--cpt-code", "95810", "--payer", "Aetna", "--poll-interval", "1ms")

	require.NoError(t, err)
	assert.Equal(t, 3, api.polls)
	require.Len(t, api.triggers, 1)
	assert.Equal(t, "P-001", api.triggers[0]["patient_id"])
	assert.Contains(t, out, "Status:  complete")
	assert.Contains(t, out, "Recommendation: LIKELY_APPROVED (score 0.92)")
	assert.Contains(t, out, "HbA1c below 8.0%")
	assert.Contains(t, out, `evidence: "HbA1c 6.8%"`)
}

func TestEvaluateCmd_ErrorStatusFails(t *testing.T) {
	api, server := newFakeAPI(t)
	api.finalStatus = "error"

	out, err := runPactl(t, server.URL, "evaluate",
		"--patient-id", "P-001", "--cpt-code", "95810", "--payer", "Aetna", "--poll-interval", "1ms")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "evaluation req-1 failed")
	assert.Contains(t, out, "Status:  error")
}

func TestEvaluateCmd_NoWait(t *testing.T) {
	api, server := newFakeAPI(t)

	out, err := runPactl(t, server.URL, "evaluate",
		"--patient-id", "P-001", "--cpt-code", "95810", "--payer", "Aetna", "--no-wait")

	require.NoError(t, err)
	assert.Contains(t, out, "Request req-1 is pending")
	assert.Zero(t, api.polls)
}

func TestEvaluateCmd_SurfacesValidationError(t *testing.T) {
	_, server := newFakeAPI(t)

	_, err := runPactl(t, server.URL, "evaluate", "--patient-id", "P-001", "--cpt-code", "bad", "--payer", "Aetna")

	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "cpt_code")
}

func TestStatusCmd_NotFound(t *testing.T) {
	_, server := newFakeAPI(t)

	_, err := runPactl(t, server.URL, "status", "missing")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "api returned 404: evaluation request not found")
}

func TestStatusCmd_JSONOutput(t *testing.T) {
	_, server := newFakeAPI(t)

	out, err := runPactl(t, server.URL, "--json", "status", "req-1")

	require.NoError(t, err)
	var view map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "complete", view["status"])
	assert.NotNil(t, view["determination"])
}

func TestSeedCmd_LoadsFilesAndInlineText(t *testing.T) {
	api, server := newFakeAPI(t)
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "policies"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "policies", "cpb.txt"), []byte("policy body"), 0o600))
	manifest := filepath.Join(dir, "seed.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte(`documents:
  - file: policies/cpb.txt
    metadata:
      type: policy
      payer: Aetna
      policy_id: CPB-0004
      cpt_codes: ["95810"]
  - source_filename: labs-p001.txt
    text: "HbA1c 6.8% (2024-02-01)"
    metadata:
      type: clinical
      patient_id: P-001
      record_type: lab
      date: "2024-02-01"
`), 0o600))

	out, err := runPactl(t, server.URL, "seed", manifest)

	require.NoError(t, err)
	assert.Contains(t, out, "Seeded 2 of 2 documents")
	require.Len(t, api.uploads, 1)
	assert.Equal(t, "cpb.txt", api.uploads[0].filename)
	require.Len(t, api.texts, 1)
	assert.Equal(t, "labs-p001.txt", api.texts[0]["source_filename"])
	meta := api.texts[0]["metadata"].(map[string]any)
	assert.Equal(t, "clinical", meta["type"])
	assert.Equal(t, "P-001", meta["patient_id"])
}

func TestSeedCmd_StopsOnUnknownMetadataType(t *testing.T) {
	api, server := newFakeAPI(t)
	manifest := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte(`documents:
  - source_filename: a.txt
    text: "x"
    metadata: {type: billing}
  - source_filename: b.txt
    text: "y"
    metadata: {type: clinical, patient_id: P-1}
`), 0o600))

	_, err := runPactl(t, server.URL, "seed", manifest)
	require.Error(t, err)
	assert.Empty(t, api.texts)

	out, err := runPactl(t, server.URL, "seed", manifest, "--continue-on-error")
	require.Error(t, err)
	assert.Contains(t, out, "Seeded 1 of 2 documents")
	assert.Len(t, api.texts, 1)
}

func TestLoadSeedManifest_Validation(t *testing.T) {
	cases := map[string]string{
		"empty":          "documents: []\n",
		"file and text":  "documents:\n  - file: a.txt\n    text: x\n    source_filename: a.txt\n",
		"neither":        "documents:\n  - metadata: {type: clinical}\n",
		"text no source": "documents:\n  - text: x\n",
		"bad yaml":       "documents: [\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "seed.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

			_, err := LoadSeedManifest(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadSeedManifest_ResolvesRelativeFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte("documents:\n  - file: docs/a.pdf\n    metadata: {type: policy, payer: Aetna}\n"), 0o600))

	manifest, err := LoadSeedManifest(path)

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "docs", "a.pdf"), manifest.Documents[0].File)
}
