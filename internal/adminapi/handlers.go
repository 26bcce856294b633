package adminapi

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/Zeeeepa/browserqa/internal/crawler"
	"github.com/Zeeeepa/browserqa/internal/dsl"
	"github.com/Zeeeepa/browserqa/internal/security"
)

type handlers struct {
	deps Deps
}

type crawlRequest struct {
	SeedURL     string               `json:"seed_url"`
	RunID       string               `json:"run_id,omitempty"`
	Credentials *crawler.Credentials `json:"credentials,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("adminapi: failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// health proxies the remote browser server's own health report. It is
// never gated by API key auth (the APIKey middleware lets /health and
// /metrics through without a key).
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	resp, err := h.deps.Transport.HealthCheck(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// runCrawl acquires a browser context, runs the crawler against the
// given seed URL to completion, and returns the aggregated result.
func (h *handlers) runCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.SeedURL == "" {
		writeError(w, http.StatusBadRequest, "seed_url is required")
		return
	}

	runID := req.RunID
	if runID == "" {
		generated, err := security.GenerateRunID()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "generate run id: "+err.Error())
			return
		}
		runID = generated
	} else if msg := security.ValidateRunID(runID); msg != "" {
		writeError(w, http.StatusBadRequest, "invalid run_id: "+msg)
		return
	}

	bctx, err := h.deps.Pool.Acquire(r.Context(), "crawl")
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "acquire context: "+err.Error())
		return
	}
	defer h.deps.Pool.Release(r.Context(), bctx)

	result, err := h.deps.Crawler.Crawl(r.Context(), h.deps.Transport, req.SeedURL, bctx.ID.String(), req.Credentials)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	result.RunID = runID

	if h.deps.Config.Crawl.ArtifactsDir != "" {
		if err := persistCrawlArtifact(h.deps.Config.Crawl.ArtifactsDir, runID, result); err != nil {
			log.Error().Err(err).Str("run_id", runID).Msg("adminapi: failed to persist crawl artifact")
		}
	}

	writeJSON(w, http.StatusOK, result)
}

// runTests decodes a TestSuite and runs it through the runner, returning
// the aggregated ParallelExecutionResult.
func (h *handlers) runTests(w http.ResponseWriter, r *http.Request) {
	var suite dsl.TestSuite
	if err := json.NewDecoder(r.Body).Decode(&suite); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(suite.Tests) == 0 {
		writeError(w, http.StatusBadRequest, "suite must contain at least one test")
		return
	}

	result, err := h.deps.Runner.RunSuite(r.Context(), suite)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}
