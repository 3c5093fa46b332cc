package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/julienschmidt/httprouter"
	"github.com/vfxforge/bidd/bid"
	"github.com/vfxforge/bidd/config"
	"github.com/vfxforge/bidd/sidecar/rpc"
)

// call issues an RPC through the current worker's dispatch pool. A nil
// client means the worker is not usable right now.
func (s *Server) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	client := s.registry.AsyncClient()
	if client == nil {
		return nil, errWorkerUnavailable
	}
	return client.Call(ctx, method, params)
}

var errWorkerUnavailable = errors.New("worker is not running; restart the sidecar")

// writeRPCError maps the RPC error taxonomy onto HTTP statuses.
func (s *Server) writeRPCError(w http.ResponseWriter, err error) {
	var rpcErr *rpc.Error
	switch {
	case errors.Is(err, errWorkerUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, rpc.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.As(err, &rpcErr):
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":   rpcErr.Message,
			"code":    rpcErr.Code,
			"details": rpcErr.Data,
		})
	default:
		// Transport and protocol failures: the worker likely died mid-call.
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

type chatResult struct {
	Explanation string          `json:"explanation"`
	ActionType  string          `json:"action_type"`
	QueryResult json.RawMessage `json:"query_result"`
}

func (s *Server) chat(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	s.log.Infow("chat message", "Message", req.Message)

	result, err := s.call(r.Context(), "chat_command", map[string]any{
		"message":     req.Message,
		"bid_context": nil,
	})
	if err != nil {
		s.writeRPCError(w, err)
		return
	}

	var parsed chatResult
	if err := json.Unmarshal(result, &parsed); err != nil {
		writeError(w, http.StatusBadGateway, fmt.Sprintf("unexpected chat result: %s", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"response": formatChatResponse(parsed),
	})
}

// formatChatResponse renders the worker's structured chat result for
// display.
func formatChatResponse(res chatResult) string {
	if len(res.QueryResult) == 0 || string(res.QueryResult) == "null" {
		if res.Explanation != "" {
			return res.Explanation
		}
		return "Processed"
	}

	switch res.ActionType {
	case "query":
		var summary struct {
			TotalBudget *float64 `json:"total_budget"`
			ShotCount   int      `json:"shot_count"`
			AverageCost float64  `json:"average_cost"`
			Shots       []any    `json:"shots"`
		}
		if err := json.Unmarshal(res.QueryResult, &summary); err == nil {
			if summary.TotalBudget != nil {
				return fmt.Sprintf("Total Budget: $%.2f\nShots: %d\nAverage: $%.2f",
					*summary.TotalBudget, summary.ShotCount, summary.AverageCost)
			}
			if summary.Shots != nil {
				return fmt.Sprintf("Found %d shots", len(summary.Shots))
			}
		}
	case "update_complexity":
		return "Complexity updated"
	case "group_shots":
		return "Shots grouped"
	}

	pretty, err := json.MarshalIndent(res.QueryResult, "", "  ")
	if err != nil {
		return "Result available"
	}
	return string(pretty)
}

type scriptAnalysis struct {
	Shots    []bid.Shot     `json:"shots"`
	Metadata scriptMetadata `json:"metadata"`
}

type scriptMetadata struct {
	Title         string   `json:"title,omitempty"`
	TotalShots    int      `json:"total_shots"`
	VFXCategories []string `json:"vfx_categories"`
}

func (s *Server) processScript(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	path, err := filepath.Abs(req.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid file path: %s", err))
		return
	}
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("file not found: %s", req.Path))
		return
	}

	s.log.Infow("processing script", "Path", path)

	result, err := s.call(r.Context(), "process_script", map[string]any{
		"path":        path,
		"output_path": nil,
	})
	if err != nil {
		s.writeRPCError(w, err)
		return
	}

	var processed struct {
		ExcelPath string     `json:"excel_path"`
		Shots     []bid.Shot `json:"shots"`
	}
	if err := json.Unmarshal(result, &processed); err != nil || processed.ExcelPath == "" {
		writeError(w, http.StatusBadGateway, "no excel_path in response")
		return
	}
	if processed.Shots != nil {
		s.store.SetShots(processed.Shots)
	}

	s.log.Infow("generated bid", "ExcelPath", processed.ExcelPath)

	title, totalShots, err := s.loadBid(r.Context(), processed.ExcelPath)
	if err != nil {
		s.writeRPCError(w, err)
		return
	}
	if title == "" {
		title = filepath.Base(path)
	}

	shots := s.store.Shots()
	if totalShots == 0 {
		totalShots = len(shots)
	}
	writeJSON(w, http.StatusOK, scriptAnalysis{
		Shots: shots,
		Metadata: scriptMetadata{
			Title:         title,
			TotalShots:    totalShots,
			VFXCategories: s.store.VFXCategories(),
		},
	})
}

// loadBid asks the worker to load a generated bid document and returns the
// summary fields this layer cares about.
func (s *Server) loadBid(ctx context.Context, path string) (title string, totalShots int, err error) {
	result, err := s.call(ctx, "load_bid", map[string]any{"path": path})
	if err != nil {
		return "", 0, err
	}
	var loaded struct {
		Summary struct {
			ScriptName string `json:"script_name"`
			TotalShots int    `json:"total_shots"`
		} `json:"summary"`
	}
	if err := json.Unmarshal(result, &loaded); err != nil {
		return "", 0, err
	}
	return loaded.Summary.ScriptName, loaded.Summary.TotalShots, nil
}

func (s *Server) bidQuery(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req struct {
		QueryType string          `json:"query_type"`
		Params    json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.QueryType == "" {
		writeError(w, http.StatusBadRequest, "query_type is required")
		return
	}

	params := req.Params
	if params == nil {
		params = json.RawMessage(`{}`)
	}
	result, err := s.call(r.Context(), "bid_query", map[string]any{
		"query_type": req.QueryType,
		"params":     params,
	})
	if err != nil {
		s.writeRPCError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(result) //nolint:errcheck
}

func (s *Server) listShots(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.store.Shots())
}

func (s *Server) getShot(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	shot, err := s.store.Get(params.ByName("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, shot)
}

func (s *Server) updateShot(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	var updated bid.Shot
	if err := json.NewDecoder(r.Body).Decode(&updated); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	shot, err := s.store.Update(params.ByName("id"), updated)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, shot)
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.settingsMu.Lock()
	settings := s.settings
	s.settingsMu.Unlock()
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) putSettings(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var settings config.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := config.Save(s.configDir, settings); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.settingsMu.Lock()
	s.settings = settings
	s.settingsMu.Unlock()
	writeJSON(w, http.StatusOK, settings)
}

// testLLM probes the configured LLM server's health endpoint, retrying
// transient failures.
func (s *Server) testLLM(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.settingsMu.Lock()
	serverURL := s.settings.LLM.ServerURL
	s.settingsMu.Unlock()

	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = 2

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Sprintf("failed to connect to LLM: %s", err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		writeError(w, http.StatusBadGateway, fmt.Sprintf("LLM returned error: %d", resp.StatusCode))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "LLM connection successful"})
}
