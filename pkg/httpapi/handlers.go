package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/AlexGrek/offloadmq/pkg/types"
)

func (s *Server) handleAgentRegister(w http.ResponseWriter, r *http.Request) {
	var req types.AgentRegistrationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	agent, err := s.broker.RegisterAgent(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"agentId": agent.UID,
		"key":     agent.PersonalLoginToken,
		"message": "registered",
	})
}

func (s *Server) handleAgentAuth(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID string `json:"agentId"`
		Key     string `json:"key"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	token, expiresIn, err := s.broker.AuthenticateAgent(req.AgentID, req.Key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":     token,
		"expiresIn": expiresIn,
	})
}

func (s *Server) handleAgentInfoUpdate(w http.ResponseWriter, r *http.Request) {
	agent := agentFromContext(r)
	var update types.AgentInfoUpdate
	if err := decodeBody(r, &update); err != nil {
		writeError(w, err)
		return
	}
	updated, err := s.broker.UpdateAgentInfo(agent, update)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handlePollUrgent(w http.ResponseWriter, r *http.Request) {
	agent := agentFromContext(r)
	task, ok := s.broker.PollUrgent(agent)
	if !ok {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	agent := agentFromContext(r)
	task, ok, err := s.broker.PollTask(agent)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func taskIDFromRoute(r *http.Request) types.TaskId {
	vars := mux.Vars(r)
	return types.TaskId{Capability: vars["cap"], ID: vars["id"]}
}

func (s *Server) handleTake(w http.ResponseWriter, r *http.Request) {
	agent := agentFromContext(r)
	assigned, err := s.broker.Take(agent, taskIDFromRoute(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assigned)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	id := taskIDFromRoute(r)
	var report types.TaskResultReport
	if err := decodeBody(r, &report); err != nil {
		writeError(w, err)
		return
	}
	report.ID = id.ID
	report.Capability = id.Capability
	if err := s.broker.Resolve(id, report); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "resolved"})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := taskIDFromRoute(r)
	var update types.TaskProgressUpdate
	if err := decodeBody(r, &update); err != nil {
		writeError(w, err)
		return
	}
	if err := s.broker.Progress(id, update); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req types.TaskSubmissionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.broker.Keys.Verify(req.ApiKey, req.Capability); err != nil {
		writeError(w, err)
		return
	}
	id, err := s.broker.SubmitTask(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, id)
}

func (s *Server) handleSubmitBlocking(w http.ResponseWriter, r *http.Request) {
	var req types.TaskSubmissionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.broker.Keys.Verify(req.ApiKey, req.Capability); err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	assigned, err := s.broker.SubmitBlocking(ctx, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assigned)
}

func (s *Server) handlePollStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ApiKey string `json:"apiKey"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	assigned, err := s.broker.PollStatus(body.ApiKey, taskIDFromRoute(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assigned)
}

func (s *Server) handleCapabilitiesOnline(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ApiKey string `json:"apiKey"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	caps, err := s.broker.CapabilitiesOnline(body.ApiKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"capabilities": caps})
}
