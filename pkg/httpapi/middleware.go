package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/AlexGrek/offloadmq/pkg/brokererr"
	"github.com/AlexGrek/offloadmq/pkg/types"
)

type contextKey string

const agentContextKey contextKey = "agent"

// agentAuthMiddleware verifies the Bearer JWT on every /private/agent/*
// request and stamps last_contact, then stashes the resolved agent in the
// request context for handlers to read via agentFromContext.
func (s *Server) agentAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, brokererr.NewAuthentication("missing bearer token"))
			return
		}

		agent, err := s.broker.VerifyAgentToken(token)
		if err != nil {
			writeError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), agentContextKey, agent)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func agentFromContext(r *http.Request) types.Agent {
	agent, _ := r.Context().Value(agentContextKey).(types.Agent)
	return agent
}

// managementAuthMiddleware requires a static bearer token matching the
// configured ManagementToken.
func (s *Server) managementAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" || token != s.managementToken {
			writeError(w, brokererr.NewAuthentication("invalid management token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
