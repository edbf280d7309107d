package assistant

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"travelbot/internal/models"
	"travelbot/internal/service/ai"
)

// TurnRequest is one user submission.
type TurnRequest struct {
	SessionID int64
	Content   string
	// OnAccepted is called once the user message is stored.
	OnAccepted func(msg *models.Message)
	// OnFragment receives reply text as it is drained from the model. If it
	// returns an error it is not called again, but the turn still completes.
	OnFragment func(fragment string) error
}

// TurnResult describes what a turn appended to the session.
type TurnResult struct {
	UserMessage      *models.Message `json:"user_message"`
	AssistantMessage *models.Message `json:"assistant_message,omitempty"`
	Refused          bool            `json:"refused"`
	Model            string          `json:"model"`
}

// RunTurn drives one turn. Empty input and a missing credential are rejected
// before anything is stored. Otherwise the user message is appended, then
// either the refusal or the model reply. When the model call fails the error
// is returned together with a result holding the kept user message.
func (s *Service) RunTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, ErrEmptyInput
	}
	utterance := req.Content
	session, err := s.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	mc, err := s.modelFor(session)
	if err != nil {
		return nil, err
	}
	sessionCred, _, err := s.ActiveCredential(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	token, err := s.invoker.ResolveCredential(mc, sessionCred)
	if err != nil {
		return nil, err
	}

	userMsg, err := s.AppendMessage(ctx, req.SessionID, models.RoleUser, utterance)
	if err != nil {
		return nil, err
	}
	if err := s.setTitleIfEmpty(ctx, req.SessionID, utterance); err != nil {
		slog.Warn("set session title", "session_id", req.SessionID, "error", err)
	}
	if req.OnAccepted != nil {
		req.OnAccepted(userMsg)
	}
	result := &TurnResult{UserMessage: userMsg, Model: mc.Name}

	if !IsRelevant(utterance) {
		refusal, err := s.AppendMessage(ctx, req.SessionID, models.RoleAssistant, RefusalMessage)
		if err != nil {
			return result, err
		}
		result.AssistantMessage = refusal
		result.Refused = true
		return result, nil
	}

	history, err := s.listMessages(ctx, req.SessionID)
	if err != nil {
		return result, err
	}
	transcript := BuildTranscript(history, utterance)

	reply, err := s.invoke(ctx, transcript, mc, token, req.OnFragment)
	if err != nil {
		slog.Warn("model invocation failed", "session_id", req.SessionID, "model", mc.Name, "error", err)
		return result, err
	}
	assistantMsg, err := s.AppendMessage(ctx, req.SessionID, models.RoleAssistant, reply)
	if err != nil {
		return result, err
	}
	result.AssistantMessage = assistantMsg
	return result, nil
}

// invoke runs the single model call. Once issued, the call is not cancelled
// by the caller going away; it ends on completion, failure or the turn timeout.
func (s *Service) invoke(ctx context.Context, transcript string, mc models.ModelConfig, token string, onFragment func(string) error) (string, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.turnTimeout)
	defer cancel()

	start := time.Now()
	sr, err := s.invoker.Generate(callCtx, transcript, mc, token)
	if err != nil {
		return "", err
	}
	sink := onFragment
	reply, err := ai.Drain(sr, func(fragment string) error {
		if sink == nil {
			return nil
		}
		if err := sink(fragment); err != nil {
			slog.Debug("fragment consumer stopped", "error", err)
			sink = nil
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(reply) == "" {
		return "", &ai.InvocationError{Kind: ai.KindModel, Err: errors.New("empty reply")}
	}
	slog.Debug("model replied", "model", mc.Name, "chars", len(reply), "elapsed", time.Since(start))
	return reply, nil
}
