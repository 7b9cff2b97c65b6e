package assistant

import (
	"context"
	"errors"
	"strings"

	"github.com/aveoearth/marketplace/validate"
	"github.com/sirupsen/logrus"
)

// maxIterations bounds the tool loop so a confused model cannot spin
// forever against the backend.
const maxIterations = 5

const roleUser = "user"
const roleModel = "model"

// Service drives one model conversation turn: it feeds tool results
// back into the model until it produces text or runs out of iterations.
type Service struct {
	LLM   *Gemini
	Tools *Client
	Store Store
	Log   logrus.FieldLogger
}

type CallResult struct {
	Function string                 `json:"function"`
	Result   map[string]interface{} `json:"result"`
}

type ChatResult struct {
	Response      string       `json:"response"`
	FunctionCalls []CallResult `json:"function_calls,omitempty"`
	SessionID     string       `json:"session_id"`
}

func (s *Service) Chat(ctx context.Context, sessionID string, message string, token string) (ChatResult, error) {
	if sessionID == "" {
		sessionID = validate.GenerateID()
	}

	contents := s.Store.History(sessionID)
	contents = append(contents, Content{
		Role:  roleUser,
		Parts: []Part{{Text: message}},
	})

	tools := toolset()

	var calls []CallResult
	for i := 0; i < maxIterations; i++ {
		cand, err := s.LLM.Generate(ctx, contents, tools)
		if err != nil {
			return ChatResult{}, err
		}

		var text strings.Builder
		called := false
		for _, part := range cand.Parts {
			if part.FunctionCall != nil {
				called = true
				fc := part.FunctionCall
				result := s.Tools.Call(ctx, fc.Name, fc.Args, token)
				calls = append(calls, CallResult{Function: fc.Name, Result: result})

				s.Log.WithFields(logrus.Fields{
					"session":  sessionID,
					"function": fc.Name,
				}).Info("tool call")

				contents = append(contents,
					Content{Role: roleModel, Parts: []Part{{FunctionCall: fc}}},
					Content{Role: roleUser, Parts: []Part{{
						FunctionResponse: &FunctionResponse{Name: fc.Name, Response: result},
					}}},
				)
				continue
			}
			text.WriteString(part.Text)
		}

		if answer := strings.TrimSpace(text.String()); answer != "" {
			s.remember(sessionID, message, answer)
			return ChatResult{
				Response:      answer,
				FunctionCalls: calls,
				SessionID:     sessionID,
			}, nil
		}

		if !called {
			break
		}
	}

	if len(calls) > 0 {
		// The model acted but never summarized. Hand back a stable
		// fallback instead of an empty response.
		answer := "I've executed the requested functions but could not produce a final answer. Please try rephrasing your request."
		s.remember(sessionID, message, answer)
		return ChatResult{
			Response:      answer,
			FunctionCalls: calls,
			SessionID:     sessionID,
		}, nil
	}

	return ChatResult{}, errors.New("model produced no usable response")
}

// remember stores only the text exchange; tool call chatter is not
// useful context for future turns.
func (s *Service) remember(sessionID string, message string, answer string) {
	s.Store.Append(sessionID,
		Content{Role: roleUser, Parts: []Part{{Text: message}}},
		Content{Role: roleModel, Parts: []Part{{Text: answer}}},
	)
}
