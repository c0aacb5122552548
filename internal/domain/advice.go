package domain

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// Recommendation is the advisor's verdict on whether trading may continue.
type Recommendation string

const (
	RecommendationContinue Recommendation = "CONTINUE"
	RecommendationPause    Recommendation = "PAUSE"
)

// Advice is the validated response of the risk-advisory collaborator.
type Advice struct {
	Recommendation Recommendation `json:"action"`
	Rationale      string         `json:"reason"`
}

// ParseAdvice builds a validated advice from a raw LLM response. Anything that
// is not an exact CONTINUE/PAUSE verdict is rejected rather than guessed.
func ParseAdvice(raw string) (*Advice, error) {
	payload := sanitizeAdvicePayload(raw)

	if !json.Valid([]byte(payload)) {
		return nil, errors.New("advice is not valid JSON")
	}

	var advice Advice
	if err := json.Unmarshal([]byte(payload), &advice); err != nil {
		return nil, errors.Wrap(err, "unmarshal advice")
	}

	advice.Recommendation = Recommendation(strings.ToUpper(strings.TrimSpace(string(advice.Recommendation))))
	switch advice.Recommendation {
	case RecommendationContinue, RecommendationPause:
	default:
		return nil, errors.Errorf("unknown advice action %q", advice.Recommendation)
	}

	if advice.Recommendation == RecommendationPause && advice.Rationale == "" {
		return nil, errors.New("PAUSE advice requires a reason")
	}

	return &advice, nil
}

func sanitizeAdvicePayload(raw string) string {
	payload := strings.TrimSpace(raw)
	payload = strings.TrimPrefix(payload, "```json")
	payload = strings.TrimPrefix(payload, "```")
	payload = strings.TrimSuffix(payload, "```")
	return strings.TrimSpace(payload)
}
