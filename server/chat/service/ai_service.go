package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	commonlog "carexpert/common/log"
	"carexpert/server/chat/domain"
	"carexpert/server/chat/repository"
)

// AIService proxies symptom descriptions to the analysis backend and keeps a
// per-user history of the exchanges.
type AIService struct {
	chats    *repository.AIRepository
	endpoint string
	apiKey   string
	http     *http.Client
}

func NewAIService(chats *repository.AIRepository, endpoint, apiKey string, timeout time.Duration) *AIService {
	return &AIService{
		chats:    chats,
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: timeout},
	}
}

type analysisRequest struct {
	Symptoms string `json:"symptoms"`
	Language string `json:"language"`
}

type analysisResponse struct {
	Severity       string   `json:"severity"`
	ProbableCauses []string `json:"probable_causes"`
	Recommendation string   `json:"recommendation"`
	Disclaimer     string   `json:"disclaimer"`
}

// Process sends the symptoms to the analysis backend and persists the result.
// A persistence failure does not lose the analysis; the caller still gets it.
func (s *AIService) Process(ctx context.Context, userID, symptoms, language string) (domain.AIChat, error) {
	startedAt := time.Now()
	result, err := s.analyze(ctx, symptoms, language)
	if err != nil {
		commonlog.Errorf("event=ai_chat action=analyze status=failed user_id=%s latency_ms=%d error=%v", userID, time.Since(startedAt).Milliseconds(), err)
		return domain.AIChat{}, err
	}

	chat := domain.AIChat{
		UserID:         userID,
		UserMessage:    symptoms,
		Severity:       result.Severity,
		ProbableCauses: result.ProbableCauses,
		Recommendation: result.Recommendation,
		Disclaimer:     result.Disclaimer,
	}
	saved, err := s.chats.Create(ctx, chat)
	if err != nil {
		commonlog.Errorf("event=ai_chat action=persist status=failed user_id=%s error=%v", userID, err)
		return chat, nil
	}
	commonlog.Infof("event=ai_chat action=process status=ok user_id=%s severity=%s latency_ms=%d", userID, saved.Severity, time.Since(startedAt).Milliseconds())
	return saved, nil
}

func (s *AIService) analyze(ctx context.Context, symptoms, language string) (analysisResponse, error) {
	body, err := json.Marshal(analysisRequest{Symptoms: symptoms, Language: language})
	if err != nil {
		return analysisResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return analysisResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return analysisResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return analysisResponse{}, fmt.Errorf("analysis backend status %d", resp.StatusCode)
	}

	var out analysisResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return analysisResponse{}, err
	}
	return out, nil
}

func (s *AIService) History(ctx context.Context, userID string) ([]domain.AIChat, error) {
	return s.chats.ListByUser(ctx, userID)
}

func (s *AIService) Clear(ctx context.Context, userID string) error {
	return s.chats.DeleteByUser(ctx, userID)
}
