package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"carexpert/client/domain"
	"carexpert/common/env"
)

const apiBasePath = "/api"

const (
	defaultHTTPTimeout      = 10 * time.Second
	defaultFailThreshold    = 3
	defaultEndpointCooldown = 10 * time.Second
	unauthorizedQuietWindow = 2 * time.Second
)

// AIChatRecord is one stored AI exchange: the user's message plus the
// structured analysis the assistant returned for it.
type AIChatRecord struct {
	ID          string    `json:"id"`
	UserMessage string    `json:"user_message"`
	Severity    string    `json:"severity"`
	Causes      []string  `json:"probable_causes"`
	Recommend   string    `json:"recommendation"`
	Disclaimer  string    `json:"disclaimer"`
	CreatedAt   time.Time `json:"created_at"`
}

func (r AIChatRecord) Analysis() domain.AIAnalysis {
	return domain.AIAnalysis{
		Severity:       r.Severity,
		ProbableCauses: r.Causes,
		Recommendation: r.Recommend,
		Disclaimer:     r.Disclaimer,
	}
}

type HistoryMessage struct {
	ID         string    `json:"id"`
	ChannelID  string    `json:"channel_id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id,omitempty"`
	SenderName string    `json:"sender_name"`
	Text       string    `json:"text"`
	Kind       string    `json:"kind"`
	ImageURL   string    `json:"image_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type RoomInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	City string `json:"city"`
}

type RoomHistory struct {
	Room     RoomInfo         `json:"room"`
	Messages []HistoryMessage `json:"messages"`
}

// APIClient talks to the CareXpert REST API. Multiple endpoints can be
// configured; requests rotate across them and an endpoint that keeps failing
// is put on cooldown. A 401 from any call fires the unauthorized hook once
// per quiet window so a burst of expired-session responses triggers a single
// teardown.
type APIClient struct {
	endpoints []string
	http      *http.Client
	next      uint32

	failThreshold    int
	endpointCooldown time.Duration

	mu             sync.Mutex
	token          string
	failureCnt     map[string]int
	cooldownTo     map[string]time.Time
	onUnauthorized func(reason string)
	unauthorizedAt time.Time
}

func NewAPIClient(endpoints ...string) *APIClient {
	normalized := normalizeEndpoints(endpoints)
	timeout := env.DurationMillis("CAREXPERT_HTTP_TIMEOUT_MS", defaultHTTPTimeout)
	failThreshold := env.Int("CAREXPERT_FAIL_THRESHOLD", defaultFailThreshold)
	endpointCooldown := env.DurationMillis("CAREXPERT_COOLDOWN_MS", defaultEndpointCooldown)
	return &APIClient{
		endpoints:        normalized,
		http:             &http.Client{Timeout: timeout},
		failThreshold:    failThreshold,
		endpointCooldown: endpointCooldown,
		failureCnt:       make(map[string]int, len(normalized)),
		cooldownTo:       make(map[string]time.Time, len(normalized)),
	}
}

func (c *APIClient) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *APIClient) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// OnUnauthorized registers the session-expiry hook invoked on 401 responses.
func (c *APIClient) OnUnauthorized(fn func(reason string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUnauthorized = fn
}

func (c *APIClient) Login(ctx context.Context, email, password string) (domain.User, string, error) {
	payload := map[string]string{"data": email, "password": password}
	var data struct {
		domain.User
		AccessToken string `json:"access_token"`
	}
	if err := c.do(ctx, http.MethodPost, apiBasePath+"/user/login", payload, &data); err != nil {
		return domain.User{}, "", err
	}
	c.SetToken(data.AccessToken)
	return data.User, data.AccessToken, nil
}

func (c *APIClient) Register(ctx context.Context, name, email, password, role string) (domain.User, string, error) {
	payload := map[string]string{"name": name, "email": email, "password": password, "role": role}
	var data struct {
		domain.User
		AccessToken string `json:"access_token"`
	}
	if err := c.do(ctx, http.MethodPost, apiBasePath+"/user/register", payload, &data); err != nil {
		return domain.User{}, "", err
	}
	c.SetToken(data.AccessToken)
	return data.User, data.AccessToken, nil
}

func (c *APIClient) GetAIHistory(ctx context.Context) ([]AIChatRecord, error) {
	var data struct {
		Chats []AIChatRecord `json:"chats"`
	}
	if err := c.do(ctx, http.MethodGet, apiBasePath+"/ai-chat/history", nil, &data); err != nil {
		return nil, err
	}
	return data.Chats, nil
}

func (c *APIClient) PostAIMessage(ctx context.Context, symptoms, language string) (domain.AIAnalysis, error) {
	payload := map[string]string{"symptoms": symptoms, "language": language}
	var data domain.AIAnalysis
	if err := c.do(ctx, http.MethodPost, apiBasePath+"/ai-chat/process", payload, &data); err != nil {
		return domain.AIAnalysis{}, err
	}
	return data, nil
}

func (c *APIClient) DeleteAIHistory(ctx context.Context) error {
	var data map[string]any
	return c.do(ctx, http.MethodDelete, apiBasePath+"/ai-chat/history", nil, &data)
}

func (c *APIClient) GetDirectHistory(ctx context.Context, peerID string) ([]HistoryMessage, error) {
	var data struct {
		Messages []HistoryMessage `json:"messages"`
	}
	path := apiBasePath + "/chat/direct/" + url.PathEscape(peerID) + "/history"
	if err := c.do(ctx, http.MethodGet, path, nil, &data); err != nil {
		return nil, err
	}
	return data.Messages, nil
}

func (c *APIClient) GetRoomHistory(ctx context.Context, roomName string) (RoomHistory, error) {
	var data RoomHistory
	path := apiBasePath + "/chat/rooms/" + url.PathEscape(roomName) + "/history"
	if err := c.do(ctx, http.MethodGet, path, nil, &data); err != nil {
		return RoomHistory{}, err
	}
	return data, nil
}

func (c *APIClient) GetRoomMembers(ctx context.Context, roomID string) ([]domain.UserRef, error) {
	var data struct {
		Members []domain.UserRef `json:"members"`
	}
	path := apiBasePath + "/user/communities/" + url.PathEscape(roomID) + "/members"
	if err := c.do(ctx, http.MethodGet, path, nil, &data); err != nil {
		return nil, err
	}
	return data.Members, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, payload any, out any) error {
	if len(c.endpoints) == 0 {
		return fmt.Errorf("api endpoint is not configured")
	}
	var body []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = b
	}

	start := int(atomic.AddUint32(&c.next, 1)-1) % len(c.endpoints)
	var lastErr error
	for offset := 0; offset < len(c.endpoints); offset++ {
		endpoint := c.endpoints[(start+offset)%len(c.endpoints)]
		if c.isCoolingDown(endpoint, time.Now()) {
			continue
		}

		req, reqErr := http.NewRequestWithContext(ctx, method, endpoint+path, bytes.NewReader(body))
		if reqErr != nil {
			lastErr = reqErr
			c.onFailure(endpoint, time.Now())
			continue
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token := c.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, doErr := c.http.Do(req)
		if doErr != nil {
			lastErr = fmt.Errorf("api request failed endpoint=%s: %w", endpoint, doErr)
			c.onFailure(endpoint, time.Now())
			continue
		}

		if resp.StatusCode >= 500 {
			_ = resp.Body.Close()
			lastErr = &APIError{Status: resp.StatusCode, Message: "server error"}
			c.onFailure(endpoint, time.Now())
			continue
		}

		var envelope struct {
			Success bool            `json:"success"`
			Message string          `json:"message"`
			Data    json.RawMessage `json:"data"`
		}
		decodeErr := json.NewDecoder(resp.Body).Decode(&envelope)
		_ = resp.Body.Close()

		if resp.StatusCode == http.StatusUnauthorized {
			c.fireUnauthorized()
			return &APIError{Status: resp.StatusCode, Message: messageOr(envelope.Message, "session expired")}
		}
		if resp.StatusCode >= 300 {
			return &APIError{Status: resp.StatusCode, Message: messageOr(envelope.Message, "request failed")}
		}
		if decodeErr != nil {
			c.onFailure(endpoint, time.Now())
			return decodeErr
		}
		if !envelope.Success {
			return &APIError{Status: resp.StatusCode, Message: messageOr(envelope.Message, "request failed")}
		}
		c.onSuccess(endpoint)
		if out == nil || len(envelope.Data) == 0 {
			return nil
		}
		return json.Unmarshal(envelope.Data, out)
	}

	if lastErr == nil {
		return fmt.Errorf("api request failed")
	}
	return lastErr
}

func (c *APIClient) fireUnauthorized() {
	c.mu.Lock()
	fn := c.onUnauthorized
	now := time.Now()
	quiet := now.Sub(c.unauthorizedAt) < unauthorizedQuietWindow
	if !quiet {
		c.unauthorizedAt = now
	}
	c.mu.Unlock()

	if fn != nil && !quiet {
		fn("session_expired")
	}
}

func messageOr(message, fallback string) string {
	if strings.TrimSpace(message) == "" {
		return fallback
	}
	return message
}

func normalizeEndpoints(endpoints []string) []string {
	result := make([]string, 0, len(endpoints))
	seen := map[string]struct{}{}
	for _, endpoint := range endpoints {
		normalized := strings.TrimRight(strings.TrimSpace(endpoint), "/")
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		result = append(result, normalized)
	}
	return result
}

func (c *APIClient) isCoolingDown(endpoint string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.cooldownTo[endpoint]
	if !ok {
		return false
	}
	if now.After(until) {
		delete(c.cooldownTo, endpoint)
		return false
	}
	return true
}

func (c *APIClient) onFailure(endpoint string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := c.failureCnt[endpoint] + 1
	c.failureCnt[endpoint] = count
	if count >= c.failThreshold {
		c.cooldownTo[endpoint] = now.Add(c.endpointCooldown)
		c.failureCnt[endpoint] = 0
	}
}

func (c *APIClient) onSuccess(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureCnt[endpoint] = 0
	delete(c.cooldownTo, endpoint)
}
