package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	commonauth "carexpert/common/auth"
	"carexpert/common/middleware"
	"carexpert/common/transport/httpresp"
	"carexpert/server/chat/domain"
	"carexpert/server/chat/service"
)

type Handler struct {
	users *service.UserService
	chat  *service.ChatService
	ai    *service.AIService
	files *service.FileService
	ws    *service.RealtimeService
	auth  *commonauth.Service
}

func NewHandler(users *service.UserService, chat *service.ChatService, ai *service.AIService, files *service.FileService, ws *service.RealtimeService, auth *commonauth.Service) *Handler {
	return &Handler{users: users, chat: chat, ai: ai, files: files, ws: ws, auth: auth}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, httpresp.OK(gin.H{"status": "ok"})) })
	r.GET("/ws/chat", h.handleWS)

	user := r.Group("/api/user")
	{
		user.POST("/login", h.login)
		user.POST("/register", h.register)
		user.GET("/communities/:roomId/members", middleware.AuthRequired(h.auth), h.roomMembers)
	}

	ai := r.Group("/api/ai-chat")
	ai.Use(middleware.AuthRequired(h.auth))
	{
		ai.GET("/history", h.aiHistory)
		ai.POST("/process", h.aiProcess)
		ai.DELETE("/history", h.aiClear)
	}

	chat := r.Group("/api/chat")
	chat.Use(middleware.AuthRequired(h.auth))
	{
		chat.GET("/direct/:peerId/history", h.directHistory)
		chat.GET("/rooms/:name/history", h.roomHistory)
		chat.POST("/upload", h.upload)
	}
}

type credentialsRequest struct {
	Data     string `json:"data" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type registerRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required,min=6"`
	Role     string `json:"role"`
}

type sessionResponse struct {
	domain.User
	AccessToken string `json:"access_token"`
}

func (h *Handler) login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.Error("identifier and password are required"))
		return
	}
	user, token, err := h.users.Login(c.Request.Context(), req.Data, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, httpresp.Error("invalid credentials"))
			return
		}
		c.JSON(http.StatusInternalServerError, httpresp.Error("login failed"))
		return
	}
	c.JSON(http.StatusOK, httpresp.OKMessage("login successful", sessionResponse{User: user, AccessToken: token}))
}

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.Error("name, email and password are required"))
		return
	}
	user, token, err := h.users.Register(c.Request.Context(), req.Name, req.Email, req.Password, req.Role)
	if err != nil {
		if errors.Is(err, service.ErrEmailTaken) {
			c.JSON(http.StatusConflict, httpresp.Error("email already registered"))
			return
		}
		c.JSON(http.StatusInternalServerError, httpresp.Error("registration failed"))
		return
	}
	c.JSON(http.StatusCreated, httpresp.OKMessage("registration successful", sessionResponse{User: user, AccessToken: token}))
}

func (h *Handler) roomMembers(c *gin.Context) {
	roomID := strings.TrimSpace(c.Param("roomId"))
	members, err := h.users.RoomMembers(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, httpresp.Error("failed to load members"))
		return
	}
	out := make([]gin.H, 0, len(members))
	for _, m := range members {
		out = append(out, gin.H{"id": m.ID, "name": m.Name, "profile_picture": m.ProfilePicture})
	}
	c.JSON(http.StatusOK, httpresp.OK(gin.H{"members": out}))
}

func (h *Handler) aiHistory(c *gin.Context) {
	userID := c.GetString("auth_user_id")
	chats, err := h.ai.History(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, httpresp.Error("failed to load history"))
		return
	}
	c.JSON(http.StatusOK, httpresp.OK(gin.H{"chats": chats}))
}

type aiProcessRequest struct {
	Symptoms string `json:"symptoms" binding:"required"`
	Language string `json:"language"`
}

func (h *Handler) aiProcess(c *gin.Context) {
	var req aiProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.Error("symptoms are required"))
		return
	}
	if req.Language == "" {
		req.Language = "en"
	}
	userID := c.GetString("auth_user_id")
	chat, err := h.ai.Process(c.Request.Context(), userID, req.Symptoms, req.Language)
	if err != nil {
		c.JSON(http.StatusBadGateway, httpresp.Error("analysis unavailable"))
		return
	}
	c.JSON(http.StatusOK, httpresp.OK(gin.H{
		"severity":        chat.Severity,
		"probable_causes": chat.ProbableCauses,
		"recommendation":  chat.Recommendation,
		"disclaimer":      chat.Disclaimer,
	}))
}

func (h *Handler) aiClear(c *gin.Context) {
	userID := c.GetString("auth_user_id")
	if err := h.ai.Clear(c.Request.Context(), userID); err != nil {
		c.JSON(http.StatusInternalServerError, httpresp.Error("failed to clear history"))
		return
	}
	c.JSON(http.StatusOK, httpresp.OKMessage("history cleared", gin.H{}))
}

func (h *Handler) directHistory(c *gin.Context) {
	userID := c.GetString("auth_user_id")
	peerID := strings.TrimSpace(c.Param("peerId"))
	messages, err := h.chat.DirectHistory(c.Request.Context(), userID, peerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, httpresp.Error("failed to load history"))
		return
	}
	c.JSON(http.StatusOK, httpresp.OK(gin.H{"messages": messages}))
}

func (h *Handler) roomHistory(c *gin.Context) {
	name := strings.TrimSpace(c.Param("name"))
	room, messages, err := h.chat.RoomHistory(c.Request.Context(), name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, httpresp.Error("failed to load history"))
		return
	}
	c.JSON(http.StatusOK, httpresp.OK(gin.H{"room": room, "messages": messages}))
}

func (h *Handler) upload(c *gin.Context) {
	userID := c.GetString("auth_user_id")
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, httpresp.Error("file is required"))
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	url, err := h.files.Upload(c.Request.Context(), userID, header.Filename, contentType, header.Size, file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, httpresp.Error("upload failed"))
		return
	}
	c.JSON(http.StatusOK, httpresp.OK(gin.H{"image_url": url}))
}

func (h *Handler) handleWS(c *gin.Context) {
	token, ok := wsAccessToken(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.Error("bearer token is required"))
		return
	}
	userID, name, role, err := h.auth.ParseAuthContext(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, httpresp.Error("invalid token"))
		return
	}
	c.Set("auth_access_token", token)
	c.Set("auth_user_id", userID)
	c.Set("auth_user_name", name)
	c.Set("auth_role", role)
	h.ws.HandleWS(c)
}

func wsAccessToken(c *gin.Context) (string, bool) {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if strings.HasPrefix(header, "Bearer ") {
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token != "" {
			return token, true
		}
	}
	token := strings.TrimSpace(c.Query("access_token"))
	if token == "" {
		return "", false
	}
	return token, true
}
