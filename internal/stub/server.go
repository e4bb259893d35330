package stub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kyodoai/dealdesk/internal/platform"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// Server is an in-memory stand-in for the hosted store and the agent
// backend, for local development and end-to-end tests. It accepts any
// email/password pair and answers the same routes the real platform
// serves.
type Server struct {
	logger *zap.Logger

	mu       sync.Mutex
	users    map[string]string // email -> user id
	deals    []platform.Deal
	messages map[string][]platform.Message // deal id -> rows
	actions  map[string][]platform.Action  // message id -> rows

	// ReplyDelay is how long the fake agent waits before answering a
	// user message. Zero replies synchronously.
	ReplyDelay time.Duration
}

func NewServer(logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		logger:     logger,
		users:      make(map[string]string),
		messages:   make(map[string][]platform.Message),
		actions:    make(map[string][]platform.Action),
		ReplyDelay: 2 * time.Second,
	}
}

// Handler builds the echo handler serving auth, store and backend routes.
func (s *Server) Handler() http.Handler {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	e.POST("/auth/v1/token", s.handleToken)
	e.POST("/auth/v1/signup", s.handleToken)
	e.POST("/auth/v1/logout", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})

	e.GET("/rest/v1/emails", s.handleListEmails)
	e.PATCH("/rest/v1/emails", s.handlePatchEmail)
	e.GET("/rest/v1/messages", s.handleListMessages)
	e.POST("/rest/v1/messages", s.handleInsertMessage)
	e.GET("/rest/v1/actions", s.handleListActions)

	e.POST("/search-emails", s.handleSearchEmails)
	e.POST("/start-process", s.handleStartProcess)

	return e
}

// Start serves on addr until the process exits.
func (s *Server) Start(addr string) error {
	s.logger.Info("stub platform listening", zap.String("addr", addr))
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) handleToken(c echo.Context) error {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil || req.Email == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "email required"})
	}

	s.mu.Lock()
	id, ok := s.users[req.Email]
	if !ok {
		id = uuid.New().String()
		s.users[req.Email] = id
	}
	s.mu.Unlock()

	return c.JSON(http.StatusOK, map[string]any{
		"access_token":  "stub-access-" + id,
		"refresh_token": "stub-refresh-" + id,
		"expires_in":    3600,
		"user":          map[string]string{"id": id},
	})
}

// eqParam extracts the value of a PostgREST "column=eq.value" filter.
func eqParam(c echo.Context, name string) string {
	v := c.QueryParam(name)
	if strings.HasPrefix(v, "eq.") {
		return strings.TrimPrefix(v, "eq.")
	}
	return ""
}

// bearerUserID recovers the user id embedded in the stub access token.
func bearerUserID(c echo.Context) string {
	h := c.Request().Header.Get("Authorization")
	token := strings.TrimPrefix(h, "Bearer ")
	return strings.TrimPrefix(token, "stub-access-")
}

func (s *Server) handleListEmails(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	activatedOnly := c.QueryParam("ai_activated") == "is.true"
	// An "eq." filter with an empty value matches only empty columns, so
	// presence is checked separately from the value.
	userFilter := strings.HasPrefix(c.QueryParam("user_id"), "eq.")
	userID := eqParam(c, "user_id")
	out := make([]platform.Deal, 0, len(s.deals))
	for _, d := range s.deals {
		if activatedOnly && !d.AIActivated {
			continue
		}
		if userFilter && d.UserID != userID {
			continue
		}
		out = append(out, d)
	}
	// Stored newest-first; order param is accepted but only this order
	// is produced.
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handlePatchEmail(c echo.Context) error {
	dealID := eqParam(c, "email_id")
	var patch map[string]any
	if err := c.Bind(&patch); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad patch"})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.deals {
		if s.deals[i].ID == dealID {
			if v, ok := patch["ai_activated"].(bool); ok {
				s.deals[i].AIActivated = v
			}
			return c.JSON(http.StatusOK, []platform.Deal{s.deals[i]})
		}
	}
	return c.JSON(http.StatusNotFound, map[string]string{"error": "no such deal"})
}

func (s *Server) handleListMessages(c echo.Context) error {
	dealID := eqParam(c, "email_id")
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[dealID]
	if msgs == nil {
		msgs = []platform.Message{}
	}
	return c.JSON(http.StatusOK, msgs)
}

func (s *Server) handleInsertMessage(c echo.Context) error {
	var m platform.Message
	if err := c.Bind(&m); err != nil || m.DealID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "email_id required"})
	}
	m.ID = uuid.New().String()
	m.CreatedAt = time.Now().UTC()

	s.mu.Lock()
	s.messages[m.DealID] = append(s.messages[m.DealID], m)
	s.mu.Unlock()

	if m.Author == platform.AuthorUser {
		s.scheduleReply(m.DealID, m.Body)
	}

	return c.JSON(http.StatusCreated, []platform.Message{m})
}

func (s *Server) handleListActions(c echo.Context) error {
	filter := c.QueryParam("message_id")
	ids := strings.TrimSuffix(strings.TrimPrefix(filter, "in.("), ")")

	s.mu.Lock()
	defer s.mu.Unlock()
	out := []platform.Action{}
	for _, id := range strings.Split(ids, ",") {
		out = append(out, s.actions[id]...)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleSearchEmails(c echo.Context) error {
	s.mu.Lock()
	if len(s.deals) == 0 {
		s.deals = seedDeals(bearerUserID(c))
	}
	byLabel := make(map[string]int)
	for _, d := range s.deals {
		for _, l := range d.Labels {
			byLabel[l]++
		}
	}
	result := platform.ScanResult{
		Emails: s.deals,
		Summary: platform.ScanSummary{
			TotalFound: len(s.deals),
			ByLabel:    byLabel,
		},
	}
	s.mu.Unlock()

	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleStartProcess(c echo.Context) error {
	var req struct {
		EmailID string `json:"email_id"`
	}
	if err := c.Bind(&req); err != nil || req.EmailID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "email_id required"})
	}

	s.mu.Lock()
	found := false
	for _, d := range s.deals {
		if d.ID == req.EmailID {
			found = true
			break
		}
	}
	s.mu.Unlock()
	if !found {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no such deal"})
	}

	s.scheduleReply(req.EmailID, "")
	return c.JSON(http.StatusOK, map[string]string{"status": "started"})
}

// scheduleReply appends a canned agent reply with a reasoning trace and
// suggested follow-ups after ReplyDelay.
func (s *Server) scheduleReply(dealID, userBody string) {
	deliver := func() {
		msgID := uuid.New().String()
		now := time.Now().UTC()

		body := "I've reviewed this deal. The offer looks workable; I'd counter on deliverables before price."
		if userBody != "" {
			body = fmt.Sprintf("On %q: I'd push back politely and ask for their full brief first.", truncate(userBody, 60))
		}

		reply := platform.Message{
			ID:        msgID,
			DealID:    dealID,
			Author:    platform.AuthorAI,
			Body:      body,
			CreatedAt: now,
			SuggestedActions: []platform.SuggestedAction{
				{Name: "Draft counter-offer", Description: "Draft a counter-offer email for this deal"},
				{Name: "Ask for brief", Description: "Ask the sender for the full campaign brief"},
			},
		}
		trace := []platform.Action{
			{ID: uuid.New().String(), MessageID: msgID, Summary: "Read the original email thread",
				Actor: "agent", Type: platform.ActionStepOutput, CreatedAt: now.Add(-3 * time.Second)},
			{ID: uuid.New().String(), MessageID: msgID, Summary: "Compared budget against past deals",
				Actor: "agent", Type: platform.ActionStepOutput, CreatedAt: now.Add(-2 * time.Second),
				Detail: json.RawMessage(`{"comparable_deals":3}`)},
			{ID: uuid.New().String(), MessageID: msgID, Summary: "Drafted the reply",
				Actor: "agent", Type: platform.ActionStepOutput, CreatedAt: now.Add(-time.Second)},
		}

		s.mu.Lock()
		s.messages[dealID] = append(s.messages[dealID], reply)
		s.actions[msgID] = trace
		s.mu.Unlock()
	}

	if s.ReplyDelay <= 0 {
		deliver()
		return
	}
	time.AfterFunc(s.ReplyDelay, deliver)
}

func seedDeals(userID string) []platform.Deal {
	now := time.Now().UTC()
	return []platform.Deal{
		{
			ID: uuid.New().String(), UserID: userID, FromName: "Mia Torres", FromEmail: "mia@glowbrand.co",
			Subject: "Sponsored series for spring launch", Summary: "Three-video sponsored series, spring campaign.",
			Company: "Glow", Budget: "$12,000", Status: "pending",
			ReceivedAt: now.Add(-2 * time.Hour), Labels: []string{"INBOX", "IMPORTANT"},
			Tags: []string{"sponsorship", "video"}, RelevanceScore: 0.94, AIActivated: true,
		},
		{
			ID: uuid.New().String(), UserID: userID, FromName: "Daniel Reeve", FromEmail: "partnerships@peakgear.io",
			Subject: "Gear review collaboration", Summary: "Product review with affiliate terms.",
			Company: "PeakGear", Budget: "$3,500", Status: "pending",
			ReceivedAt: now.Add(-26 * time.Hour), Labels: []string{"INBOX"},
			Tags: []string{"review"}, RelevanceScore: 0.71, AIActivated: true,
		},
		{
			ID: uuid.New().String(), UserID: userID, FromName: "Sasha Lin", FromEmail: "sasha@nimbusapp.dev",
			Subject: "App integration shout-out", Summary: "One dedicated segment plus link in description.",
			Company: "Nimbus", Budget: "$1,800", Status: "pending",
			ReceivedAt: now.Add(-3 * 24 * time.Hour), Labels: []string{"INBOX"},
			Tags: []string{"shoutout"}, RelevanceScore: 0.55, AIActivated: false,
		},
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
