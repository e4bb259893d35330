package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Client talks to the hosted data store (REST) and the agent backend. It
// translates between the UI's deal/message/action shapes and the hosted
// records. All calls are single-attempt; retry policy belongs to the user.
type Client struct {
	storeURL   string
	backendURL string
	anonKey    string
	auth       *Auth
	hc         *http.Client
	logger     *zap.Logger
}

// NewClient creates a platform client. auth supplies bearer tokens for
// every request.
func NewClient(storeURL, backendURL, anonKey string, auth *Auth, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		storeURL:   strings.TrimRight(storeURL, "/"),
		backendURL: strings.TrimRight(backendURL, "/"),
		anonKey:    anonKey,
		auth:       auth,
		hc:         &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

// ListActiveDeals returns all AI-activated deals for the user, newest
// received first.
func (c *Client) ListActiveDeals(ctx context.Context, userID string) ([]Deal, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("user_id", "eq."+userID)
	q.Set("ai_activated", "is.true")
	q.Set("order", "received_at.desc")

	var deals []Deal
	if err := c.storeGet(ctx, "/rest/v1/emails", q, &deals); err != nil {
		return nil, err
	}
	return deals, nil
}

// ToggleAIActivation flips the per-deal activation flag in the hosted
// store. Turning a deal on additionally fires one best-effort
// start-process call; a kickoff failure is reported as ErrProcessKickoff
// but the activation flag stays set.
func (c *Client) ToggleAIActivation(ctx context.Context, dealID string, newState bool) error {
	q := url.Values{}
	q.Set("email_id", "eq."+dealID)

	patch := map[string]bool{"ai_activated": newState}
	if err := c.storeWrite(ctx, http.MethodPatch, "/rest/v1/emails", q, patch, nil); err != nil {
		return err
	}

	if !newState {
		return nil
	}
	if err := c.StartProcess(ctx, dealID); err != nil {
		c.logger.Error("collaboration kickoff failed after activation",
			zap.String("deal_id", dealID), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrProcessKickoff, err)
	}
	return nil
}

// AppendMessage writes a new message row and returns it as persisted,
// carrying the canonical server identifier and creation time.
func (c *Client) AppendMessage(ctx context.Context, dealID, author, body string) (Message, error) {
	creds, err := c.auth.Credentials()
	if err != nil {
		return Message{}, err
	}

	row := Message{DealID: dealID, UserID: creds.UserID, Author: author, Body: body}
	var inserted []Message
	if err := c.storeWrite(ctx, http.MethodPost, "/rest/v1/messages", nil, row, &inserted); err != nil {
		return Message{}, err
	}
	if len(inserted) == 0 {
		return Message{}, fmt.Errorf("%w: insert returned no row", ErrStoreUnavailable)
	}
	return inserted[0], nil
}

// ListMessagesWithActions fetches all messages for a deal ordered by
// creation time, then the actions owned by those messages, grouped under
// them. A message with no actions simply has no visible reasoning trace.
func (c *Client) ListMessagesWithActions(ctx context.Context, dealID string) ([]MessageWithActions, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("email_id", "eq."+dealID)
	q.Set("order", "created_at.asc")

	var msgs []Message
	if err := c.storeGet(ctx, "/rest/v1/messages", q, &msgs); err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	aq := url.Values{}
	aq.Set("select", "*")
	aq.Set("message_id", "in.("+strings.Join(ids, ",")+")")
	aq.Set("order", "created_at.asc")

	var actions []Action
	if err := c.storeGet(ctx, "/rest/v1/actions", aq, &actions); err != nil {
		return nil, err
	}

	byMsg := make(map[string][]Action, len(msgs))
	for _, a := range actions {
		byMsg[a.MessageID] = append(byMsg[a.MessageID], a)
	}

	out := make([]MessageWithActions, len(msgs))
	for i, m := range msgs {
		out[i] = MessageWithActions{Message: m, Actions: byMsg[m.ID]}
	}
	return out, nil
}

// SearchEmails triggers a mailbox scan on the backend and returns the
// scanned deal records.
func (c *Client) SearchEmails(ctx context.Context) (*ScanResult, error) {
	var result ScanResult
	if err := c.backendPost(ctx, "/search-emails", map[string]any{}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// StartProcess asks the backend to begin AI processing for a deal. The
// response body is not required to update UI state.
func (c *Client) StartProcess(ctx context.Context, dealID string) error {
	return c.backendPost(ctx, "/start-process", map[string]string{"email_id": dealID}, nil)
}

func (c *Client) storeGet(ctx context.Context, path string, q url.Values, out any) error {
	return c.storeDo(ctx, http.MethodGet, path, q, nil, out, false)
}

func (c *Client) storeWrite(ctx context.Context, method, path string, q url.Values, body, out any) error {
	return c.storeDo(ctx, method, path, q, body, out, out != nil)
}

func (c *Client) storeDo(ctx context.Context, method, path string, q url.Values, body, out any, wantRepresentation bool) error {
	creds, err := c.auth.Credentials()
	if err != nil {
		return err
	}

	u := c.storeURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if wantRepresentation {
		req.Header.Set("Prefer", "return=representation")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrAuthRequired
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: store returned %d for %s %s", ErrStoreUnavailable, resp.StatusCode, method, path)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrStoreUnavailable, err)
		}
	}
	return nil
}

func (c *Client) backendPost(ctx context.Context, path string, body, out any) error {
	creds, err := c.auth.Credentials()
	if err != nil {
		return err
	}

	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.backendURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	req.Header.Set("X-Refresh-Token", creds.RefreshToken)

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrAuthRequired
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: backend returned %d for %s", ErrStoreUnavailable, resp.StatusCode, path)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrStoreUnavailable, err)
		}
	}
	return nil
}
