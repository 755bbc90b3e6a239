// Package api is the HTTP side of the backend contract: snapshot fetches
// and agent action endpoints. The realtime side lives in pkg/stream.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	v1 "github.com/carebridgehq/inbox-sync/pkg/schemas/inbox/v1"
)

// Scope pins a client to one tenant/department/agent. It is passed in at
// construction, never read from ambient state, so two sessions for
// different tenants can coexist in one process.
type Scope struct {
	TenantID     int64
	DepartmentID int64 // 0 means tenant-wide
	AgentID      int64
}

type Page struct {
	Limit  int
	Offset int
}

type Config struct {
	BaseURL string
	Scope   Scope
	Logger  *slog.Logger

	// HTTPClient overrides the transport, mainly for httptest servers.
	HTTPClient     *http.Client
	TimeoutSeconds int
}

type Client struct {
	http  *resty.Client
	scope Scope
	log   *slog.Logger
	base  string
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("api: base URL is required")
	}
	if cfg.Scope.TenantID == 0 {
		return nil, fmt.Errorf("api: tenant id is required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	var rc *resty.Client
	if cfg.HTTPClient != nil {
		rc = resty.NewWithClient(cfg.HTTPClient)
	} else {
		rc = resty.New()
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	rc.SetBaseURL(base)
	if cfg.TimeoutSeconds > 0 {
		rc.SetTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second)
	}

	return &Client{
		http:  rc,
		scope: cfg.Scope,
		log:   log,
		base:  base,
	}, nil
}

func (c *Client) Scope() Scope { return c.scope }

// FetchInbox pulls one inbox snapshot for the client's scope. A malformed
// body decodes to an empty list; only transport/HTTP failures error.
func (c *Client) FetchInbox(ctx context.Context, page Page) ([]v1.ConversationSummary, error) {
	params := map[string]string{
		"tenant_id": strconv.FormatInt(c.scope.TenantID, 10),
	}
	if c.scope.DepartmentID != 0 {
		params["department_id"] = strconv.FormatInt(c.scope.DepartmentID, 10)
	}
	if page.Limit > 0 {
		params["limit"] = strconv.Itoa(page.Limit)
		params["offset"] = strconv.Itoa(page.Offset)
	}

	resp, err := c.http.R().SetContext(ctx).SetQueryParams(params).Get("/inbox")
	if err != nil {
		return nil, fmt.Errorf("fetch inbox: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch inbox: backend returned %s", resp.Status())
	}
	return v1.NormalizeSummaries(resp.Body()), nil
}

// FetchConversation pulls full history plus metadata for one conversation.
func (c *Client) FetchConversation(ctx context.Context, conversationID int64) (v1.ConversationDetail, error) {
	resp, err := c.http.R().SetContext(ctx).
		Get("/conversations/" + strconv.FormatInt(conversationID, 10))
	if err != nil {
		return v1.ConversationDetail{}, fmt.Errorf("fetch conversation %d: %w", conversationID, err)
	}
	if resp.IsError() {
		return v1.ConversationDetail{}, fmt.Errorf("fetch conversation %d: backend returned %s", conversationID, resp.Status())
	}
	return v1.NormalizeConversationDetail(conversationID, resp.Body()), nil
}

// Join adds the scoped agent to a conversation.
func (c *Client) Join(ctx context.Context, conversationID int64) error {
	return c.postAction(ctx, conversationID, "join")
}

// Leave removes the scoped agent from a conversation.
func (c *Client) Leave(ctx context.Context, conversationID int64) error {
	return c.postAction(ctx, conversationID, "leave")
}

func (c *Client) postAction(ctx context.Context, conversationID int64, action string) error {
	resp, err := c.http.R().SetContext(ctx).
		SetBody(map[string]int64{"agent_id": c.scope.AgentID}).
		Post("/conversations/" + strconv.FormatInt(conversationID, 10) + "/" + action)
	if err != nil {
		return fmt.Errorf("%s conversation %d: %w", action, conversationID, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%s conversation %d: backend returned %s", action, conversationID, resp.Status())
	}
	return nil
}

// SendMessage writes one agent text message.
func (c *Client) SendMessage(ctx context.Context, conversationID int64, text string) error {
	body := map[string]any{
		"conversation_id": conversationID,
		"tenant_id":       c.scope.TenantID,
		"sender_type":     "agent",
		"sender_user_id":  c.scope.AgentID,
		"text":            text,
	}
	if c.scope.DepartmentID != 0 {
		body["department_id"] = c.scope.DepartmentID
	}
	resp, err := c.http.R().SetContext(ctx).
		SetHeader("X-Correlation-ID", uuid.NewString()).
		SetBody(body).
		Post("/chat/send-message")
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("send message: backend returned %s", resp.Status())
	}
	return nil
}

// ToggleAutomation flips the bot auto-reply flag for a conversation.
func (c *Client) ToggleAutomation(ctx context.Context, conversationID int64, enabled bool) error {
	resp, err := c.http.R().SetContext(ctx).
		SetBody(map[string]bool{"is_ai_enabled": enabled}).
		Put("/conversations/" + strconv.FormatInt(conversationID, 10) + "/ai-toggle")
	if err != nil {
		return fmt.Errorf("toggle automation: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("toggle automation: backend returned %s", resp.Status())
	}
	return nil
}

// InboxSocketURL is the inbox stream endpoint for this scope. With
// departmentScoped the department filter is added; the tenant-wide socket
// omits it.
func (c *Client) InboxSocketURL(departmentScoped bool) string {
	u := wsBase(c.base) + "/inbox/ws?tenant_id=" + strconv.FormatInt(c.scope.TenantID, 10)
	if departmentScoped && c.scope.DepartmentID != 0 {
		u += "&department_id=" + strconv.FormatInt(c.scope.DepartmentID, 10)
	}
	return u
}

// ChatSocketURL is the per-conversation stream endpoint.
func (c *Client) ChatSocketURL(conversationID int64) string {
	return wsBase(c.base) + "/chat/" + strconv.FormatInt(conversationID, 10) + "/ws"
}

func wsBase(base string) string {
	switch {
	case strings.HasPrefix(base, "https"):
		return "wss" + strings.TrimPrefix(base, "https")
	case strings.HasPrefix(base, "http"):
		return "ws" + strings.TrimPrefix(base, "http")
	default:
		return base
	}
}
