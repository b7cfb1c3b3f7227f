package voteclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3/client"
	"github.com/valyala/fasthttp"
)

const defaultTimeout = 5 * time.Second

// Client talks to one tierd vote API. Anonymous callers identify with a
// client id; authenticated callers pass a bearer token.
type Client struct {
	http     *client.Client
	clientID string
	token    string
	anonLog  *AnonymousLog
}

type Option func(*Client)

func WithClientID(id string) Option { return func(c *Client) { c.clientID = id } }

func WithToken(token string) Option { return func(c *Client) { c.token = token } }

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.SetTimeout(d) }
}

// WithAnonymousLog enables the local pre-filter for anonymous votes.
func WithAnonymousLog(l *AnonymousLog) Option { return func(c *Client) { c.anonLog = l } }

func New(baseURL string, opts ...Option) *Client {
	hc := client.New()
	hc.SetBaseURL(baseURL)
	hc.SetTimeout(defaultTimeout)
	c := &Client{http: hc}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ClientID returns the anonymous id in use, if any.
func (c *Client) ClientID() string { return c.clientID }

func (c *Client) anonymous() bool { return c.token == "" }

func (c *Client) headers() map[string]string {
	h := map[string]string{"Accept": "application/json"}
	if c.token != "" {
		h["Authorization"] = "Bearer " + c.token
	}
	return h
}

func isTimeout(err error) bool {
	return errors.Is(err, client.ErrTimeoutOrCancel) ||
		errors.Is(err, fasthttp.ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded)
}

// decode reads a JSON success body into out or turns an error envelope into
// an *APIError.
func decode(resp *client.Response, out any) error {
	defer resp.Close()
	if status := resp.StatusCode(); status < 200 || status > 299 {
		var env struct {
			Error struct {
				Code     string `json:"code"`
				Message  string `json:"message"`
				ResetsAt string `json:"resetsAt"`
			} `json:"error"`
		}
		_ = json.Unmarshal(resp.Body(), &env)
		apiErr := &APIError{Status: status, Code: env.Error.Code, Message: env.Error.Message}
		if env.Error.ResetsAt != "" {
			apiErr.ResetsAt, _ = time.Parse(time.RFC3339, env.Error.ResetsAt)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// EnsureIdentity requests a client id from the server when none is set.
func (c *Client) EnsureIdentity(ctx context.Context) (string, error) {
	if c.clientID != "" {
		return c.clientID, nil
	}
	resp, err := c.http.Post("/vote/identity", client.Config{Ctx: ctx, Header: c.headers()})
	if err != nil {
		return "", fmt.Errorf("issue identity: %w", err)
	}
	var out struct {
		ClientID string `json:"clientId"`
	}
	if err := decode(resp, &out); err != nil {
		return "", err
	}
	c.clientID = out.ClientID
	return c.clientID, nil
}

// Vote casts dir on productID with toggle semantics. A timed-out request is
// not retried: the client refetches the voter's status and the counts and
// returns them inside an *OutcomeUnknownError.
func (c *Client) Vote(ctx context.Context, productID string, dir Direction) (*VoteResult, error) {
	if c.anonymous() && c.anonLog != nil && !c.anonLog.CheckAndRecord(productID, dir) {
		return nil, ErrLocalLimit
	}

	body := map[string]string{"productId": productID, "direction": string(dir)}
	if c.anonymous() {
		body["clientId"] = c.clientID
	}
	resp, err := c.http.Post("/vote", client.Config{Ctx: ctx, Header: c.headers(), Body: body})
	if err != nil {
		if isTimeout(err) {
			return nil, c.refetchAfterTimeout(context.WithoutCancel(ctx), productID, err)
		}
		return nil, fmt.Errorf("vote: %w", err)
	}
	var out VoteResult
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) refetchAfterTimeout(ctx context.Context, productID string, cause error) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	unknown := &OutcomeUnknownError{ProductID: productID, Err: cause}
	if dir, err := c.Status(ctx, productID); err == nil {
		unknown.Direction = dir
	}
	if counts, err := c.Counts(ctx, productID); err == nil {
		unknown.Counts = counts
	}
	return unknown
}

// Status returns the caller's current direction on productID.
func (c *Client) Status(ctx context.Context, productID string) (Direction, error) {
	params := map[string]string{"productId": productID}
	if c.anonymous() {
		params["clientId"] = c.clientID
	}
	resp, err := c.http.Get("/vote/status", client.Config{Ctx: ctx, Header: c.headers(), Param: params})
	if err != nil {
		return "", fmt.Errorf("vote status: %w", err)
	}
	var out struct {
		AppliedDirection Direction `json:"appliedDirection"`
	}
	if err := decode(resp, &out); err != nil {
		return "", err
	}
	return out.AppliedDirection, nil
}

func (c *Client) Counts(ctx context.Context, productID string) (*Counts, error) {
	resp, err := c.http.Get("/vote/counts", client.Config{
		Ctx: ctx, Header: c.headers(), Param: map[string]string{"productId": productID},
	})
	if err != nil {
		return nil, fmt.Errorf("vote counts: %w", err)
	}
	var out Counts
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Remaining asks the server for the anonymous allowance left.
func (c *Client) Remaining(ctx context.Context) (*Remaining, error) {
	resp, err := c.http.Get("/vote/remaining", client.Config{
		Ctx: ctx, Header: c.headers(), Param: map[string]string{"clientId": c.clientID},
	})
	if err != nil {
		return nil, fmt.Errorf("vote remaining: %w", err)
	}
	var out Remaining
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Rankings(ctx context.Context, limit int) (*Rankings, error) {
	cfg := client.Config{Ctx: ctx, Header: c.headers()}
	if limit > 0 {
		cfg.Param = map[string]string{"limit": strconv.Itoa(limit)}
	}
	resp, err := c.http.Get("/rankings", cfg)
	if err != nil {
		return nil, fmt.Errorf("rankings: %w", err)
	}
	var out Rankings
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Sync returns counters changed after cursor; an empty cursor fetches every
// product. Call it after reconnecting to the stream to converge on missed
// deltas, passing the returned cursor back until HasMore is false.
func (c *Client) Sync(ctx context.Context, cursor string) (*SyncPage, error) {
	cfg := client.Config{Ctx: ctx, Header: c.headers()}
	if cursor != "" {
		cfg.Param = map[string]string{"cursor": cursor}
	}
	resp, err := c.http.Get("/vote/sync", cfg)
	if err != nil {
		return nil, fmt.Errorf("vote sync: %w", err)
	}
	var out SyncPage
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VoteOptimistic runs the full optimistic cycle against state: apply locally,
// send, then confirm, roll back or refresh depending on the outcome.
func (c *Client) VoteOptimistic(ctx context.Context, state *OptimisticState, dir Direction) (Snapshot, error) {
	if _, err := state.Apply(dir); err != nil {
		return state.View(), err
	}
	res, err := c.Vote(ctx, state.productID, dir)
	if err == nil {
		return state.Confirm(*res), nil
	}
	var unknown *OutcomeUnknownError
	if errors.As(err, &unknown) && unknown.Counts != nil {
		return state.Refresh(*unknown.Counts, unknown.Direction), err
	}
	return state.Rollback(), err
}
