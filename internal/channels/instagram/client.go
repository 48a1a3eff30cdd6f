package instagram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultGraphAPIBase = "https://graph.instagram.com/v24.0"
	defaultHTTPTimeout  = 10 * time.Second
)

// ErrGraphAPI wraps errors reported in Graph API response bodies.
var ErrGraphAPI = errors.New("instagram: graph api error")

// Client sends DMs and comment replies via the Instagram Graph API. Access
// tokens are per business account, so every call takes one.
type Client struct {
	graphAPIBase string
	httpClient   *http.Client
}

// NewClient creates a Graph API client. A nil httpClient gets a default with
// a 10s timeout; an empty base uses DefaultGraphAPIBase.
func NewClient(httpClient *http.Client, graphAPIBase string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if strings.TrimSpace(graphAPIBase) == "" {
		graphAPIBase = DefaultGraphAPIBase
	}
	return &Client{
		graphAPIBase: strings.TrimRight(graphAPIBase, "/"),
		httpClient:   httpClient,
	}
}

// SendDirectMessage sends a text DM from accountID to recipientID and
// returns the platform message id.
func (c *Client) SendDirectMessage(ctx context.Context, accessToken, accountID, recipientID, text string) (string, error) {
	if recipientID == "" {
		return "", errors.New("instagram: recipient id required")
	}
	return c.sendMessage(ctx, accessToken, accountID, SendRequest{
		Recipient: SendRecipient{ID: recipientID},
		Message:   SendMessage{Text: text},
	})
}

// SendCommentDM sends a private reply to the author of commentID.
func (c *Client) SendCommentDM(ctx context.Context, accessToken, accountID, commentID, text string) (string, error) {
	if commentID == "" {
		return "", errors.New("instagram: comment id required")
	}
	return c.sendMessage(ctx, accessToken, accountID, SendRequest{
		Recipient: SendRecipient{CommentID: commentID},
		Message:   SendMessage{Text: text},
	})
}

// SendPublicReply posts a reply under commentID and returns the new
// comment's id.
func (c *Client) SendPublicReply(ctx context.Context, accessToken, commentID, text string) (string, error) {
	if commentID == "" {
		return "", errors.New("instagram: comment id required")
	}
	endpoint := fmt.Sprintf("%s/%s/replies", c.graphAPIBase, url.PathEscape(commentID))
	var resp ReplyResponse
	if err := c.post(ctx, accessToken, endpoint, ReplyRequest{Message: text}, &resp, func() *SendError { return resp.Error }); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *Client) sendMessage(ctx context.Context, accessToken, accountID string, req SendRequest) (string, error) {
	if accountID == "" {
		return "", errors.New("instagram: account id required")
	}
	endpoint := fmt.Sprintf("%s/%s/messages", c.graphAPIBase, url.PathEscape(accountID))
	var resp SendResponse
	if err := c.post(ctx, accessToken, endpoint, req, &resp, func() *SendError { return resp.Error }); err != nil {
		return "", err
	}
	return resp.MessageID, nil
}

func (c *Client) post(ctx context.Context, accessToken, endpoint string, payload any, out any, apiErr func() *SendError) error {
	if strings.TrimSpace(accessToken) == "" {
		return errors.New("instagram: access token required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("instagram: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("instagram: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("instagram: send: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("instagram: read response: %w", err)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("instagram: unexpected status %d: %s", resp.StatusCode, string(respBody))
		}
		return fmt.Errorf("instagram: unmarshal response: %w", err)
	}
	if e := apiErr(); e != nil {
		return fmt.Errorf("%w %d: %s", ErrGraphAPI, e.Code, e.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("instagram: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
