// Package sheets talks to the Google Apps Script web app that fronts the
// question/answer spreadsheet. The transport supports two actions: read a
// table and insert a row. Re-polls are idempotent; answered questions are
// filtered out by comparing against the answer table.
package sheets

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	maxAttempts = 3
	retryDelay  = time.Second
)

// Client is a Google Apps Script web app client.
type Client struct {
	scriptURL  string
	httpClient *http.Client
}

// NewClient creates a new sheet transport client.
func NewClient(scriptURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		scriptURL:  scriptURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// envelope is the Apps Script response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// do performs one Apps Script request, retrying transient failures with a
// short backoff.
func (c *Client) do(ctx context.Context, params url.Values, result any) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt-1) * retryDelay):
			}
		}
		lastErr = c.doOnce(ctx, params, result)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return fmt.Errorf("after %d attempts: %w", maxAttempts, lastErr)
}

func (c *Client) doOnce(ctx context.Context, params url.Values, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.scriptURL+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	text := strings.TrimSpace(string(body))
	if text == "" {
		return fmt.Errorf("empty response")
	}
	// Apps Script deployments sometimes answer JSONP-wrapped.
	if strings.HasPrefix(text, "undefined(") && strings.HasSuffix(text, ")") {
		text = text[len("undefined(") : len(text)-1]
	}

	var env envelope
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	if !env.Success {
		return fmt.Errorf("script error: %s", env.Error)
	}
	if result != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, result); err != nil {
			return fmt.Errorf("unmarshal data: %w", err)
		}
	}
	return nil
}

// ReadQuestions fetches every row of the question table.
func (c *Client) ReadQuestions(ctx context.Context) ([]Question, error) {
	params := url.Values{}
	params.Set("action", "read")
	params.Set("table", "question")

	var questions []Question
	if err := c.do(ctx, params, &questions); err != nil {
		return nil, fmt.Errorf("read questions: %w", err)
	}
	return questions, nil
}

// ReadAnswers fetches every row of the answer table.
func (c *Client) ReadAnswers(ctx context.Context) ([]AnswerRow, error) {
	params := url.Values{}
	params.Set("action", "read")
	params.Set("table", "answer")

	var answers []AnswerRow
	if err := c.do(ctx, params, &answers); err != nil {
		return nil, fmt.Errorf("read answers: %w", err)
	}
	return answers, nil
}

// PendingQuestions returns questions that have no answer row yet, in sheet
// order.
func (c *Client) PendingQuestions(ctx context.Context) ([]Question, error) {
	questions, err := c.ReadQuestions(ctx)
	if err != nil {
		return nil, err
	}
	answers, err := c.ReadAnswers(ctx)
	if err != nil {
		return nil, err
	}

	answered := make(map[string]struct{}, len(answers))
	for _, a := range answers {
		answered[a.ID+"_"+a.TimeStamp] = struct{}{}
	}

	var pending []Question
	for _, q := range questions {
		if q.Text == "" {
			continue
		}
		if _, ok := answered[q.EventID()]; ok {
			continue
		}
		pending = append(pending, q)
	}
	return pending, nil
}

// WriteAnswer appends a row to the answer table.
func (c *Client) WriteAnswer(ctx context.Context, row AnswerRow) error {
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}

	params := url.Values{}
	params.Set("action", "insert")
	params.Set("table", "answer")
	params.Set("data", string(data))

	if err := c.do(ctx, params, nil); err != nil {
		return fmt.Errorf("write answer: %w", err)
	}
	return nil
}
