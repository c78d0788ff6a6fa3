package raindrop

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/thomaskoefod/hnreadr/pkg/models"
)

const raindropAPIURL = "https://api.raindrop.io/rest/v1"

var ErrNoToken = errors.New("raindrop api token not configured")

type Client struct {
	apiToken string
	baseURL  string
	client   *http.Client
}

type RaindropItem struct {
	Link    string   `json:"link"`
	Title   string   `json:"title"`
	Excerpt string   `json:"excerpt,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

type RaindropResponse struct {
	Result       bool          `json:"result"`
	Item         *RaindropItem `json:"item,omitempty"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
}

func NewClient(apiToken string) *Client {
	return &Client{
		apiToken: apiToken,
		baseURL:  raindropAPIURL,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// WithBaseURL points the client at another server, for tests.
func (c *Client) WithBaseURL(u string) *Client {
	c.baseURL = strings.TrimRight(u, "/")
	return c
}

func (c *Client) Enabled() bool {
	return c != nil && c.apiToken != ""
}

// SaveStory bookmarks a story. Self posts without a URL are saved as their
// discussion page.
func (c *Client) SaveStory(ctx context.Context, story *models.Story) error {
	if !c.Enabled() {
		return ErrNoToken
	}
	link := story.URL
	if link == "" {
		link = models.DiscussionURL(story.ID)
	}
	item := RaindropItem{
		Link:    link,
		Title:   story.Title,
		Excerpt: fmt.Sprintf("%d points by %s | %s", story.Score, story.By, models.DiscussionURL(story.ID)),
		Tags:    []string{"hackernews"},
	}

	jsonData, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshaling story %d: %w", story.ID, err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/raindrop", bytes.NewReader(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request to Raindrop: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	var result RaindropResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if !result.Result {
		return fmt.Errorf("raindrop API returned failure: %s", result.ErrorMessage)
	}
	return nil
}

// TestConnection checks the API token with a cheap authenticated request.
func (c *Client) TestConnection(ctx context.Context) error {
	if !c.Enabled() {
		return ErrNoToken
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/user", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request to Raindrop: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	return req, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("raindrop API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
