// Package browser provides a client for the headless browser sidecar that
// renders HTML documents to PDF.
package browser

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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-functions/internal/cleanup"
	"github.com/wolfman30/clinic-functions/pkg/logging"
)

var tracer = otel.Tracer("clinic.internal.browser")

const (
	PageFormat = "A4"
	PageMargin = "12mm"

	maxPDFBytes   = 32 << 20
	maxErrorBytes = 300
)

// HealthResponse is the health check response from the sidecar.
type HealthResponse struct {
	Status       string `json:"status"` // ok, degraded, error
	Version      string `json:"version"`
	BrowserReady bool   `json:"browserReady"`
	Uptime       int    `json:"uptime"` // seconds
}

type openContextResponse struct {
	ContextID string `json:"contextId"`
}

// Margin is a page margin in CSS units.
type Margin struct {
	Top    string `json:"top"`
	Right  string `json:"right"`
	Bottom string `json:"bottom"`
	Left   string `json:"left"`
}

type pdfRequest struct {
	HTML            string `json:"html"`
	Format          string `json:"format"`
	Margin          Margin `json:"margin"`
	PrintBackground bool   `json:"printBackground"`
}

// Client is an HTTP client for the browser sidecar service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// ClientOption is a functional option for configuring the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *logging.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithTimeout bounds each sidecar request.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// NewClient creates a new browser sidecar client.
// baseURL should be the sidecar service URL (e.g., "http://localhost:3000").
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logging.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Health checks the health of the browser sidecar.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("browser: create health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("browser: health request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("browser: health check failed with status %d: %s", resp.StatusCode, readError(resp.Body))
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("browser: decode health response: %w", err)
	}

	return &health, nil
}

// IsReady checks if the browser sidecar is ready to accept requests.
func (c *Client) IsReady(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ready", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// RenderPDF renders html as an A4 PDF with 12mm margins. Each call opens
// its own browser context and closes it on every exit path.
func (c *Client) RenderPDF(ctx context.Context, html string) ([]byte, error) {
	if strings.TrimSpace(html) == "" {
		return nil, fmt.Errorf("browser: html is required")
	}
	ctx, span := tracer.Start(ctx, "browser.render_pdf")
	defer span.End()

	contextID, err := c.openContext(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer cleanup.BestEffort(cleanup.Detached(ctx), c.logger, "close browser context", func(ctx context.Context) error {
		return c.closeContext(ctx, contextID)
	}, "context_id", contextID)

	pdf, err := c.printPDF(ctx, contextID, html)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("pdf.bytes", len(pdf)))
	c.logger.Info("pdf rendered", "context_id", contextID, "bytes", len(pdf))
	return pdf, nil
}

func (c *Client) openContext(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/contexts", nil)
	if err != nil {
		return "", fmt.Errorf("browser: create context request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("browser: open context: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("browser: open context failed with status %d: %s", resp.StatusCode, readError(resp.Body))
	}
	var out openContextResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("browser: decode context response: %w", err)
	}
	if out.ContextID == "" {
		return "", fmt.Errorf("browser: sidecar returned no context id")
	}
	return out.ContextID, nil
}

func (c *Client) printPDF(ctx context.Context, contextID, html string) ([]byte, error) {
	body, err := json.Marshal(pdfRequest{
		HTML:            html,
		Format:          PageFormat,
		Margin:          Margin{Top: PageMargin, Right: PageMargin, Bottom: PageMargin, Left: PageMargin},
		PrintBackground: true,
	})
	if err != nil {
		return nil, fmt.Errorf("browser: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.contextURL(contextID)+"/pdf", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("browser: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/pdf")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("browser: render request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("browser: render failed with status %d: %s", resp.StatusCode, readError(resp.Body))
	}
	pdf, err := io.ReadAll(io.LimitReader(resp.Body, maxPDFBytes+1))
	if err != nil {
		return nil, fmt.Errorf("browser: read pdf: %w", err)
	}
	if len(pdf) > maxPDFBytes {
		return nil, fmt.Errorf("browser: pdf exceeds %d bytes", maxPDFBytes)
	}
	if len(pdf) == 0 {
		return nil, fmt.Errorf("browser: sidecar returned an empty pdf")
	}
	return pdf, nil
}

func (c *Client) closeContext(ctx context.Context, contextID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.contextURL(contextID), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("browser: close context returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) contextURL(contextID string) string {
	return c.baseURL + "/api/v1/contexts/" + url.PathEscape(contextID)
}

func readError(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBytes))
	return strings.TrimSpace(string(b))
}
