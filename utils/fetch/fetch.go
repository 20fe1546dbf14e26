package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"

	"haruki-hca-codec/utils"
	harukiLogger "haruki-hca-codec/utils/logger"
)

var logger = harukiLogger.NewLogger("HarukiFetcher", "INFO", nil)

const maxAttempts = 4

var retryDelay = time.Second

type Client struct {
	client  *resty.Client
	noCache bool
}

// NewClient builds a downloader. proxy may be empty. With noCache set a
// timestamp query is appended to every URL.
func NewClient(proxy string, noCache bool) *Client {
	client := resty.New()
	client.
		SetRetryCount(0).
		SetTransport(&http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: 16,
			IdleConnTimeout:     30 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		}).
		SetHeader("Accept", "*/*").
		SetHeader("User-Agent", "HarukiHCACodec/1.0")
	if proxy != "" {
		client.SetProxy(proxy)
	}
	return &Client{client: client, noCache: noCache}
}

func (c *Client) url(url string) string {
	if c.noCache {
		return url + utils.GetTimeArg()
	}
	return url
}

func (c *Client) request(ctx context.Context, url string, output string) (*resty.Response, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		req := c.client.R().SetContext(ctx)
		if output != "" {
			req.SetOutput(output)
		}
		resp, err := req.Get(c.url(url))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			logger.Warnf("request to %s failed (attempt %d): %v", url, attempt+1, err)
			time.Sleep(retryDelay)
			continue
		}
		if resp.StatusCode() >= 500 {
			lastErr = fmt.Errorf("server error: %s", resp.Status())
			logger.Warnf("request to %s returned %d (attempt %d)", url, resp.StatusCode(), attempt+1)
			time.Sleep(retryDelay)
			continue
		}
		if resp.IsError() {
			return nil, fmt.Errorf("request to %s failed: %s", url, resp.Status())
		}
		return resp, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("request failed after retries")
}

// Fetch downloads url into memory.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.request(ctx, url, "")
	if err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

// Download saves url to dest, creating its directory. A failed download
// leaves no file behind.
func (c *Client) Download(ctx context.Context, url string, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", dest, err)
	}
	if _, err := c.request(ctx, url, dest); err != nil {
		_ = os.Remove(dest)
		return fmt.Errorf("failed to download %s: %w", url, err)
	}
	logger.Debugf("downloaded %s to %s", url, dest)
	return nil
}

// Download fetches url to dest with a default client.
func Download(ctx context.Context, url string, dest string) error {
	return NewClient("", false).Download(ctx, url, dest)
}
