package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang/snappy"

	"github.com/roach88/rowsync/internal/ir"
)

// DefaultTimeout bounds one HTTP request.
const DefaultTimeout = 30 * time.Second

// DefaultMaxBody bounds a response body.
const DefaultMaxBody = 256 << 20

// Client is a replica.Peer reached over HTTP.
type Client struct {
	BaseURL string

	// Compress asks the server for snappy-compressed batches.
	Compress bool

	// Limit caps each batch; 0 leaves it to the server.
	Limit int

	// MaxBody bounds a response body as received; 0 means DefaultMaxBody.
	// Larger responses fail instead of being cut.
	MaxBody int64

	HTTP *http.Client
}

// NewClient returns a client for the peer at baseURL.
func NewClient(baseURL string, compress bool, limit int) *Client {
	return &Client{
		BaseURL:  strings.TrimSuffix(baseURL, "/"),
		Compress: compress,
		Limit:    limit,
		HTTP:     &http.Client{Timeout: DefaultTimeout},
	}
}

// Info fetches the peer's site and head.
func (c *Client) Info(ctx context.Context) (SiteInfo, error) {
	var info SiteInfo
	body, err := c.get(ctx, ir.ZeroSite, "/v1/site", nil)
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return info, ir.NewTransportError(ir.ZeroSite, "decode site info from "+c.BaseURL, err)
	}
	return info, nil
}

// Site implements replica.Peer.
func (c *Client) Site(ctx context.Context) (ir.SiteID, error) {
	info, err := c.Info(ctx)
	if err != nil {
		return ir.ZeroSite, err
	}
	site, err := ir.ParseSiteID(info.Site)
	if err != nil {
		return ir.ZeroSite, ir.NewTransportError(ir.ZeroSite, "site info from "+c.BaseURL, err)
	}
	return site, nil
}

// Changes implements replica.Peer.
func (c *Client) Changes(ctx context.Context, requester ir.SiteID, floor int64) (ir.Batch, error) {
	q := url.Values{}
	q.Set("site", requester.String())
	q.Set("since", strconv.FormatInt(floor, 10))
	if c.Limit > 0 {
		q.Set("limit", strconv.Itoa(c.Limit))
	}

	body, err := c.get(ctx, ir.ZeroSite, "/v1/changes", q)
	if err != nil {
		return ir.Batch{}, err
	}
	var batch ir.Batch
	if err := json.Unmarshal(body, &batch); err != nil {
		return ir.Batch{}, ir.NewTransportError(ir.ZeroSite, "decode batch from "+c.BaseURL, err)
	}
	return batch, nil
}

func (c *Client) get(ctx context.Context, site ir.SiteID, path string, q url.Values) ([]byte, error) {
	u := c.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, ir.NewTransportError(site, "build request", err)
	}
	if c.Compress {
		req.Header.Set("Accept-Encoding", EncodingSnappy)
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, ir.NewTransportError(site, "GET "+u, err)
	}
	defer resp.Body.Close()

	limit := c.MaxBody
	if limit <= 0 {
		limit = DefaultMaxBody
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, ir.NewTransportError(site, "read "+u, err)
	}
	if int64(len(body)) > limit {
		return nil, ir.NewTransportError(site,
			fmt.Sprintf("response from %s too large: over %d bytes", c.BaseURL, limit), nil)
	}

	if resp.Header.Get("Content-Encoding") == EncodingSnappy {
		decoded, err := snappy.Decode(nil, body)
		if err != nil {
			return nil, ir.NewTransportError(site, "snappy decode "+u, err)
		}
		body = decoded
	}

	if resp.StatusCode != http.StatusOK {
		var e ErrorBody
		if json.Unmarshal(body, &e) == nil && e.Code != "" {
			return nil, ir.NewTransportError(site, fmt.Sprintf("GET %s: %d %s", u, resp.StatusCode, e.Code), fmt.Errorf("%s", e.Message))
		}
		return nil, ir.NewTransportError(site, fmt.Sprintf("GET %s: status %d", u, resp.StatusCode), nil)
	}
	return body, nil
}
