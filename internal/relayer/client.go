// Package relayer speaks the relayer's HTTP/JSON job protocol. The client is
// stateless: every call is one request and one response, with no timeout or
// retry of its own.
package relayer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"poolbridge/internal/clienterr"
	"poolbridge/internal/numeral"
)

// LibVersion is reported to the relayer on every request.
const LibVersion = "2.0.2"

const (
	headerSupportID  = "zkbob-support-id"
	headerLibVersion = "zkbob-libjs-version"
	defaultSupportID = "poolbridge-go"
)

type Client struct {
	baseURL    string
	http       *http.Client
	supportID  string
	libVersion string
}

type Option func(*Client)

// WithHTTPClient replaces the default http.Client, e.g. to bound calls or
// instrument the transport.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

func WithSupportID(id string) Option {
	return func(c *Client) {
		if id != "" {
			c.supportID = id
		}
	}
}

func WithLibVersion(v string) Option {
	return func(c *Client) {
		if v != "" {
			c.libVersion = v
		}
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, clienterr.New(clienterr.KindConfiguration, "relayer.New", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, clienterr.Newf(clienterr.KindConfiguration, "relayer.New", "relayer url %q must be absolute http(s)", baseURL)
	}
	c := &Client{
		baseURL:    strings.TrimRight(u.String(), "/"),
		http:       &http.Client{},
		supportID:  defaultSupportID,
		libVersion: LibVersion,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Info returns the relayer's pool snapshot.
func (c *Client) Info(ctx context.Context) (Info, error) {
	const op = "relayer.info"
	raw, err := get[infoResponse](ctx, c, op, "info")
	if err != nil {
		return Info{}, err
	}
	root, err := numeral.ParseField(raw.Root)
	if err != nil {
		return Info{}, clienterr.New(clienterr.KindProtocol, op, fmt.Errorf("root: %w", err))
	}
	optimistic, err := numeral.ParseField(raw.OptimisticRoot)
	if err != nil {
		return Info{}, clienterr.New(clienterr.KindProtocol, op, fmt.Errorf("optimisticRoot: %w", err))
	}
	return Info{
		Root:                 root,
		OptimisticRoot:       optimistic,
		DeltaIndex:           raw.DeltaIndex,
		OptimisticDeltaIndex: raw.OptimisticDeltaIndex,
	}, nil
}

// Fee returns the relayer fee per transaction.
func (c *Client) Fee(ctx context.Context) (uint64, error) {
	const op = "relayer.fee"
	raw, err := get[feeResponse](ctx, c, op, "fee")
	if err != nil {
		return 0, err
	}
	fee, err := strconv.ParseUint(strings.TrimSpace(raw.Fee), 10, 64)
	if err != nil {
		return 0, clienterr.New(clienterr.KindProtocol, op, fmt.Errorf("failed to parse fee: %w", err))
	}
	return fee, nil
}

// Transactions pages through the relayer's encoded transactions, ascending by index.
func (c *Client) Transactions(ctx context.Context, offset, limit uint64) ([]string, error) {
	path := fmt.Sprintf("transactions/v2?limit=%d&offset=%d", limit, offset)
	txs, err := get[[]string](ctx, c, "relayer.transactions", path)
	if err != nil {
		return nil, err
	}
	return txs, nil
}

// SendTransactions submits a batch. The relayer queues the whole batch as one
// job and returns its id.
func (c *Client) SendTransactions(ctx context.Context, batch []TransactionRequest) (string, error) {
	const op = "relayer.sendTransactions"
	if batch == nil {
		batch = []TransactionRequest{}
	}
	res, err := post[sendResponse](ctx, c, op, "sendTransactions", batch)
	if err != nil {
		return "", err
	}
	if res.JobID == "" {
		return "", clienterr.Newf(clienterr.KindProtocol, op, "response carries no job id")
	}
	return res.JobID, nil
}

// Job returns the relayer's current view of a job.
func (c *Client) Job(ctx context.Context, id string) (Job, error) {
	const op = "relayer.job"
	if strings.TrimSpace(id) == "" {
		return Job{}, clienterr.Newf(clienterr.KindConfiguration, op, "job id is required")
	}
	raw, err := get[jobResponse](ctx, c, op, "job/"+url.PathEscape(id))
	if err != nil {
		return Job{}, err
	}
	return decodeJob(op, id, raw)
}

func get[T any](ctx context.Context, c *Client, op, path string) (T, error) {
	var out T
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+path, nil)
	if err != nil {
		return out, clienterr.New(clienterr.KindConfiguration, op, err)
	}
	err = c.do(op, req, &out)
	return out, err
}

func post[T any](ctx context.Context, c *Client, op, path string, body any) (T, error) {
	var out T
	payload, err := json.Marshal(body)
	if err != nil {
		return out, clienterr.New(clienterr.KindProtocol, op, fmt.Errorf("encode request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+path, bytes.NewReader(payload))
	if err != nil {
		return out, clienterr.New(clienterr.KindConfiguration, op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	err = c.do(op, req, &out)
	return out, err
}

// do sends req and decodes a 200 body into out. Every other status becomes a
// service error carrying the raw body text.
func (c *Client) do(op string, req *http.Request, out any) error {
	req.Header.Set(headerSupportID, c.supportID)
	req.Header.Set(headerLibVersion, c.libVersion)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return clienterr.New(clienterr.KindTransport, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return clienterr.New(clienterr.KindProtocol, op, fmt.Errorf("read error body (status %d): %w", resp.StatusCode, err))
		}
		return clienterr.Service(op, resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return clienterr.New(clienterr.KindTransport, op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
