package ledger

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/teranos/remit/errors"
	"github.com/teranos/remit/internal/httpclient"
	"github.com/teranos/remit/version"
)

// SignatureHeader carries the base64 ed25519 signature of the request body
const SignatureHeader = "X-Remit-Signature"

// HTTPMoverConfig configures a rail reached over HTTP
type HTTPMoverConfig struct {
	Channel      Channel
	Endpoint     string // base URL; transfers are POSTed to <endpoint>/transfers
	Timeout      time.Duration
	AllowPrivate bool
}

// HTTPMover posts signed transfer instructions to a rail gateway
type HTTPMover struct {
	channel  Channel
	endpoint string
	timeout  time.Duration
	client   *httpclient.SaferClient
}

type transferRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	From           string `json:"from"`
	Identity       string `json:"identity"`
	To             string `json:"to"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	Memo           string `json:"memo,omitempty"`
}

type transferResponse struct {
	ReceiptRef string `json:"receipt_ref"`
	Error      string `json:"error,omitempty"`
}

// NewHTTPMover validates the endpoint and builds the mover
func NewHTTPMover(cfg HTTPMoverConfig) (*HTTPMover, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := httpclient.New(httpclient.Options{Timeout: cfg.Timeout, AllowPrivate: cfg.AllowPrivate})
	if _, err := client.ValidateURL(cfg.Endpoint); err != nil {
		return nil, errors.Wrapf(err, "%s mover endpoint", cfg.Channel)
	}
	return &HTTPMover{
		channel:  cfg.Channel,
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		timeout:  cfg.Timeout,
		client:   client,
	}, nil
}

func (m *HTTPMover) Channel() Channel { return m.channel }

// Execute signs and submits t. HTTP status maps onto the error taxonomy:
// 401/403 unauthorized, other 4xx invalid request, 429 and 5xx unavailable.
func (m *HTTPMover) Execute(ctx context.Context, t Transfer) (Receipt, error) {
	if len(t.SigningKey) != ed25519.SeedSize {
		return Receipt{}, errors.Mark(errors.Newf("signing key has %d bytes, want %d", len(t.SigningKey), ed25519.SeedSize), errors.ErrUnauthorized)
	}

	body, err := json.Marshal(transferRequest{
		IdempotencyKey: t.IdempotencyKey,
		From:           t.PayerAddress,
		Identity:       t.PayerIdentity,
		To:             t.PayeeAddress,
		Amount:         t.Amount.String(),
		Currency:       t.Currency,
		Memo:           t.Memo,
	})
	if err != nil {
		return Receipt{}, errors.Wrap(err, "failed to encode transfer")
	}
	sig := ed25519.Sign(ed25519.NewKeyFromSeed(t.SigningKey), body)

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint+"/transfers", bytes.NewReader(body))
	if err != nil {
		return Receipt{}, errors.Wrap(err, "failed to build transfer request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.Get().UserAgent())
	req.Header.Set("Idempotency-Key", t.IdempotencyKey)
	req.Header.Set(SignatureHeader, base64.StdEncoding.EncodeToString(sig))

	resp, err := m.client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil || (errors.As(err, &netErr) && netErr.Timeout()) {
			return Receipt{}, errors.Mark(errors.Wrapf(err, "%s rail timed out", m.channel), errors.ErrTimeout)
		}
		return Receipt{}, errors.Mark(errors.Wrapf(err, "%s rail unreachable", m.channel), errors.ErrServiceUnavailable)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Receipt{}, errors.Mark(errors.Wrap(err, "failed to read rail response"), errors.ErrServiceUnavailable)
	}

	var out transferResponse
	_ = json.Unmarshal(raw, &out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := errors.WithDetailf(errors.Newf("%s rail rejected transfer: HTTP %d", m.channel, resp.StatusCode), "rail error: %s", out.Error)
		return Receipt{}, errors.Mark(err, statusSentinel(resp.StatusCode))
	}
	if out.ReceiptRef == "" {
		return Receipt{}, errors.Mark(errors.Newf("%s rail returned no receipt", m.channel), errors.ErrServiceUnavailable)
	}

	return Receipt{Ref: out.ReceiptRef, Channel: m.channel}, nil
}

func statusSentinel(code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return errors.ErrUnauthorized
	case code == http.StatusTooManyRequests || code >= 500:
		return errors.ErrServiceUnavailable
	default:
		return errors.ErrInvalidRequest
	}
}
