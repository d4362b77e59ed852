package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"callbridge/internal/config"
	"callbridge/pkg/logger"

	"github.com/klauspost/compress/gzip"
)

var (
	ErrMalformedEndpoint = errors.New("push: malformed device endpoint token")
	ErrDelivery          = errors.New("push: delivery failed")
)

// gzipThreshold is the request size above which bodies are compressed.
const gzipThreshold = 1024

// Dispatcher delivers messages and reports per-message outcomes. It never
// retries; a failed Result means the device may never learn of the event.
type Dispatcher interface {
	Send(ctx context.Context, msgs ...Message) (Result, error)
}

// Result summarises one Send. Tickets line up with the input messages.
type Result struct {
	Accepted  bool     `json:"accepted"`
	Delivered int      `json:"deliveredCount"`
	Failed    int      `json:"failedCount"`
	Tickets   []Ticket `json:"tickets"`
}

// Recorder observes per-message outcomes, typically for metrics.
type Recorder interface {
	RecordPush(kind Kind, ok bool)
}

// Client speaks the Expo push HTTP API.
type Client struct {
	endpoint    string
	accessToken string
	http        *http.Client
	recorder    Recorder
}

func NewClient(cfg config.PushConfig, rec Recorder) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultPushTimeout
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = config.DefaultPushEndpoint
	}
	return &Client{
		endpoint:    endpoint,
		accessToken: cfg.AccessToken,
		http:        &http.Client{Timeout: timeout},
		recorder:    rec,
	}
}

type sendResponse struct {
	Data   []Ticket `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// Send validates endpoints locally, posts the remainder in one batch and maps
// tickets back onto the input order. Messages whose ticket is missing count as
// failed. The returned error is nil only when every message was delivered.
func (c *Client) Send(ctx context.Context, msgs ...Message) (Result, error) {
	res := Result{Tickets: make([]Ticket, len(msgs))}
	if len(msgs) == 0 {
		res.Accepted = true
		return res, nil
	}

	var (
		outbound []Message
		index    []int
	)
	for i, m := range msgs {
		if !ValidEndpointToken(m.To) {
			res.Tickets[i] = Ticket{Status: "error", Message: ErrMalformedEndpoint.Error()}
			continue
		}
		outbound = append(outbound, m)
		index = append(index, i)
	}

	var sendErr error
	if len(outbound) > 0 {
		tickets, err := c.post(ctx, outbound)
		if err != nil {
			sendErr = err
		}
		for j, i := range index {
			switch {
			case err != nil:
				res.Tickets[i] = Ticket{Status: "error", Message: err.Error()}
			case j < len(tickets):
				res.Tickets[i] = tickets[j]
			default:
				res.Tickets[i] = Ticket{Status: "error", Message: "no ticket returned"}
			}
		}
	}

	for i, t := range res.Tickets {
		if t.OK() {
			res.Delivered++
		} else {
			res.Failed++
		}
		if c.recorder != nil {
			c.recorder.RecordPush(msgs[i].Kind(), t.OK())
		}
	}
	res.Accepted = res.Failed == 0

	log := logger.From(ctx)
	if res.Accepted {
		log.Debug("push sent", "delivered", res.Delivered)
		return res, nil
	}
	log.Warn("push not fully delivered", "delivered", res.Delivered, "failed", res.Failed, "err", sendErr)

	switch {
	case sendErr != nil:
		return res, sendErr
	case len(outbound) == 0:
		return res, ErrMalformedEndpoint
	default:
		return res, fmt.Errorf("%w: %d of %d messages rejected", ErrDelivery, res.Failed, len(msgs))
	}
}

func (c *Client) post(ctx context.Context, msgs []Message) ([]Ticket, error) {
	raw, err := json.Marshal(msgs)
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %v", ErrDelivery, err)
	}

	body := raw
	compressed := false
	if len(raw) > gzipThreshold {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(raw); err == nil && zw.Close() == nil {
			body = buf.Bytes()
			compressed = true
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if compressed {
		req.Header.Set("Content-Encoding", "gzip")
	}
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	defer resp.Body.Close()

	var out sendResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: status %d: decode response: %v", ErrDelivery, resp.StatusCode, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 || len(out.Errors) > 0 {
		msg := http.StatusText(resp.StatusCode)
		if len(out.Errors) > 0 && out.Errors[0].Message != "" {
			msg = out.Errors[0].Message
		}
		return nil, fmt.Errorf("%w: status %d: %s", ErrDelivery, resp.StatusCode, msg)
	}

	logger.From(ctx).Debug("push api call", "messages", len(msgs), "gzip", compressed, "duration_ms", time.Since(start).Milliseconds())
	return out.Data, nil
}
