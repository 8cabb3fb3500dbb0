// Package transport adapts the chat service's REST API into the thin
// block-storage primitive the filesystem builds on: post a block, walk a
// reply chain backward to enumerate it, and fetch an individual block's
// bytes from the CDN.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const blockFilename = "block.bin"

// RequestsTotal counts outcomes of every call made against the chat
// service, labeled by operation (post, get_chain, fetch) and success.
var RequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "transport_requests_total",
		Help: "The number of requests made against the chat service transport.",
	},
	[]string{"operation", "success"},
)

var httpClient = &http.Client{
	Transport: &http.Transport{ // copied from net/http.DefaultTransport
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	},
	Timeout: 60 * time.Second,
}

// ErrRequestFailed is returned when the chat service answers a request with
// a non-2xx status.
type ErrRequestFailed struct {
	Status int
	Body   string
}

func (e *ErrRequestFailed) Error() string {
	return fmt.Sprintf("transport: request failed: status=%d body=%s", e.Status, e.Body)
}

// Client talks to a chat service's REST API and CDN on behalf of a single
// bot identity.
type Client struct {
	apiURL string
	cdnURL string
	token  string
}

// New returns a Client that authenticates with token against apiURL/cdnURL.
func New(apiURL, cdnURL, token string) *Client {
	return &Client{apiURL: apiURL, cdnURL: cdnURL, token: token}
}

func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)
	req.Header.Set("Authorization", "Bot "+c.token)
	req.Header.Set("User-Agent", "discfs (+https://github.com/sqooid/discfs, 1)")
	return httpClient.Do(req)
}

type messageUpload struct {
	ID string `json:"id"`
}

type reference struct {
	MessageID string `json:"message_id"`
}

type attachment struct {
	ID string `json:"id"`
}

type messageDownload struct {
	ID                string           `json:"id"`
	Attachments       []attachment     `json:"attachments"`
	MessageReference  *reference       `json:"message_reference"`
	ReferencedMessage *messageDownload `json:"referenced_message"`
}

// Post uploads block as a single-attachment message in channel, optionally
// replying to replyTo so the chat service links the two messages together.
// It returns the id of the newly created message.
func (c *Client) Post(ctx context.Context, channel string, block []byte, replyTo string) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	part, err := w.CreateFormFile("files[0]", blockFilename)
	if err != nil {
		RequestsTotal.WithLabelValues("post", "false").Inc()
		return "", fmt.Errorf("transport: post: %w", err)
	}
	if _, err := part.Write(block); err != nil {
		RequestsTotal.WithLabelValues("post", "false").Inc()
		return "", fmt.Errorf("transport: post: %w", err)
	}

	if replyTo != "" {
		payload, err := json.Marshal(map[string]any{
			"message_reference": map[string]string{"message_id": replyTo},
		})
		if err != nil {
			RequestsTotal.WithLabelValues("post", "false").Inc()
			return "", fmt.Errorf("transport: post: %w", err)
		}
		if err := w.WriteField("payload_json", string(payload)); err != nil {
			RequestsTotal.WithLabelValues("post", "false").Inc()
			return "", fmt.Errorf("transport: post: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		RequestsTotal.WithLabelValues("post", "false").Inc()
		return "", fmt.Errorf("transport: post: %w", err)
	}

	url := fmt.Sprintf("%s/channels/%s/messages", c.apiURL, channel)
	req, err := http.NewRequest(http.MethodPost, url, &body)
	if err != nil {
		RequestsTotal.WithLabelValues("post", "false").Inc()
		return "", fmt.Errorf("transport: post: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.do(ctx, req)
	if err != nil {
		RequestsTotal.WithLabelValues("post", "false").Inc()
		return "", fmt.Errorf("transport: post: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		RequestsTotal.WithLabelValues("post", "false").Inc()
		return "", &ErrRequestFailed{Status: resp.StatusCode, Body: string(respBody)}
	}

	var upload messageUpload
	if err := json.Unmarshal(respBody, &upload); err != nil {
		RequestsTotal.WithLabelValues("post", "false").Inc()
		return "", fmt.Errorf("transport: post: %w", err)
	}

	RequestsTotal.WithLabelValues("post", "true").Inc()
	return upload.ID, nil
}

func (c *Client) getMessage(ctx context.Context, channel, id string) (*messageDownload, error) {
	url := fmt.Sprintf("%s/channels/%s/messages/%s", c.apiURL, channel, id)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ErrRequestFailed{Status: resp.StatusCode, Body: string(body)}
	}

	var msg messageDownload
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetChain walks the reply chain backward from headID and returns the
// attachment ids it collects, in head-to-tail upload order (oldest first).
// Each message carries at most one attachment; messages are linked via
// message_reference, and the inlined referenced_message often resolves two
// attachment ids per round trip.
func (c *Client) GetChain(ctx context.Context, channel, headID string) ([]string, error) {
	var reverse []string

	nextID := headID
	for nextID != "" {
		msg, err := c.getMessage(ctx, channel, nextID)
		if err != nil {
			RequestsTotal.WithLabelValues("get_chain", "false").Inc()
			return nil, fmt.Errorf("transport: get chain: %w", err)
		}

		if len(msg.Attachments) > 0 {
			reverse = append(reverse, msg.Attachments[0].ID)
		}

		if msg.ReferencedMessage != nil {
			if len(msg.ReferencedMessage.Attachments) > 0 {
				reverse = append(reverse, msg.ReferencedMessage.Attachments[0].ID)
			}
			if msg.ReferencedMessage.MessageReference != nil {
				nextID = msg.ReferencedMessage.MessageReference.MessageID
			} else {
				nextID = ""
			}
		} else if msg.MessageReference != nil {
			nextID = msg.MessageReference.MessageID
		} else {
			nextID = ""
		}
	}

	RequestsTotal.WithLabelValues("get_chain", "true").Inc()

	chain := make([]string, len(reverse))
	for i, id := range reverse {
		chain[len(reverse)-1-i] = id
	}
	return chain, nil
}

// Fetch downloads the attachment identified by attachmentID from the CDN,
// clearing buf and appending the downloaded bytes to it.
func (c *Client) Fetch(ctx context.Context, channel, attachmentID string, buf *bytes.Buffer) error {
	url := fmt.Sprintf("%s/%s/%s/%s", c.cdnURL, channel, attachmentID, blockFilename)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		RequestsTotal.WithLabelValues("fetch", "false").Inc()
		return fmt.Errorf("transport: fetch: %w", err)
	}

	resp, err := c.do(ctx, req)
	if err != nil {
		RequestsTotal.WithLabelValues("fetch", "false").Inc()
		return fmt.Errorf("transport: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		RequestsTotal.WithLabelValues("fetch", "false").Inc()
		return &ErrRequestFailed{Status: resp.StatusCode, Body: string(body)}
	}

	buf.Reset()
	if _, err := io.Copy(buf, resp.Body); err != nil {
		RequestsTotal.WithLabelValues("fetch", "false").Inc()
		return fmt.Errorf("transport: fetch: %w", err)
	}

	RequestsTotal.WithLabelValues("fetch", "true").Inc()
	return nil
}

// ContentLimit is the maximum number of bytes the chat service accepts in a
// single attachment (25 MiB).
const ContentLimit = 25 * 1024 * 1024

// BlockSize is the largest plaintext chunk that still fits under
// ContentLimit once AEAD overhead (tag + nonce) is added.
func BlockSize(overhead int) int {
	return ContentLimit - overhead
}
