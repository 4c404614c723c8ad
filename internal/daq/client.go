// Package daq drives the remote acquisition instrument's HTTP control plane.
//
// Every call is a single attempt. A failure is logged and returned wrapped
// in ErrRemoteControl; retry policy belongs to the caller.
package daq

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/rjboer/meaviz/internal/logging"
)

// ErrRemoteControl marks a failed control call.
var ErrRemoteControl = eris.New("remote control failure")

// Client talks to the DAQ server, e.g. "http://10.20.92.130:8080".
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Logger  logging.Logger
}

// New builds a client with a bounded request timeout.
func New(baseURL string, logger logging.Logger) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
		Logger:  logger,
	}
}

type connectParams struct {
	SampleRate    int `json:"samplerate"`
	SegmentLength int `json:"segmentLength"`
}

// Connect configures the acquisition with the stream layout consumers expect.
func (c *Client) Connect(ctx context.Context, sampleRate, segmentLength int) error {
	body, err := json.Marshal(connectParams{SampleRate: sampleRate, SegmentLength: segmentLength})
	if err != nil {
		return eris.Wrap(err, "encode connect params")
	}
	return c.do(ctx, http.MethodPost, "/DAQ/connect", body)
}

// Start begins acquisition.
func (c *Client) Start(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/DAQ/start", nil)
}

// Stop ends acquisition.
func (c *Client) Stop(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/DAQ/stop", nil)
}

// Initialize connects and then starts, stopping at the first failure.
func (c *Client) Initialize(ctx context.Context, sampleRate, segmentLength int) error {
	if err := c.Connect(ctx, sampleRate, segmentLength); err != nil {
		return err
	}
	return c.Start(ctx)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) error {
	log := c.logger().With(
		logging.Field{Key: "subsystem", Value: "daq"},
		logging.Field{Key: "op", Value: path},
	)
	url := strings.TrimSuffix(c.BaseURL, "/") + path

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return eris.Wrapf(ErrRemoteControl, "create request %s: %v", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		log.Error("DAQ request failed", logging.Field{Key: "err", Value: err})
		return eris.Wrapf(ErrRemoteControl, "%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))

	if resp.StatusCode != http.StatusOK {
		log.Error("DAQ request rejected",
			logging.Field{Key: "status", Value: resp.StatusCode},
			logging.Field{Key: "body", Value: strings.TrimSpace(string(msg))},
		)
		return eris.Wrapf(ErrRemoteControl, "%s %s: status %d", method, path, resp.StatusCode)
	}
	log.Info("DAQ request ok")
	return nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP == nil {
		return http.DefaultClient
	}
	return c.HTTP
}

func (c *Client) logger() logging.Logger {
	if c.Logger == nil {
		return logging.Default()
	}
	return c.Logger
}
