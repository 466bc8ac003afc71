/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

// Package rest provides methods and functions to communicate with the
// provisioning agent using its REST API.
package rest

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"
)

// Endpoints of the provisioning agent REST API.
const (
	ProvisionEndpoint       = "/provision"
	ProvisionVerifyEndpoint = "/provision/verify"
	StatusEndpoint          = "/status"
	RMATokenEndpoint        = "/rma-token"
	EventLogEndpoint        = "/eventlog"
)

// JSend response fields.
const (
	dataField    = "data"
	messageField = "message"
)

// Error is a non-success response of the agent.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("agent returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("agent returned %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// Retryable reports whether the request may succeed when repeated. Client
// errors are permanent: a device in the wrong lifecycle state does not
// become eligible by asking again.
func (e *Error) Retryable() bool {
	return e.StatusCode >= http.StatusInternalServerError
}

// Client is a REST client for the provisioning agent.
type Client struct {
	client *http.Client
	host   string
}

// NewClient creates a Client for the agent at host.
func NewClient(host string) *Client {
	return &Client{
		client: &http.Client{},
		host:   host,
	}
}

// Get sends a GET request and returns the data field of the response.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// Post sends a POST request and returns the data field of the response.
func (c *Client) Post(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// GetRaw sends a GET request and returns the response body verbatim. Used
// for endpoints that do not wrap their payload in a JSend envelope.
func (c *Client) GetRaw(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{StatusCode: resp.StatusCode}
	}
	return body, nil
}

func (c *Client) url(path string) string {
	return "http://" + c.host + path
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(body, messageField).String()
		if msg == "" {
			// JSend failure responses carry their payload in the data
			// field.
			msg = gjson.GetBytes(body, dataField).String()
		}
		return nil, &Error{StatusCode: resp.StatusCode, Message: msg}
	}

	data := gjson.GetBytes(body, dataField)
	return []byte(data.Raw), nil
}
