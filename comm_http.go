// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package softcall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPCommunications logs calls to a REST communications store:
//
//	POST {baseURL}/communications/calls
//
// with the CallLogRequest JSON body. Any non 2xx response is a logging
// failure.
type HTTPCommunications struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

type HTTPCommunicationsOption func(c *HTTPCommunications)

// WithHTTPClient overrides the default client (10s total timeout).
func WithHTTPClient(hc *http.Client) HTTPCommunicationsOption {
	return func(c *HTTPCommunications) {
		c.httpClient = hc
	}
}

// WithAuthToken sends a bearer token with every request.
func WithAuthToken(token string) HTTPCommunicationsOption {
	return func(c *HTTPCommunications) {
		c.authToken = token
	}
}

func NewHTTPCommunications(baseURL string, opts ...HTTPCommunicationsOption) *HTTPCommunications {
	c := &HTTPCommunications{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *HTTPCommunications) LogCall(ctx context.Context, logReq CallLogRequest) (CommunicationRecord, error) {
	body, err := json.Marshal(logReq)
	if err != nil {
		return CommunicationRecord{}, fmt.Errorf("encoding log request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/communications/calls", bytes.NewReader(body))
	if err != nil {
		return CommunicationRecord{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	// The store is not assumed idempotent, but give it the chance to be.
	req.Header.Set("Idempotency-Key", logReq.SessionID)
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return CommunicationRecord{}, fmt.Errorf("%w: %v", ErrLoggingFailed, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		// Read a little of the body for diagnostics, then drop it.
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return CommunicationRecord{}, fmt.Errorf("%w: status %d: %s", ErrLoggingFailed, res.StatusCode, strings.TrimSpace(string(msg)))
	}

	var rec CommunicationRecord
	if err := json.NewDecoder(res.Body).Decode(&rec); err != nil {
		return CommunicationRecord{}, fmt.Errorf("%w: decoding record: %v", ErrLoggingFailed, err)
	}
	return rec, nil
}
