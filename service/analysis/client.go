// Copyright 2026 The Logfan Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"logfan.dev/logfan/record"
)

// HTTPAnalyzer asks a remote JSON endpoint for a diagnosis. The request
// body is the record itself; the response is {"analysis": "..."}.
type HTTPAnalyzer struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
}

// NewHTTPAnalyzer creates an analyzer posting records to endpoint.
func NewHTTPAnalyzer(endpoint, apiKey string) (*HTTPAnalyzer, error) {
	if endpoint == "" {
		return nil, errors.New("analysis service: endpoint is required")
	}
	return &HTTPAnalyzer{Endpoint: endpoint, APIKey: apiKey, Client: http.DefaultClient}, nil
}

// Analyze implements [Analyzer].
func (a *HTTPAnalyzer) Analyze(ctx context.Context, rec *record.Record) (string, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.APIKey)
	}

	client := a.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("analysis endpoint returned %s", resp.Status)
	}

	var out struct {
		Analysis string `json:"analysis"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.Analysis == "" {
		return "", errors.New("analysis endpoint returned an empty diagnosis")
	}
	return out.Analysis, nil
}

var _ Analyzer = (*HTTPAnalyzer)(nil)
