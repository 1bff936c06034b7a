package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avigil/guardlab/internal/domain"
)

// apiClient is a thin client for the guardlab REST API.
type apiClient struct {
	base string
	key  string
	http *http.Client
}

func newAPIClient() *apiClient {
	return &apiClient{
		base: strings.TrimRight(serverURL, "/"),
		key:  apiKey,
		// Provisioning waits for container health, so give it room
		http: &http.Client{Timeout: 2 * time.Minute},
	}
}

// doRaw performs a request and returns the status code and body.
func (c *apiClient) doRaw(method, path string, body []byte) (int, []byte, error) {
	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequest(method, c.base+path, reqBody)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.key != "" {
		req.Header.Set("Authorization", "Bearer "+c.key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, data, nil
}

// do performs a request, decodes a success body into out, and turns error
// responses into errors carrying the server's message.
func (c *apiClient) do(method, path string, body, out any) error {
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	status, respBody, err := c.doRaw(method, path, data)
	if err != nil {
		return err
	}
	if status >= 400 {
		return apiError(status, respBody)
	}
	if out != nil && len(respBody) > 0 {
		return json.Unmarshal(respBody, out)
	}
	return nil
}

// apiError extracts the server's error envelope when there is one.
func apiError(status int, body []byte) error {
	var envelope domain.StandardErrorResponse
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
		return fmt.Errorf("%s (%s)", envelope.Error.Message, envelope.Error.Code)
	}
	return fmt.Errorf("server returned status %d", status)
}

// resolveEnvironment looks an environment up by name first, then by ID, so
// commands accept either.
func (c *apiClient) resolveEnvironment(nameOrID string) (*domain.Environment, error) {
	var envs []*domain.Environment
	err := c.do("GET", "/api/v1/environments?name="+url.QueryEscape(nameOrID), nil, &envs)
	if err == nil && len(envs) == 1 {
		return envs[0], nil
	}

	var env domain.Environment
	if err := c.do("GET", "/api/v1/environments/"+nameOrID+"/", nil, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
