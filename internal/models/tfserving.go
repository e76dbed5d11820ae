package models

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

// 文档注释：TensorFlow Serving REST 后端
// 背景：Keras 分割模型由独立的模型服务加载，本服务只通过 REST 契约调用。
// 约束：predict 走 POST {url}/v1/models/{name}:predict；心跳走 GET {url}/v1/models/{name}，
// 至少一个版本处于 AVAILABLE 视为健康。
type TFServing struct {
	name   string
	url    string
	client *http.Client
}

func NewTFServing(url, name string, timeout time.Duration) *TFServing {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &TFServing{name: name, url: strings.TrimRight(url, "/"), client: &http.Client{Timeout: timeout}}
}

func (s *TFServing) Name() string { return s.name }

type predictRequest struct {
	Instances []Image `json:"instances"`
}

type predictResponse struct {
	Predictions []Image `json:"predictions"`
	Error       string  `json:"error"`
}

func (s *TFServing) Predict(ctx context.Context, img Image) (Image, error) {
	body, err := json.Marshal(predictRequest{Instances: []Image{img}})
	if err != nil {
		return nil, fmt.Errorf("encode instances: %w", err)
	}
	u := s.url + "/v1/models/" + s.name + ":predict"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || out.Error != "" {
		return nil, fmt.Errorf("predict %s failed with status %d: %s", s.name, resp.StatusCode, out.Error)
	}
	if len(out.Predictions) != 1 {
		return nil, fmt.Errorf("predict %s: expected 1 prediction, got %d", s.name, len(out.Predictions))
	}
	return out.Predictions[0], nil
}

type modelStatus struct {
	ModelVersionStatus []struct {
		Version string `json:"version"`
		State   string `json:"state"`
	} `json:"model_version_status"`
}

func (s *TFServing) Heartbeat(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url+"/v1/models/"+s.name, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("model %s unhealthy: status %d", s.name, resp.StatusCode)
	}
	var st modelStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return fmt.Errorf("decode model status: %w", err)
	}
	for _, v := range st.ModelVersionStatus {
		if v.State == "AVAILABLE" {
			return nil
		}
	}
	return fmt.Errorf("model %s has no AVAILABLE version", s.name)
}
