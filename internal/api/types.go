package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"roadscan-api/internal/shape"
)

var (
	errNoFile       = errors.New("No file uploaded")
	errMissingWidth = errors.New("extension_width is required")
)

// 文档注释：/extend 请求体
// 背景：客户端通常把 /upload 返回的 road_polygons、tree_polygons 原样回传。
// 约束：extension_width 可为数字或数字字符串；字段缺失视为请求错误。
type extendRequest struct {
	RoadPolygons   []shape.Object  `json:"road_polygons"`
	TreePolygons   []shape.Object  `json:"tree_polygons"`
	ExtensionWidth json.RawMessage `json:"extension_width"`
}

type errorBody struct {
	Error string `json:"error"`
}

type healthBody struct {
	Status string          `json:"status"`
	Models map[string]bool `json:"models"`
}

// ParseWidth：解析 JSON 中的外扩宽度，接受 12.5 与 "12.5" 两种写法
func ParseWidth(raw json.RawMessage) (float64, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, errMissingWidth
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return 0, fmt.Errorf("extension_width: %w", err)
		}
		return parseWidthString(str)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, fmt.Errorf("extension_width must be a number")
	}
	return f, nil
}

func parseWidthString(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("extension_width must be a number, got %q", s)
	}
	return f, nil
}

// formWidth：表单字段为空表示不做树木计数
func formWidth(s string) (*float64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	f, err := parseWidthString(s)
	if err != nil {
		return nil, err
	}
	return &f, nil
}
