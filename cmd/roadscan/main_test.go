package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadscan-api/internal/service"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

const extendReq = `{
  "road_polygons": [{"type":"Polygon","coordinates":[[[0,0],[10,0],[10,10],[0,10],[0,0]]]}],
  "tree_polygons": [
    {"type":"Polygon","coordinates":[[[11,0],[12,0],[12,1],[11,1],[11,0]]]},
    {"type":"Polygon","coordinates":[[[50,50],[51,50],[51,51],[50,51],[50,50]]]}
  ],
  "extension_width": 2
}`

func TestExtendFromFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "req.json")
	require.NoError(t, os.WriteFile(p, []byte(extendReq), 0o644))

	out, err := run(t, "", "extend", p)
	require.NoError(t, err)
	var res service.ExtendResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 1, res.TreeCount)
	assert.Equal(t, 1, res.UniqueTreeCount)
	assert.Len(t, res.ExtendedPolygons, 1)
}

func TestExtendStdinWidthOverride(t *testing.T) {
	out, err := run(t, extendReq, "extend", "-", "--width", "60")
	require.NoError(t, err)
	var res service.ExtendResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 2, res.TreeCount)
}

func TestExtendRequiresWidth(t *testing.T) {
	_, err := run(t, `{"road_polygons":[],"tree_polygons":[]}`, "extend", "-")
	assert.ErrorContains(t, err, "extension_width")
}

func TestExtendAcceptsStringWidth(t *testing.T) {
	req := strings.Replace(extendReq, `"extension_width": 2`, `"extension_width": "60"`, 1)
	require.NotEqual(t, extendReq, req)
	out, err := run(t, req, "extend", "-")
	require.NoError(t, err)
	var res service.ExtendResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 2, res.TreeCount)

	_, err = run(t, strings.Replace(extendReq, `"extension_width": 2`, `"extension_width": "wide"`, 1), "extend", "-")
	assert.ErrorContains(t, err, "extension_width must be a number")
}

func TestHealthCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/tree_unet_resnet_finetune") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"model_version_status":[{"version":"1","state":"AVAILABLE"}]}`))
	}))
	defer srv.Close()
	t.Setenv("MODEL_SERVER_URL", srv.URL)
	t.Setenv("MODELS_FILE", "")

	out, err := run(t, "", "health")
	assert.ErrorContains(t, err, "1 model backend(s) unavailable")
	assert.Contains(t, out, "road\troad_unet_resnet\tok")
	assert.Contains(t, out, "tree\ttree_unet_resnet_finetune\tdown")
}
