package models

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeServing(t *testing.T, state string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models/road", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"model_version_status":[{"version":"1","state":"` + state + `"}]}`))
	})
	mux.HandleFunc("/v1/models/road:predict", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Instances []Image `json:"instances"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Instances) != 1 {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"bad instances"}`))
			return
		}
		in := req.Instances[0]
		out := make(Image, len(in))
		for y := range in {
			out[y] = make([][]float32, len(in[y]))
			for x := range in[y] {
				out[y][x] = []float32{in[y][x][0]}
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"predictions": []Image{out}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestTFServingPredict(t *testing.T) {
	srv := fakeServing(t, "AVAILABLE")
	b := NewTFServing(srv.URL+"/", "road", time.Second)
	img := Image{{{0.9, 0, 0}, {0.1, 0, 0}}}
	out, err := b.Predict(context.Background(), img)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, []float32{0.9}, out[0][0])
	assert.Equal(t, []float32{0.1}, out[0][1])
}

func TestTFServingPredictError(t *testing.T) {
	srv := fakeServing(t, "AVAILABLE")
	b := NewTFServing(srv.URL, "road", time.Second)
	_, err := b.Predict(context.Background(), nil)
	assert.ErrorContains(t, err, "bad instances")
}

func TestTFServingHeartbeat(t *testing.T) {
	assert.NoError(t, NewTFServing(fakeServing(t, "AVAILABLE").URL, "road", time.Second).Heartbeat(context.Background()))
	assert.Error(t, NewTFServing(fakeServing(t, "LOADING").URL, "road", time.Second).Heartbeat(context.Background()))
	assert.Error(t, NewTFServing(fakeServing(t, "AVAILABLE").URL, "tree", time.Second).Heartbeat(context.Background()))
}

type stubBackend struct {
	mu    sync.Mutex
	hbErr error
	calls int
}

func (s *stubBackend) Name() string { return "stub" }

func (s *stubBackend) Predict(ctx context.Context, img Image) (Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return img, nil
}

func (s *stubBackend) Heartbeat(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hbErr
}

func (s *stubBackend) setErr(err error) {
	s.mu.Lock()
	s.hbErr = err
	s.mu.Unlock()
}

func TestManagerRoutesAndHealth(t *testing.T) {
	m := NewManager()
	road := &stubBackend{}
	tree := &stubBackend{hbErr: errors.New("down")}
	m.Register("road", road)
	m.Register("tree", tree)
	assert.Equal(t, []string{"road", "tree"}, m.Roles())
	assert.True(t, m.Healthy("tree"))

	m.Heartbeat(context.Background())
	assert.Equal(t, map[string]bool{"road": true, "tree": false}, m.Status())

	_, err := m.Predict(context.Background(), "road", Image{})
	require.NoError(t, err)
	assert.Equal(t, 1, road.calls)

	_, err = m.Predict(context.Background(), "tree", Image{})
	assert.ErrorIs(t, err, ErrModelUnavailable)
	assert.Equal(t, 0, tree.calls)

	_, err = m.Predict(context.Background(), "water", Image{})
	assert.ErrorIs(t, err, ErrUnknownRole)
	assert.False(t, m.Healthy("water"))
}

func TestManagerStartStopsWithContext(t *testing.T) {
	m := NewManager()
	b := &stubBackend{hbErr: errors.New("down")}
	m.Register("road", b)
	m.SetHeartbeatInterval(10 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	assert.False(t, m.Healthy("road"))
	b.setErr(nil)
	assert.Eventually(t, func() bool { return m.Healthy("road") }, time.Second, 10*time.Millisecond)
	cancel()
}
