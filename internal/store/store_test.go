package store

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadscan-api/internal/migrate"
)

// 需要真实 PostgreSQL：设置 PG_TEST_DSN 后运行
func openTestDB(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("PG_TEST_DSN")
	if dsn == "" {
		t.Skip("PG_TEST_DSN not set")
	}
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migrate.EnsureSchema(context.Background(), db))
	return AttachDB(db)
}

func TestSaveAndGetAnalysis(t *testing.T) {
	st := openTestDB(t)
	ctx := context.Background()
	w := 3.0
	rec := &Record{
		ID:             uuid.New(),
		Filename:       "scene.tif",
		SHA256:         "abc",
		CRS:            "EPSG:32633",
		RoadCount:      2,
		TreeCount:      5,
		ExtensionWidth: &w,
		Result:         []byte(`{"road_polygons":[]}`),
	}
	require.NoError(t, st.SaveAnalysis(ctx, rec))
	assert.False(t, rec.CreatedAt.IsZero())
	t.Cleanup(func() { _, _ = st.DB().ExecContext(ctx, `DELETE FROM _rs_analyses WHERE id=$1`, rec.ID) })

	got, err := st.GetAnalysis(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "scene.tif", got.Filename)
	assert.Equal(t, 5, got.TreeCount)
	require.NotNil(t, got.ExtensionWidth)
	assert.Equal(t, 3.0, *got.ExtensionWidth)
	assert.JSONEq(t, `{"road_polygons":[]}`, string(got.Result))

	totals, err := st.GetTotals(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, totals.Total, int64(1))
	assert.GreaterOrEqual(t, totals.Today, int64(1))
}

func TestGetAnalysisNotFound(t *testing.T) {
	st := openTestDB(t)
	_, err := st.GetAnalysis(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIncrStats(t *testing.T) {
	st := openTestDB(t)
	assert.NoError(t, st.IncrStats(context.Background(), "extend"))
}

func TestPruneAnalyses(t *testing.T) {
	st := openTestDB(t)
	ctx := context.Background()
	rec := &Record{ID: uuid.New(), Filename: "old.tif", SHA256: "def", Result: []byte(`{}`)}
	require.NoError(t, st.SaveAnalysis(ctx, rec))

	n, err := st.PruneAnalyses(ctx, rec.CreatedAt.Add(time.Second))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))
	_, err = st.GetAnalysis(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
