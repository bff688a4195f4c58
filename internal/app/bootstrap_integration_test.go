package app_test

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxrag/apps/ingestor/internal/app"
	"taxrag/apps/ingestor/internal/testutils"
)

func TestBootstrap_Integration(t *testing.T) {
	suite := testutils.NewIntegrationSuite(t)
	suite.Setup()
	defer suite.Teardown()

	cfg := suite.GetAppConfig()
	cfg.EnableResultEvents = true

	_, b, _, _ := runtime.Caller(0)
	basepath := filepath.Dir(b)
	cfg.MigrationPath = fmt.Sprintf("file://%s/../../migrations", basepath)

	ctx := context.Background()
	deps, err := app.Bootstrap(ctx, cfg)
	require.NoError(t, err)
	defer deps.Close()

	require.NotNil(t, deps.DB)
	for _, table := range []string{"work_items", "ingestion_runs"} {
		var exists bool
		err = deps.DB.QueryRow("SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = $1)", table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "%s table should exist", table)
	}

	require.NoError(t, deps.Collection.EnsureCollection(ctx))

	require.NotNil(t, deps.NSQProducer)
	assert.NoError(t, deps.NSQProducer.Ping())
}
