package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxrag/apps/ingestor/internal/app"
	"taxrag/apps/ingestor/internal/testutils"
)

func TestVersionCommand(t *testing.T) {
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.True(t, strings.HasPrefix(out.String(), "ingestor version "))
}

func TestSmoke_Startup(t *testing.T) {
	suite := testutils.NewIntegrationSuite(t)
	suite.Setup()
	defer suite.Teardown()

	cfg := suite.GetAppConfig()
	cfg.ServerPort = 18081

	_, b, _, _ := runtime.Caller(0)
	basepath := filepath.Dir(b)
	cfg.MigrationPath = fmt.Sprintf("file://%s/migrations", basepath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps, err := app.Bootstrap(ctx, cfg)
	require.NoError(t, err)
	defer deps.Close()

	a, err := app.New(cfg, deps)
	require.NoError(t, err)

	go func() {
		if err := serve(ctx, cfg, a); err != nil {
			t.Logf("app run exited: %v", err)
		}
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://localhost:18081/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 10*time.Second, 500*time.Millisecond)

	// Nothing seeded: the batch is a no-op but still answers 200.
	resp, err := http.Post("http://localhost:18081/ingest/run?limit=3", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
