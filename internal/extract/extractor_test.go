package extract_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxrag/apps/ingestor/internal/extract"
)

const irsPage = `<html><body>
<nav><p>Skip me</p></nav>
<div class="field field--name-body">
  <p>  Topic 101 covers IRS services.  </p>
  <p>
    Free tax help is available.
  </p>
</div>
</body></html>`

const craPage = `<html><body>
<header><p>Canada.ca</p></header>
<main>
  <h1>Tax credits</h1>
  <p>Benefits and credits.</p>
  <p>  Apply online. </p>
</main>
</body></html>`

func pageServer(t *testing.T, pages map[string]string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestIRS_Extract(t *testing.T) {
	ts := pageServer(t, map[string]string{
		"/taxtopics/tc101": irsPage,
		"/no-body":         `<html><body><p>Only nav text</p></body></html>`,
	})
	ex := extract.NewIRS(ts.URL, extract.NewFetcher(time.Second, "", 0))
	ctx := context.Background()

	t.Run("Body Region", func(t *testing.T) {
		text, err := ex.Extract(ctx, "/taxtopics/tc101")
		require.NoError(t, err)
		assert.Equal(t, "Topic 101 covers IRS services.\nFree tax help is available.", text)
	})

	t.Run("Missing Region Is Empty Not Error", func(t *testing.T) {
		text, err := ex.Extract(ctx, "/no-body")
		require.NoError(t, err)
		assert.Empty(t, text)
	})

	t.Run("Fetch Failure Is Error", func(t *testing.T) {
		text, err := ex.Extract(ctx, "/missing")
		assert.ErrorIs(t, err, extract.ErrFetch)
		assert.Empty(t, text)
	})

	assert.Equal(t, extract.SourceIRS, ex.Source())
}

func TestCRA_Extract(t *testing.T) {
	ts := pageServer(t, map[string]string{"/en/revenue-agency.html": craPage})
	ex := extract.NewCRA(ts.URL+"/", extract.NewFetcher(time.Second, "", 0))

	text, err := ex.Extract(context.Background(), "/en/revenue-agency.html")
	require.NoError(t, err)
	assert.Equal(t, "Benefits and credits.\nApply online.", text)
	assert.Equal(t, extract.SourceCRA, ex.Source())
	assert.Equal(t, ts.URL, ex.BaseURL())
}
