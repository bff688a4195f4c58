package run_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"taxrag/apps/ingestor/features/run"
)

type MockRepo struct {
	mock.Mock
}

func (m *MockRepo) List(ctx context.Context, limit int) ([]run.Run, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]run.Run), args.Error(1)
}

func (m *MockRepo) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func TestHandler_List(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		setup      func(*MockRepo)
		wantStatus int
		wantCount  int
	}{
		{
			name: "Default Limit",
			setup: func(m *MockRepo) {
				m.On("List", mock.Anything, run.DefaultListLimit).Return([]run.Run{{ID: "a"}, {ID: "b"}}, nil)
			},
			wantStatus: http.StatusOK,
			wantCount:  2,
		},
		{
			name:  "Capped Limit",
			query: "?limit=100000",
			setup: func(m *MockRepo) {
				m.On("List", mock.Anything, run.MaxListLimit).Return([]run.Run{{ID: "a"}}, nil)
			},
			wantStatus: http.StatusOK,
			wantCount:  1,
		},
		{
			name:  "Empty",
			query: "?limit=3",
			setup: func(m *MockRepo) {
				m.On("List", mock.Anything, 3).Return(nil, nil)
			},
			wantStatus: http.StatusOK,
			wantCount:  0,
		},
		{
			name:       "Invalid Limit",
			query:      "?limit=abc",
			setup:      func(m *MockRepo) {},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:  "Repo Error",
			setup: func(m *MockRepo) {
				m.On("List", mock.Anything, run.DefaultListLimit).Return(nil, errors.New("db down"))
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockRepo)
			tt.setup(repo)

			req := httptest.NewRequest(http.MethodGet, "/runs"+tt.query, nil)
			w := httptest.NewRecorder()
			run.NewHandler(repo).List(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus != http.StatusOK {
				repo.AssertNotCalled(t, "Count", mock.Anything)
				return
			}

			var body struct {
				Data []run.Run      `json:"data"`
				Meta map[string]int `json:"meta"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.NotNil(t, body.Data)
			assert.Len(t, body.Data, tt.wantCount)
			assert.Equal(t, tt.wantCount, body.Meta["count"])
			repo.AssertExpectations(t)
		})
	}
}
