package worker_test

import (
	"context"
	"errors"
	"testing"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"taxrag/apps/ingestor/internal/middleware"
	"taxrag/apps/ingestor/internal/worker"
)

func TestTriggerConsumer_HandleMessage(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantLimit int
		runErr    error
		wantErr   bool
	}{
		{name: "Empty Body Uses Default", body: "", wantLimit: 5},
		{name: "Explicit Limit", body: `{"limit": 20}`, wantLimit: 20},
		{name: "Fatal Error Requeues", body: `{}`, wantLimit: 5, runErr: worker.ErrStatusStore, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := new(MockBatchRunner)
			r.On("ProcessBatch", mock.Anything, tt.wantLimit).Return(worker.BatchResult{RunID: "run-1"}, tt.runErr)

			err := worker.NewTriggerConsumer(r, 5).HandleMessage(&nsq.Message{Body: []byte(tt.body)})

			if tt.wantErr {
				assert.True(t, errors.Is(err, tt.runErr))
			} else {
				assert.NoError(t, err)
			}
			r.AssertExpectations(t)
		})
	}
}

func TestTriggerConsumer_CorrelationID(t *testing.T) {
	r := new(MockBatchRunner)
	var gotID string
	r.On("ProcessBatch", mock.Anything, 5).Return(worker.BatchResult{}, nil).Run(func(args mock.Arguments) {
		gotID = middleware.GetCorrelationID(args.Get(0).(context.Context))
	})

	err := worker.NewTriggerConsumer(r, 5).HandleMessage(&nsq.Message{Body: []byte(`{"correlation_id":"corr-42"}`)})

	assert.NoError(t, err)
	assert.Equal(t, "corr-42", gotID)
}

func TestTriggerConsumer_PoisonPill(t *testing.T) {
	r := new(MockBatchRunner)
	consumer := worker.NewTriggerConsumer(r, 5)

	err := consumer.HandleMessage(&nsq.Message{Body: []byte("invalid json")})

	assert.NoError(t, err) // Should return nil (ack)
	r.AssertNotCalled(t, "ProcessBatch", mock.Anything, mock.Anything)
}
