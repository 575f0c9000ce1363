package detect

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"easytalking/internal/tensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// predictResponse mimics an SSD signature: outputs sorted by name put
// boxes at 1, classes at 2 and scores at 4
const predictResponse = `{"outputs": {
	"detection_anchor_indices": [[1, 2]],
	"detection_boxes": [[[0.1, 0.2, 0.5, 0.6], [0.0, 0.0, 1.0, 1.0]]],
	"detection_classes": [[1, 3]],
	"detection_multiclass_scores": [[[0.1], [0.2]]],
	"detection_scores": [[0.93, 0.42]],
	"num_detections": [2]
}}`

func newPredictServer(t *testing.T, gotBody *map[string]json.RawMessage) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/models/detector:predict":
			body, _ := io.ReadAll(r.Body)
			if gotBody != nil {
				json.Unmarshal(body, gotBody)
			}
			io.WriteString(w, predictResponse)
		case "/v1/models/detector":
			io.WriteString(w, `{"model_version_status":[{"version":"1","state":"AVAILABLE","status":{"error_code":"OK"}}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestExecuteAsyncOrdersOutputsByName(t *testing.T) {
	var body map[string]json.RawMessage
	srv := newPredictServer(t, &body)
	model := NewServingModel(srv.URL, "detector", nil)
	backend := tensor.NewBackend()

	err := backend.Tidy(func(s *tensor.Scope) error {
		input, err := s.FromValues([]int{1, 2, 2, 3}, tensor.Int32, []float32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11})
		require.NoError(t, err)

		outputs, err := model.ExecuteAsync(context.Background(), s, input)
		require.NoError(t, err)
		require.Len(t, outputs, 6)
		assert.Equal(t, []int{1, 2, 4}, outputs[1].Shape())

		d, err := Extract(outputs, OutputIndices{Boxes: 1, Classes: 2, Scores: 4})
		require.NoError(t, err)
		assert.Equal(t, []int{1, 3}, d.Classes)
		assert.Equal(t, [4]float32{0.1, 0.2, 0.5, 0.6}, d.Boxes[0])
		assert.InDelta(t, 0.93, d.Scores[0], 1e-6)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, backend.NumTensors())

	assert.JSONEq(t, `[[[[0,1,2],[3,4,5]],[[6,7,8],[9,10,11]]]]`, string(body["inputs"]))
}

func TestExecuteAsyncPinnedOutputNames(t *testing.T) {
	srv := newPredictServer(t, nil)
	model := NewServingModel(srv.URL, "detector", []string{"detection_scores", "detection_missing"})

	err := tensor.NewBackend().Tidy(func(s *tensor.Scope) error {
		input, _ := s.FromValues([]int{1}, tensor.Int32, []float32{0})
		_, err := model.ExecuteAsync(context.Background(), s, input)
		return err
	})
	assert.ErrorContains(t, err, "detection_missing")
}

func TestExecuteAsyncNotLoaded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"Servable not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()
	model := NewServingModel(srv.URL, "detector", nil)

	err := tensor.NewBackend().Tidy(func(s *tensor.Scope) error {
		input, _ := s.FromValues([]int{1}, tensor.Int32, []float32{0})
		_, err := model.ExecuteAsync(context.Background(), s, input)
		return err
	})
	assert.True(t, errors.Is(err, ErrModelNotLoaded), "err = %v", err)
}

func TestDecodeSingleOutput(t *testing.T) {
	model := NewServingModel("", "m", nil)
	backend := tensor.NewBackend()
	_ = backend.Tidy(func(s *tensor.Scope) error {
		outputs, err := model.decodeOutputs(s, json.RawMessage(`[[1.5, 2.5]]`))
		require.NoError(t, err)
		require.Len(t, outputs, 1)
		assert.Equal(t, []int{1, 2}, outputs[0].Shape())

		_, err = model.decodeOutputs(s, json.RawMessage(`[[1], [2, 3]]`))
		assert.ErrorContains(t, err, "ragged")
		return nil
	})
}

func TestWaitReady(t *testing.T) {
	srv := newPredictServer(t, nil)
	model := NewServingModel(srv.URL, "detector", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, model.WaitReady(ctx, 10*time.Millisecond))

	missing := NewServingModel(srv.URL, "other", nil)
	ctx, cancel = context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, missing.WaitReady(ctx, 10*time.Millisecond), context.DeadlineExceeded)
}

func TestAvailableReportsLoadError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"model_version_status":[{"version":"1","state":"END","status":{"error_code":"NOT_FOUND","error_message":"no saved_model.pb"}}]}`)
	}))
	defer srv.Close()

	ok, err := NewServingModel(srv.URL, "detector", nil).Available(context.Background())
	assert.False(t, ok)
	assert.ErrorContains(t, err, "no saved_model.pb")
}

func TestExtractValidatesIndices(t *testing.T) {
	_ = tensor.NewBackend().Tidy(func(s *tensor.Scope) error {
		a, _ := s.FromValues([]int{1, 1}, tensor.Float32, []float32{1})
		_, err := Extract([]*tensor.Tensor{a}, OutputIndices{Boxes: 1, Classes: 0, Scores: 0})
		assert.ErrorContains(t, err, "out of range")

		_, err = Extract([]*tensor.Tensor{a}, OutputIndices{})
		assert.ErrorContains(t, err, "shape")
		return nil
	})
}
