package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"easytalking/internal/logging"
	"easytalking/internal/tensor"
)

// ErrModelNotLoaded is returned when inference runs before the model is available
var ErrModelNotLoaded = errors.New("detection model not loaded")

// ServingModel calls the TensorFlow Serving REST API
type ServingModel struct {
	baseURL string
	name    string
	// names pins the output order; empty means sorted by name
	names  []string
	client *http.Client
}

// NewServingModel creates a client for model name served at baseURL
func NewServingModel(baseURL, name string, outputNames []string) *ServingModel {
	return &ServingModel{
		baseURL: baseURL,
		name:    name,
		names:   outputNames,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type modelStatus struct {
	ModelVersionStatus []struct {
		Version string `json:"version"`
		State   string `json:"state"`
		Status  struct {
			ErrorCode    string `json:"error_code"`
			ErrorMessage string `json:"error_message"`
		} `json:"status"`
	} `json:"model_version_status"`
}

// Available asks the status endpoint whether any version is AVAILABLE
func (m *ServingModel) Available(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/v1/models/"+m.name, nil)
	if err != nil {
		return false, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, nil
	}

	var status modelStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return false, fmt.Errorf("decode model status: %w", err)
	}
	for _, v := range status.ModelVersionStatus {
		if v.State == "AVAILABLE" {
			return true, nil
		}
		if v.Status.ErrorCode != "" && v.Status.ErrorCode != "OK" {
			return false, fmt.Errorf("model version %s: %s", v.Version, v.Status.ErrorMessage)
		}
	}
	return false, nil
}

// WaitReady polls the status endpoint until the model is available.
// There is no retry budget beyond ctx.
func (m *ServingModel) WaitReady(ctx context.Context, poll time.Duration) error {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		ok, err := m.Available(ctx)
		if ok {
			logging.Info("Model available", "model", m.name)
			return nil
		}
		if err != nil {
			logging.Debug("Model not ready", "model", m.name, "error", err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for model: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// ExecuteAsync sends input to the predict endpoint and returns every output
// tensor in the configured order. Outputs are allocated in s.
func (m *ServingModel) ExecuteAsync(ctx context.Context, s *tensor.Scope, input *tensor.Tensor) ([]*tensor.Tensor, error) {
	body, err := encodePredictRequest(input)
	if err != nil {
		return nil, err
	}

	url := m.baseURL + "/v1/models/" + m.name + ":predict"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("predict: %w: %s", ErrModelNotLoaded, bytes.TrimSpace(msg))
		}
		return nil, fmt.Errorf("predict: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out struct {
		Outputs json.RawMessage `json:"outputs"`
		Error   string          `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode predict response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("predict: %s", out.Error)
	}
	return m.decodeOutputs(s, out.Outputs)
}

// decodeOutputs handles both response forms: a map of named outputs, or a
// bare value when the signature has a single output
func (m *ServingModel) decodeOutputs(s *tensor.Scope, raw json.RawMessage) ([]*tensor.Tensor, error) {
	var named map[string]json.RawMessage
	if err := json.Unmarshal(raw, &named); err != nil {
		t, err := decodeTensor(s, raw)
		if err != nil {
			return nil, err
		}
		return []*tensor.Tensor{t}, nil
	}

	names := m.names
	if len(names) == 0 {
		names = make([]string, 0, len(named))
		for k := range named {
			names = append(names, k)
		}
		sort.Strings(names)
	}

	outputs := make([]*tensor.Tensor, 0, len(names))
	for _, name := range names {
		v, ok := named[name]
		if !ok {
			return nil, fmt.Errorf("predict response has no output %q", name)
		}
		t, err := decodeTensor(s, v)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", name, err)
		}
		outputs = append(outputs, t)
	}
	return outputs, nil
}

// decodeTensor reads a nested JSON number array into a float32 tensor
func decodeTensor(s *tensor.Scope, raw json.RawMessage) (*tensor.Tensor, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}

	var shape []int
	for cur := v; ; {
		arr, ok := cur.([]any)
		if !ok {
			break
		}
		shape = append(shape, len(arr))
		if len(arr) == 0 {
			break
		}
		cur = arr[0]
	}

	var data []float32
	if err := flatten(v, 0, shape, &data); err != nil {
		return nil, err
	}
	return s.FromValues(shape, tensor.Float32, data)
}

func flatten(v any, depth int, shape []int, out *[]float32) error {
	if depth == len(shape) {
		n, ok := v.(json.Number)
		if !ok {
			return fmt.Errorf("expected number at depth %d, got %T", depth, v)
		}
		f, err := n.Float64()
		if err != nil {
			return err
		}
		*out = append(*out, float32(f))
		return nil
	}
	arr, ok := v.([]any)
	if !ok || len(arr) != shape[depth] {
		return fmt.Errorf("ragged array at depth %d", depth)
	}
	for _, e := range arr {
		if err := flatten(e, depth+1, shape, out); err != nil {
			return err
		}
	}
	return nil
}

// encodePredictRequest writes {"inputs": [[...]]} in the columnar form
func encodePredictRequest(input *tensor.Tensor) ([]byte, error) {
	shape := input.Shape()
	var values []float32
	var ints []int32
	var err error
	if input.DType() == tensor.Int32 {
		ints, err = input.Int32s()
	} else {
		values, err = input.Float32s()
	}
	if err != nil {
		return nil, err
	}

	buf := bytes.NewBuffer(make([]byte, 0, input.Size()*4+16))
	buf.WriteString(`{"inputs":`)
	i := 0
	var write func(depth int)
	write = func(depth int) {
		if depth == len(shape) {
			if ints != nil {
				buf.WriteString(strconv.FormatInt(int64(ints[i]), 10))
			} else {
				buf.WriteString(strconv.FormatFloat(float64(values[i]), 'g', -1, 32))
			}
			i++
			return
		}
		buf.WriteByte('[')
		for j := 0; j < shape[depth]; j++ {
			if j > 0 {
				buf.WriteByte(',')
			}
			write(depth + 1)
		}
		buf.WriteByte(']')
	}
	write(0)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
