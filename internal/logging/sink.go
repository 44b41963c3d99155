package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// JSONLSink appends external messages to a file, one JSON object per line.
//
// Messages are written as {"kind":"log","message":{...},"fields":{...}};
// metric definitions as {"kind":"metric","metric":"...","type":"..."}.
type JSONLSink struct {
	mu   sync.Mutex
	path string
}

// NewJSONLSink creates the parent directory of path if needed.
func NewJSONLSink(path string) (*JSONLSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating external log dir: %w", err)
	}
	return &JSONLSink{path: path}, nil
}

func (s *JSONLSink) Publish(message map[string]any, keysAndValues ...any) error {
	record := map[string]any{"kind": "log", "message": message}
	if fields := pairs(keysAndValues); len(fields) > 0 {
		record["fields"] = fields
	}
	return s.append(record)
}

func (s *JSONLSink) DefineMetric(metric, metricType string) error {
	return s.append(map[string]any{"kind": "metric", "metric": metric, "type": metricType})
}

func (s *JSONLSink) append(record map[string]any) error {
	line, err := json.Marshal(record)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// pairs folds alternating keys and values into a map. A trailing key
// without a value is recorded with a nil value.
func pairs(keysAndValues []any) map[string]any {
	out := make(map[string]any, len(keysAndValues)/2)
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprint(keysAndValues[i])
		if i+1 < len(keysAndValues) {
			out[key] = keysAndValues[i+1]
		} else {
			out[key] = nil
		}
	}
	return out
}
