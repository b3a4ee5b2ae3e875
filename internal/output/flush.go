package output

import (
	"encoding/json"
	"io"
)

type flusher interface {
	Flush() error
}

func flushIfPossible(w io.Writer) error {
	f, ok := w.(flusher)
	if !ok {
		return nil
	}
	return f.Flush()
}

// writeEvent encodes v as one NDJSON line if it has a streaming form.
func writeEvent(w io.Writer, v any) error {
	e, ok := toEvent(v)
	if !ok {
		return nil
	}
	if err := json.NewEncoder(w).Encode(e); err != nil {
		return err
	}
	return flushIfPossible(w)
}

func writeRecord(w io.Writer, agg *aggregate) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(agg.record()); err != nil {
		return err
	}
	return flushIfPossible(w)
}
