package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// ReadAll decodes every JSON line in a JSONLSink-written file, in order.
// Used by the `events tail` CLI verb and by tests asserting on emitted
// event sequences.
func ReadAll(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("events: opening %s: %w", path, err)
	}
	defer f.Close()

	var out []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			return out, fmt.Errorf("events: decoding line: %w", err)
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return out, err
	}
	return out, nil
}

// Tail returns the last n events in path (n <= 0 returns everything).
func Tail(path string, n int) ([]Event, error) {
	all, err := ReadAll(path)
	if err != nil {
		return nil, err
	}
	if n <= 0 || n >= len(all) {
		return all, nil
	}
	return all[len(all)-n:], nil
}
