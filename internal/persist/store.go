package persist

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"

	"llm-perp-bot/internal/ledger"
)

// StatePath is where a ledger instance's snapshot document lives.
func StatePath(dir, name string) string {
	return filepath.Join(dir, name+"_state.json")
}

// HistoryPath is the append-only close-history file of a ledger instance.
func HistoryPath(dir, name string) string {
	return filepath.Join(dir, name+"_history.jsonl")
}

// SessionPath is the append-only record of retry sessions.
func SessionPath(dir, name string) string {
	return filepath.Join(dir, name+"_sessions.jsonl")
}

// LoadState reads a persisted snapshot back. A missing file is not an
// error; it returns ok=false so the caller starts fresh.
func LoadState(path string) (ledger.PersistedState, bool, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ledger.PersistedState{}, false, nil
	}
	if err != nil {
		return ledger.PersistedState{}, false, err
	}
	var state ledger.PersistedState
	if err := json.Unmarshal(b, &state); err != nil {
		return ledger.PersistedState{}, false, err
	}
	return state, true, nil
}

// ReadHistory loads every close record from a history file, in append
// order. Used by reporting and tests.
func ReadHistory(path string) ([]ledger.HistoryRecord, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []ledger.HistoryRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec ledger.HistoryRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}
