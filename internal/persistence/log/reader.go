package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"

	"tradepost.ai/internal/trade"
)

// ReadAudit replays the audit trail under dataDir in file order, calling fn for
// every event that matches sessionID (all events when empty). fn returning
// false stops the scan.
func ReadAudit(dataDir, sessionID string, fn func(trade.Event) bool) error {
	files, err := filepath.Glob(filepath.Join(AuditDir(dataDir), auditPrefix+"-*.jsonl.zst"))
	if err != nil {
		return err
	}
	// Hour-stamped names sort chronologically.
	sort.Strings(files)
	for _, path := range files {
		more, err := readAuditFile(path, sessionID, fn)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

func readAuditFile(path, sessionID string, fn func(trade.Event) bool) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return false, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 4<<20)
	for sc.Scan() {
		var ev trade.Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			return false, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		if sessionID != "" && ev.SessionID != sessionID {
			continue
		}
		if !fn(ev) {
			return false, nil
		}
	}
	// The current hour's frame is still open while the server runs, so a
	// truncated tail is expected; keep what decoded.
	_ = sc.Err()
	return true, nil
}
