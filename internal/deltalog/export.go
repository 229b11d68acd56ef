package deltalog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/klauspost/compress/zstd"

	"github.com/annel0/craft-world/internal/world"
)

// Export пишет все правки журнала в w как JSONL, сжатый zstd.
// Возвращает число записанных правок.
func Export(ctx context.Context, log Log, w io.Writer) (int, error) {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return 0, err
	}
	bw := bufio.NewWriterSize(enc, 128*1024)
	je := json.NewEncoder(bw)

	n := 0
	err = log.Scan(ctx, func(e world.Edit) error {
		n++
		return je.Encode(e)
	})
	if err != nil {
		enc.Close()
		return n, err
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return n, err
	}
	return n, enc.Close()
}

// Import читает zstd JSONL из r и дописывает правки в журнал пакетами
// по batch штук в порядке seq. Журнал-приёмник должен быть пустым
// или содержать только меньшие seq.
func Import(ctx context.Context, log Log, r io.Reader, batch int) (int, error) {
	if batch <= 0 {
		batch = 1000
	}
	dec, err := zstd.NewReader(r)
	if err != nil {
		return 0, err
	}
	defer dec.Close()

	var edits []world.Edit
	jd := json.NewDecoder(bufio.NewReader(dec))
	for {
		var e world.Edit
		err := jd.Decode(&e)
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("строка %d: %w", len(edits)+1, err)
		}
		edits = append(edits, e)
	}
	sort.Slice(edits, func(i, j int) bool { return edits[i].Seq < edits[j].Seq })

	for start := 0; start < len(edits); start += batch {
		end := start + batch
		if end > len(edits) {
			end = len(edits)
		}
		if err := log.Append(ctx, edits[start:end]); err != nil {
			return start, err
		}
	}
	return len(edits), nil
}
