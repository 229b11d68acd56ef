package deltalog

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/annel0/craft-world/internal/logging"
	"github.com/annel0/craft-world/internal/vec"
	"github.com/annel0/craft-world/internal/world"
	"github.com/dgraph-io/badger/v3"
)

var (
	editPrefix = []byte("e/")
	lastSeqKey = []byte("m/last_seq")
)

// BadgerLog журнал правок в BadgerDB.
// Ключ: e/ + p + q + seq (big-endian, знак инвертирован), поэтому правки
// одного чанка лежат подряд и упорядочены по seq.
type BadgerLog struct {
	db   *badger.DB
	path string
}

// OpenBadger открывает (или создаёт) журнал в каталоге path
func OpenBadger(path string, syncWrites bool) (*BadgerLog, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Отключаем логирование BadgerDB
	opts.SyncWrites = syncWrites

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}
	logging.GetStorageLogger().Info("Журнал правок BadgerDB открыт: %s (sync=%v)", path, syncWrites)
	return &BadgerLog{db: db, path: path}, nil
}

func putSigned(buf []byte, v int64) {
	binary.BigEndian.PutUint64(buf, uint64(v)^(1<<63))
}

func chunkPrefix(cc vec.ChunkCoord) []byte {
	key := make([]byte, len(editPrefix)+16)
	copy(key, editPrefix)
	putSigned(key[len(editPrefix):], int64(cc.P))
	putSigned(key[len(editPrefix)+8:], int64(cc.Q))
	return key
}

func editKey(e world.Edit) []byte {
	prefix := chunkPrefix(e.Chunk())
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], e.Seq)
	return key
}

func readLastSeq(txn *badger.Txn) (uint64, error) {
	item, err := txn.Get(lastSeqKey)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var last uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("повреждён ключ %s", lastSeqKey)
		}
		last = binary.BigEndian.Uint64(val)
		return nil
	})
	return last, err
}

// Append пишет пакет одной транзакцией
func (b *BadgerLog) Append(_ context.Context, edits []world.Edit) error {
	if len(edits) == 0 {
		return nil
	}
	return b.db.Update(func(txn *badger.Txn) error {
		last, err := readLastSeq(txn)
		if err != nil {
			return err
		}
		if err := checkBatch(last, edits); err != nil {
			return err
		}
		for _, e := range edits {
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("ошибка сериализации правки: %w", err)
			}
			if err := txn.Set(editKey(e), data); err != nil {
				return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
			}
		}
		seq := make([]byte, 8)
		binary.BigEndian.PutUint64(seq, edits[len(edits)-1].Seq)
		return txn.Set(lastSeqKey, seq)
	})
}

func (b *BadgerLog) LoadEdits(ctx context.Context, cc vec.ChunkCoord) ([]world.Edit, error) {
	var out []world.Edit
	err := b.scanPrefix(ctx, chunkPrefix(cc), func(e world.Edit) error {
		out = append(out, e)
		return nil
	})
	return out, err
}

func (b *BadgerLog) LastSeq(context.Context) (uint64, error) {
	var last uint64
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		last, err = readLastSeq(txn)
		return err
	})
	return last, err
}

// Scan обходит правки по чанкам, внутри чанка по seq
func (b *BadgerLog) Scan(ctx context.Context, fn func(world.Edit) error) error {
	return b.scanPrefix(ctx, editPrefix, fn)
}

func (b *BadgerLog) scanPrefix(ctx context.Context, prefix []byte, fn func(world.Edit) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var e world.Edit
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			})
			if err != nil {
				return fmt.Errorf("ошибка десериализации правки %x: %w", it.Item().Key(), err)
			}
			if err := fn(e); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close закрывает BadgerDB
func (b *BadgerLog) Close() error {
	return b.db.Close()
}
