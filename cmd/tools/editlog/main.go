// Команда editlog обслуживает журнал правок офлайн: выгрузка в сжатые zstd JSON Lines,
// загрузка обратно и просмотр правок одного чанка.
//
//	editlog -config craft.yaml export > edits.jsonl
//	editlog -driver sqlite -path edits.db import < edits.jsonl
//	editlog chunk 0 -1
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/annel0/craft-world/internal/config"
	"github.com/annel0/craft-world/internal/deltalog"
	"github.com/annel0/craft-world/internal/vec"
)

func main() {
	var (
		configPath = flag.String("config", "", "YAML конфигурация сервера (раздел storage)")
		driver     = flag.String("driver", "", "переопределить storage.driver")
		path       = flag.String("path", "", "переопределить storage.path")
		dsn        = flag.String("dsn", "", "переопределить storage.dsn")
		batch      = flag.Int("batch", 500, "размер пакета при импорте")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: editlog [flags] export|import|chunk P Q|last\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}
	opts := deltalog.Options{
		Driver:     cfg.Storage.Driver,
		Path:       cfg.Storage.Path,
		DSN:        cfg.Storage.DSN,
		SyncWrites: cfg.Storage.SyncWrites,
	}
	if *driver != "" {
		opts.Driver = *driver
	}
	if *path != "" {
		opts.Path = *path
	}
	if *dsn != "" {
		opts.DSN = *dsn
	}

	editLog, err := deltalog.Open(opts)
	if err != nil {
		log.Fatalf("❌ Открытие журнала %s: %v", opts.Driver, err)
	}
	defer editLog.Close()

	if err := run(context.Background(), editLog, *batch, flag.Args()); err != nil {
		editLog.Close()
		log.Fatalf("❌ %v", err)
	}
}

func run(ctx context.Context, editLog deltalog.Log, batch int, args []string) error {
	switch args[0] {
	case "export":
		w := bufio.NewWriter(os.Stdout)
		n, err := deltalog.Export(ctx, editLog, w)
		if err != nil {
			return err
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "✅ Выгружено правок: %d\n", n)
	case "import":
		n, err := deltalog.Import(ctx, editLog, bufio.NewReader(os.Stdin), batch)
		if err != nil {
			return fmt.Errorf("импорт остановлен после %d правок: %w", n, err)
		}
		fmt.Fprintf(os.Stderr, "✅ Загружено правок: %d\n", n)
	case "last":
		seq, err := editLog.LastSeq(ctx)
		if err != nil {
			return err
		}
		fmt.Println(seq)
	case "chunk":
		if len(args) != 3 {
			return fmt.Errorf("chunk: нужны координаты P Q")
		}
		p, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("chunk: P: %w", err)
		}
		q, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("chunk: Q: %w", err)
		}
		edits, err := editLog.LoadEdits(ctx, vec.ChunkCoord{P: p, Q: q})
		if err != nil {
			return err
		}
		for _, e := range edits {
			fmt.Printf("%8d  %v  %-12s author=%d  %s\n",
				e.Seq, e.Pos, e.Block, e.Author, e.Time.Format("2006-01-02 15:04:05"))
		}
		fmt.Fprintf(os.Stderr, "Правок в чанке (%d, %d): %d\n", p, q, len(edits))
	default:
		return fmt.Errorf("неизвестная команда %q", args[0])
	}
	return nil
}
