// Команда eventtail читает ленту событий мира из NATS JetStream.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/annel0/craft-world/internal/eventbus"
)

const timeFormat = "2006-01-02T15:04:05Z"

func main() {
	var (
		url     = flag.String("nats", "nats://127.0.0.1:4222", "NATS server URL")
		stream  = flag.String("stream", "CRAFT", "JetStream stream name")
		command = flag.String("cmd", "tail", "Command: tail, stats")
		types   = flag.String("types", "", "Event types filter (comma-separated)")
		sources = flag.String("sources", "", "Source nodes filter (comma-separated)")
		since   = flag.String("since", "1h", "Time duration since now (e.g., 1h, 30m) or RFC3339 time")
		limit   = flag.Int("limit", 100, "Maximum number of events (tail)")
		follow  = flag.Bool("follow", false, "Follow new events (like tail -f)")
		idle    = flag.Duration("idle", 2*time.Second, "Stop after this long without events (unless -follow)")
	)
	flag.Parse()

	from, err := parseSinceTime(*since, time.Now())
	if err != nil {
		log.Fatalf("❌ Invalid since time: %v", err)
	}

	bus, err := eventbus.NewJetStreamBus(*url, *stream, 0)
	if err != nil {
		log.Fatalf("❌ Failed to connect to NATS: %v", err)
	}
	defer bus.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	filter := eventbus.Filter{Types: parseStringList(*types), Sources: parseStringList(*sources)}
	r := &reader{from: from, idle: *idle, follow: *follow, limit: *limit, counts: make(map[string]int)}

	switch *command {
	case "tail":
		r.print = true
		fmt.Printf("🎬 Tailing events since %s (limit: %d, follow: %v)\n", from.UTC().Format(timeFormat), *limit, *follow)
	case "stats":
		r.limit = 0
	default:
		fmt.Printf("❌ Unknown command: %s\n", *command)
		fmt.Println("Available commands: tail, stats")
		os.Exit(1)
	}

	if err := r.run(ctx, bus, filter); err != nil {
		log.Fatalf("❌ %s failed: %v", *command, err)
	}

	if *command == "stats" {
		r.printStats()
		return
	}
	fmt.Printf("\n📊 Total events: %d\n", r.total)
}

// reader считает и печатает события, пока не наступит лимит, простой или сигнал
type reader struct {
	from   time.Time
	idle   time.Duration
	follow bool
	limit  int
	print  bool

	mu     sync.Mutex
	total  int
	counts map[string]int
	last   time.Time
}

func (r *reader) run(ctx context.Context, bus eventbus.EventBus, f eventbus.Filter) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.last = time.Now()
	sub, err := bus.Subscribe(ctx, f, func(_ context.Context, ev *eventbus.Envelope) {
		if ev.Timestamp.Before(r.from) {
			return
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.limit > 0 && r.total >= r.limit {
			cancel()
			return
		}
		r.total++
		r.counts[ev.EventType]++
		r.last = time.Now()
		if r.print {
			printEvent(ev)
		}
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.mu.Lock()
			quiet := time.Since(r.last) > r.idle
			r.mu.Unlock()
			if !r.follow && quiet {
				return nil
			}
		}
	}
}

func (r *reader) printStats() {
	r.mu.Lock()
	defer r.mu.Unlock()

	fmt.Printf("📊 Event statistics since %s\n", r.from.UTC().Format(timeFormat))
	fmt.Printf("Total events: %d\n", r.total)
	fmt.Println("\nBy event type:")
	keys := make([]string, 0, len(r.counts))
	for k := range r.counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %s: %d events\n", k, r.counts[k])
	}
}

// printEvent выводит событие в читаемом формате
func printEvent(ev *eventbus.Envelope) {
	fmt.Printf("[%s] %s [%s] %s\n", ev.Timestamp.Format("15:04:05"), ev.Source, ev.EventType, ev.ID)

	switch ev.EventType {
	case eventbus.TypeEditApplied:
		var e eventbus.EditApplied
		if ev.Decode(&e) == nil {
			fmt.Printf("  Block: (%d,%d,%d) material=%d flags=%d seq=%d author=%d\n",
				e.X, e.Y, e.Z, e.Material, e.Flags, e.Seq, e.Author)
		}
	case eventbus.TypePlayerJoined:
		var e eventbus.PlayerJoined
		if ev.Decode(&e) == nil {
			fmt.Printf("  Player: %d %s from %s\n", e.ID, e.Name, e.Addr)
		}
	case eventbus.TypePlayerLeft:
		var e eventbus.PlayerLeft
		if ev.Decode(&e) == nil {
			fmt.Printf("  Player: %d\n", e.ID)
		}
	case eventbus.TypeChat:
		var e eventbus.Chat
		if ev.Decode(&e) == nil {
			fmt.Printf("  Player: %d: %s\n", e.ID, e.Text)
		}
	}
}

// parseStringList парсит строку с разделителями-запятыми
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// parseSinceTime парсит относительное время типа "1h", "30m"
func parseSinceTime(since string, from time.Time) (time.Time, error) {
	if since == "" {
		return time.Time{}, nil
	}
	duration, err := time.ParseDuration(since)
	if err != nil {
		// Пробуем парсить как абсолютное время
		return time.Parse(timeFormat, since)
	}
	return from.Add(-duration), nil
}
