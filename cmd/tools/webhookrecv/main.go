// Команда webhookrecv тестовый приёмник исходящих webhook сервера мира:
// проверяет подпись X-Craft-Signature и печатает события.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/annel0/craft-world/internal/api"
	"github.com/annel0/craft-world/internal/eventbus"
	"github.com/annel0/craft-world/internal/world/block"
)

type receiver struct {
	secret   string
	received atomic.Int64
	rejected atomic.Int64
}

func main() {
	addr := flag.String("addr", ":3000", "адрес прослушивания")
	secret := flag.String("secret", "", "секрет подписи webhook (пусто = без проверки)")
	flag.Parse()

	log.Println("🔗 Запуск тестового Webhook приемника...")

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("%s - [%s] \"%s %s %d %s\"\n",
			param.ClientIP,
			param.TimeStamp.Format(time.RFC3339),
			param.Method,
			param.Path,
			param.StatusCode,
			param.Latency,
		)
	}))

	rv := &receiver{secret: *secret}
	r.GET("/", rv.status)
	r.POST("/webhook", rv.handle)

	log.Printf("✅ Webhook приемник запущен на %s", *addr)
	log.Println("   POST /webhook  - события мира")
	log.Println("   GET  /         - счётчики")
	if err := r.Run(*addr); err != nil {
		log.Fatalf("Ошибка запуска сервера: %v", err)
	}
}

func (rv *receiver) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"received":    rv.received.Load(),
		"rejected":    rv.rejected.Load(),
		"server_time": time.Now().Unix(),
	})
}

func (rv *receiver) handle(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Ошибка чтения запроса"})
		return
	}
	if rv.secret != "" && !api.Verify(body, rv.secret, c.GetHeader(api.SignatureHeader)) {
		rv.rejected.Add(1)
		log.Printf("🚫 Неверная подпись от %s", c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Неверная подпись"})
		return
	}

	var ev eventbus.Envelope
	if err := json.Unmarshal(body, &ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный JSON"})
		return
	}
	rv.received.Add(1)
	logEvent(&ev)
	c.Status(http.StatusNoContent)
}

func logEvent(ev *eventbus.Envelope) {
	log.Printf("📧 %s от %s (%s)", ev.EventType, ev.Source, ev.Timestamp.Format("15:04:05"))
	switch ev.EventType {
	case eventbus.TypeEditApplied:
		var e eventbus.EditApplied
		if ev.Decode(&e) == nil {
			b := block.New(block.Material(e.Material), block.Flags(e.Flags))
			log.Printf("   🧱 (%d, %d, %d) = %s seq=%d author=%d", e.X, e.Y, e.Z, b, e.Seq, e.Author)
		}
	case eventbus.TypePlayerJoined:
		var e eventbus.PlayerJoined
		if ev.Decode(&e) == nil {
			log.Printf("   👋 %s (%d) с %s", e.Name, e.ID, e.Addr)
		}
	case eventbus.TypePlayerLeft:
		var e eventbus.PlayerLeft
		if ev.Decode(&e) == nil {
			log.Printf("   🚪 игрок %d вышел", e.ID)
		}
	case eventbus.TypeChat:
		var e eventbus.Chat
		if ev.Decode(&e) == nil {
			log.Printf("   💬 %d: %s", e.ID, e.Text)
		}
	default:
		log.Printf("   payload: %s", string(ev.Payload))
	}
}
