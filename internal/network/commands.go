package network

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/annel0/craft-world/internal/protocol"
	"github.com/annel0/craft-world/internal/vec"
)

const maxNickLen = 32

const helpText = "commands: /nick NAME, /list, /spawn, /pq P Q, /help"

// command выполняет команду чата; ответы уходят только отправителю
func (c *Conn) command(text string) {
	fields := strings.Fields(strings.TrimPrefix(text, "/"))
	if len(fields) == 0 {
		c.reply(helpText)
		return
	}
	args := fields[1:]
	switch strings.ToLower(fields[0]) {
	case "nick":
		c.cmdNick(args)
	case "list":
		c.cmdList()
	case "spawn":
		c.teleport(c.srv.spawnPoint(0, 0))
	case "pq":
		c.cmdPQ(args)
	case "help":
		c.reply(helpText)
	default:
		c.reply("unknown command: /" + fields[0])
	}
}

func (c *Conn) cmdNick(args []string) {
	if len(args) != 1 || len(args[0]) > maxNickLen {
		c.reply("usage: /nick NAME")
		return
	}
	name := args[0]
	c.setName(name)
	c.srv.broadcast(protocol.Encode(protocol.Nick{ID: c.id, Name: name}))
	c.restorePosition(name)
}

func (c *Conn) cmdList() {
	players := c.srv.Players()
	names := make([]string, 0, len(players))
	for _, p := range players {
		names = append(names, p.Name)
	}
	c.reply(fmt.Sprintf("players (%d): %s", len(names), strings.Join(names, ", ")))
}

// cmdPQ переносит игрока в центр чанка (p, q) над рельефом
func (c *Conn) cmdPQ(args []string) {
	if len(args) != 2 {
		c.reply("usage: /pq P Q")
		return
	}
	p, err1 := strconv.Atoi(args[0])
	q, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil {
		c.reply("usage: /pq P Q")
		return
	}
	ox, oz := vec.ChunkCoord{P: p, Q: q}.Origin()
	c.teleport(c.srv.spawnPoint(ox+vec.ChunkSize/2, oz+vec.ChunkSize/2))
}
