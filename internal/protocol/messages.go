// Package protocol описывает строковый протокол синхронизации мира:
// одна ASCII-строка на сообщение, поля через пробел, первый токен это тег.
package protocol

import (
	"errors"

	"github.com/annel0/craft-world/internal/vec"
	"github.com/annel0/craft-world/internal/world"
	"github.com/annel0/craft-world/internal/world/block"
)

// Version текущая версия протокола
const Version = 1

// Теги сообщений
const (
	TagVersion  = 'V'
	TagPosition = 'P'
	TagBlock    = 'B'
	TagChunk    = 'C'
	TagDump     = 'K'
	TagTalk     = 'T'
	TagYou      = 'U'
	TagNick     = 'N'
	TagGone     = 'D'
	TagReject   = 'X'
	TagTime     = 'E'
)

var (
	// ErrMalformed строка не разбирается или значение вне диапазона
	ErrMalformed = errors.New("protocol: некорректное сообщение")
	// ErrUnknownTag неизвестный тег сообщения
	ErrUnknownTag = errors.New("protocol: неизвестный тег")
)

// Message любое сообщение протокола
type Message interface {
	Tag() byte
}

// Hello первое сообщение клиента: версия протокола
type Hello struct {
	Version int
}

// Move позиция и ориентация игрока от клиента
type Move struct {
	Pos    vec.Vec3Float
	RX, RY float64
}

// EditRequest запрос клиента на установку блока (Air = сломать)
type EditRequest struct {
	Pos   vec.Vec3
	Block block.Block
}

// ChunkRequest запрос дампа чанка. Если HasSeq, клиент уже держит
// состояние на момент Seq и дамп можно не слать, если чанк не менялся.
type ChunkRequest struct {
	Coords vec.ChunkCoord
	Seq    uint64
	HasSeq bool
}

// Talk чат или команда
type Talk struct {
	Text string
}

// You назначенный клиенту ID и точка появления
type You struct {
	ID     uint64
	Pos    vec.Vec3Float
	RX, RY float64
}

// PlayerMove позиция другого игрока
type PlayerMove struct {
	ID     uint64
	Pos    vec.Vec3Float
	RX, RY float64
}

// Nick имя игрока
type Nick struct {
	ID   uint64
	Name string
}

// Gone игрок отключился
type Gone struct {
	ID uint64
}

// BlockDelta авторитетная правка с глобальным seq
type BlockDelta struct {
	Pos   vec.Vec3
	Block block.Block
	Seq   uint64
}

// Dump полное состояние чанка
type Dump struct {
	world.ChunkDump
}

// Reject правка отклонена сервером
type Reject struct {
	Pos    vec.Vec3
	Reason string
}

// Time серверное время в секундах и длина суток; клиент сам считает фазу дня
type Time struct {
	Timestamp float64
	DayLength float64
}

func (Hello) Tag() byte        { return TagVersion }
func (Move) Tag() byte         { return TagPosition }
func (EditRequest) Tag() byte  { return TagBlock }
func (ChunkRequest) Tag() byte { return TagChunk }
func (Talk) Tag() byte         { return TagTalk }
func (You) Tag() byte          { return TagYou }
func (PlayerMove) Tag() byte   { return TagPosition }
func (Nick) Tag() byte         { return TagNick }
func (Gone) Tag() byte         { return TagGone }
func (BlockDelta) Tag() byte   { return TagBlock }
func (Dump) Tag() byte         { return TagDump }
func (Reject) Tag() byte       { return TagReject }
func (Time) Tag() byte         { return TagTime }
