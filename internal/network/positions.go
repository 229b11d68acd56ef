package network

import (
	"context"
	"time"

	"github.com/annel0/craft-world/internal/storage"
)

// positionTimeout предел на один запрос к хранилищу положений
const positionTimeout = 2 * time.Second

// savePosition запоминает, где вышел игрок с ником. Гости не сохраняются.
func (s *Server) savePosition(c *Conn) {
	repo := s.opts.Positions
	if repo == nil {
		return
	}
	c.mu.Lock()
	name, named := c.name, c.named
	st := storage.PlayerState{Pos: c.pos, RX: c.rx, RY: c.ry, UpdatedAt: time.Now()}
	c.mu.Unlock()
	if !named {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), positionTimeout)
	defer cancel()
	if err := repo.Save(ctx, name, st); err != nil {
		positionStoreErrors.WithLabelValues("save").Inc()
		s.logger.Warn("Положение игрока %s не сохранено: %v", name, err)
		return
	}
	s.logger.Debug("Положение игрока %s сохранено: %.1f %.1f %.1f", name, st.Pos.X, st.Pos.Y, st.Pos.Z)
}

// restorePosition переносит игрока туда, где он вышел под этим ником
func (c *Conn) restorePosition(name string) {
	repo := c.srv.opts.Positions
	if repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), positionTimeout)
	defer cancel()
	st, ok, err := repo.Load(ctx, name)
	if err != nil {
		positionStoreErrors.WithLabelValues("load").Inc()
		c.srv.logger.Warn("Положение игрока %s не загружено: %v", name, err)
		return
	}
	if !ok {
		return
	}
	c.mu.Lock()
	c.rx, c.ry = st.RX, st.RY
	c.mu.Unlock()
	c.teleport(st.Pos)
	c.reply("welcome back, " + name)
}
