package network

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/annel0/craft-world/internal/eventbus"
	"github.com/annel0/craft-world/internal/observability"
	"github.com/annel0/craft-world/internal/protocol"
	"github.com/annel0/craft-world/internal/world"
)

// authority единственный путь изменения мира. Правки клиентов копятся
// до BatchWindow или BatchMax и записываются одним вызовом ApplyEdits;
// пакет администратора записывается отдельно, сразу после накопленного.
func (s *Server) authority() {
	defer s.wg.Done()

	var (
		batch  []editRequest
		timer  *time.Timer
		timerC <-chan time.Time
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
	}
	flush := func() {
		stopTimer()
		if len(batch) > 0 {
			s.commit(batch)
			batch = nil
		}
	}

	for {
		select {
		case <-s.ctx.Done():
			flush()
			return
		case <-timerC:
			timer, timerC = nil, nil
			flush()
		case req := <-s.edits:
			if req.reply != nil {
				flush()
				s.commit([]editRequest{req})
				continue
			}
			batch = append(batch, req)
			switch {
			case len(batch) >= s.opts.BatchMax || s.opts.BatchWindow <= 0:
				flush()
			case timer == nil:
				timer = time.NewTimer(s.opts.BatchWindow)
				timerC = timer.C
			}
		}
	}
}

// commit записывает пакет и рассылает результат. При отказе журнала
// каждому автору уходит X, ни одна правка пакета не применяется.
func (s *Server) commit(reqs []editRequest) {
	var edits []world.Edit
	for _, r := range reqs {
		edits = append(edits, r.edits...)
	}

	// запись не прерывается остановкой сервера
	ctx := context.WithoutCancel(s.ctx)
	ctx, span := observability.Tracer().Start(ctx, "world.ApplyEdits")
	span.SetAttributes(attribute.Int("edits", len(edits)))
	defer span.End()

	start := time.Now()
	applied, err := s.world.ApplyEdits(ctx, edits)
	commitDuration.Observe(time.Since(start).Seconds())
	batchSize.Observe(float64(len(edits)))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "apply edits")
		reason := RejectPersistence
		if errors.Is(err, world.ErrInvalidEdit) {
			reason = RejectInvalid
		}
		s.logger.Error("Пакет из %d правок отклонён: %v", len(edits), err)
		editsRejected.WithLabelValues(reason).Add(float64(len(edits)))
		for _, r := range reqs {
			if r.reply != nil {
				r.reply <- editResult{err: err}
				continue
			}
			for _, e := range r.edits {
				r.conn.send(protocol.Encode(protocol.Reject{Pos: e.Pos, Reason: reason}))
			}
		}
		return
	}

	editsCommitted.Add(float64(len(applied)))
	span.SetAttributes(attribute.Int64("last_seq", int64(applied[len(applied)-1].Seq)))
	for _, e := range applied {
		s.broadcastChunk(e.Chunk(), protocol.Encode(protocol.BlockDelta{Pos: e.Pos, Block: e.Block, Seq: e.Seq}))
		s.publish(eventbus.TypeEditApplied, eventbus.EditApplied{
			Seq:      e.Seq,
			X:        e.Pos.X,
			Y:        e.Pos.Y,
			Z:        e.Pos.Z,
			Material: uint8(e.Block.Material()),
			Flags:    uint8(e.Block.Flags()),
			Author:   e.Author,
		})
	}

	i := 0
	for _, r := range reqs {
		n := len(r.edits)
		if r.reply != nil {
			r.reply <- editResult{applied: applied[i : i+n]}
		}
		i += n
	}
}
