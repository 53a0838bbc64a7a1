// Package archive implements the Archiver (C8): a buffered, batched drain
// of finished games into durable storage. Grounded on
// randomtoy-random-chess-backend/internal/adapters/postgres/store.go for
// the raw-SQL pgx/pgxpool transaction and pgx.Batch/SendBatch idiom, and
// on jonradoff-chessmata/backend/internal/services/game_completion.go for
// the summary-row-plus-aggregate-counters shape (stripped of its Elo
// math, an explicit non-goal) and
// .../internal/services/stale_game_cleanup.go for the ticker-driven
// background service skeleton.
//
// A Game Room hands off a terminal game exactly once, already carrying
// its complete History/Events (a Room is the sole writer for the whole
// life of a game, so nothing is missing by the time Enqueue is called).
// The Archiver still buffers per-game rather than writing synchronously:
// Enqueue only appends to an in-memory queue and returns immediately, so
// a Room's single-writer loop is never blocked on durable-store I/O.
// Draining happens on whichever comes first: a per-game row buffer
// crossing 100, the 5s background tick, or — since every Enqueue already
// names a terminal game — an immediate best-effort flush attempt of that
// game right away, which is what makes case (c) "game terminates" force
// a flush rather than wait for the tick in the common case.
package archive

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/banchess/server/internal/protocol"
	"github.com/banchess/server/internal/rules"
)

// flushInterval is the periodic tick per §4.8.
const flushInterval = 5 * time.Second

// flushThreshold is the per-game buffered-row count that forces an
// immediate flush instead of waiting for the next tick.
const flushThreshold = 100

// maxBatchRows caps a single durable insert batch per §4.8.
const maxBatchRows = 1000

// pending is one terminal game awaiting a durable write.
type pending struct {
	game    *protocol.Game
	queued  time.Time
	retries int
}

// Archiver buffers finished games in memory and drains them into Postgres
// in batches. Solo games are never archived (pinned Open Question, §9).
type Archiver struct {
	pool *pgxpool.Pool
	log  *slog.Logger

	mu     sync.Mutex
	buffer map[protocol.GameId]*pending
	order  []protocol.GameId // FIFO order, for bounded-size draining

	flushNow chan protocol.GameId
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New constructs an Archiver over an already-connected pgxpool.Pool.
func New(pool *pgxpool.Pool, log *slog.Logger) *Archiver {
	if log == nil {
		log = slog.Default()
	}
	return &Archiver{
		pool:     pool,
		log:      log.With("component", "archiver"),
		buffer:   make(map[protocol.GameId]*pending),
		flushNow: make(chan protocol.GameId, 256),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the background flush loop.
func (a *Archiver) Start() {
	go a.run()
}

// Stop halts the background loop. Anything still buffered is left
// un-flushed — callers that need a clean shutdown should call Drain first.
func (a *Archiver) Stop() {
	close(a.stopCh)
	<-a.doneCh
}

// Enqueue satisfies room.Archiver. Non-blocking: it only touches the
// in-memory buffer, never the database, so a Room's single-writer loop
// never waits on durable-store I/O.
func (a *Archiver) Enqueue(g *protocol.Game) {
	if g.IsSolo {
		return
	}

	a.mu.Lock()
	if _, exists := a.buffer[g.GameId]; !exists {
		a.order = append(a.order, g.GameId)
	}
	a.buffer[g.GameId] = &pending{game: g, queued: time.Now()}
	bufferedRows := len(g.History) + len(g.Events)
	a.mu.Unlock()

	select {
	case a.flushNow <- g.GameId:
	default:
	}

	if bufferedRows >= flushThreshold {
		select {
		case a.flushNow <- g.GameId:
		default:
		}
	}
}

// Drain blocks until every currently-buffered game has been successfully
// flushed or ctx expires, used on graceful shutdown so a crash at the
// wrong moment doesn't lose a just-finished game's archival row.
func (a *Archiver) Drain(ctx context.Context) error {
	for {
		a.mu.Lock()
		remaining := len(a.buffer)
		a.mu.Unlock()
		if remaining == 0 {
			return nil
		}
		a.flushAll(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (a *Archiver) run() {
	defer close(a.doneCh)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			a.flushAll(ctx)
			cancel()
		case id := <-a.flushNow:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			a.flushOne(ctx, id)
			cancel()
		}
	}
}

// flushAll drains every buffered game, oldest first, stopping partway
// through if maxBatchRows worth of rows have already gone out this pass —
// the next tick picks up where this one left off.
func (a *Archiver) flushAll(ctx context.Context) {
	a.mu.Lock()
	ids := make([]protocol.GameId, len(a.order))
	copy(ids, a.order)
	a.mu.Unlock()

	written := 0
	for _, id := range ids {
		if written >= maxBatchRows {
			return
		}
		written += a.flushOne(ctx, id)
	}
}

// flushOne writes one game's summary row, move rows, event rows, and
// per-player aggregate counters in a single transaction. On failure the
// buffered entry is retained for the next attempt — no durability is
// claimed before a flush succeeds (§4.8).
func (a *Archiver) flushOne(ctx context.Context, id protocol.GameId) int {
	a.mu.Lock()
	p, ok := a.buffer[id]
	a.mu.Unlock()
	if !ok {
		return 0
	}

	rows := len(p.game.History) + len(p.game.Events)
	if err := a.writeGame(ctx, p.game); err != nil {
		a.mu.Lock()
		p.retries++
		a.mu.Unlock()
		a.log.Error("archive flush failed, retaining buffer", "gameId", string(id), "retries", p.retries, "err", err)
		return 0
	}

	a.mu.Lock()
	delete(a.buffer, id)
	a.removeFromOrderLocked(id)
	a.mu.Unlock()
	return rows
}

func (a *Archiver) removeFromOrderLocked(id protocol.GameId) {
	for i, v := range a.order {
		if v == id {
			a.order = append(a.order[:i], a.order[i+1:]...)
			return
		}
	}
}

// writeGame performs the whole archival write for one game as a single
// pgx transaction: move rows (batched, <=1000 per insert), event rows,
// the summary row, and the per-player aggregate counters.
func (a *Archiver) writeGame(ctx context.Context, g *protocol.Game) error {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// The player rows must land first (games.white_id/black_id carry a
	// foreign key to users), then the summary row (moves/game_events both
	// reference games(id)).
	if !g.IsSolo {
		if err := incrementPlayerStats(ctx, tx, g); err != nil {
			return err
		}
	}
	if err := insertSummary(ctx, tx, g); err != nil {
		return err
	}
	if err := insertMoves(ctx, tx, g); err != nil {
		return err
	}
	if err := insertEvents(ctx, tx, g); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

const insertMoveSQL = `
INSERT INTO moves (game_id, move_number, color, notation, uci, fen_after, is_ban)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

func insertMoves(ctx context.Context, tx pgx.Tx, g *protocol.Game) error {
	entries := g.History
	for start := 0; start < len(entries); start += maxBatchRows {
		end := start + maxBatchRows
		if end > len(entries) {
			end = len(entries)
		}
		batch := &pgx.Batch{}
		for _, e := range entries[start:end] {
			action, decodeErr := protocol.DecodeBCN(e.Action)
			uci := ""
			if decodeErr == nil {
				uci = action.UCI()
			}
			notation := e.SAN
			if notation == "" {
				notation = e.Action
			}
			batch.Queue(insertMoveSQL, string(g.GameId), e.TurnNumber, string(e.Player), notation, uci, e.FENAfter, e.Kind == protocol.KindBan)
		}
		if err := sendBatch(ctx, tx, batch, end-start); err != nil {
			return err
		}
	}
	return nil
}

const insertEventSQL = `
INSERT INTO game_events (game_id, event_type, event_data, timestamp)
VALUES ($1, $2, $3, $4)`

func insertEvents(ctx context.Context, tx pgx.Tx, g *protocol.Game) error {
	events := g.Events
	for start := 0; start < len(events); start += maxBatchRows {
		end := start + maxBatchRows
		if end > len(events) {
			end = len(events)
		}
		batch := &pgx.Batch{}
		for _, ev := range events[start:end] {
			data, err := json.Marshal(eventPayload{Message: ev.Message, Player: ev.Player, Metadata: ev.Metadata})
			if err != nil {
				return err
			}
			batch.Queue(insertEventSQL, string(g.GameId), string(ev.Type), data, time.UnixMilli(ev.TimestampMs))
		}
		if err := sendBatch(ctx, tx, batch, end-start); err != nil {
			return err
		}
	}
	return nil
}

type eventPayload struct {
	Message  string            `json:"message"`
	Player   protocol.Color    `json:"player,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func sendBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch, n int) error {
	br := tx.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

const insertSummarySQL = `
INSERT INTO games
    (id, white_id, black_id, fen_initial, fen_final, pgn, result, time_control,
     is_solo, started_at, completed_at, total_moves, total_bans, ban_moves, archived)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, true)
ON CONFLICT (id) DO UPDATE SET
    fen_final    = EXCLUDED.fen_final,
    pgn          = EXCLUDED.pgn,
    result       = EXCLUDED.result,
    completed_at = EXCLUDED.completed_at,
    total_moves  = EXCLUDED.total_moves,
    total_bans   = EXCLUDED.total_bans,
    ban_moves    = EXCLUDED.ban_moves,
    archived     = true`

func insertSummary(ctx context.Context, tx pgx.Tx, g *protocol.Game) error {
	pgn := ""
	if text, err := rules.PGNFromHistory(g.ActionHistory); err == nil {
		pgn = text
	}

	tc, err := json.Marshal(g.TimeControl)
	if err != nil {
		return err
	}

	var totalBans int
	banned := make([]string, 0)
	for _, e := range g.History {
		if e.Kind == protocol.KindBan {
			totalBans++
			banned = append(banned, e.Action)
		}
	}
	banJSON, err := json.Marshal(banned)
	if err != nil {
		return err
	}

	var whiteID, blackID *string
	if g.WhiteId != "" {
		s := string(g.WhiteId)
		whiteID = &s
	}
	if g.BlackId != "" {
		s := string(g.BlackId)
		blackID = &s
	}

	_, err = tx.Exec(ctx, insertSummarySQL,
		string(g.GameId), whiteID, blackID,
		protocol.InitialBanChessFEN, g.FEN, pgn, g.Result, tc,
		g.IsSolo, g.StartTime, g.LastActionTime, g.MoveCount, totalBans, banJSON,
	)
	return err
}

// The external session issuer owns the canonical users rows; the archiver
// upserts a minimal placeholder (username defaults to the id) when a seat
// has never been written, so the games foreign keys always resolve, and
// folds the counter increment into the same statement.
const incrementStatsSQL = `
INSERT INTO users (id, username, games_played, games_won, games_lost, games_drawn)
VALUES ($1, $1, 1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET
    games_played = users.games_played + 1,
    games_won    = users.games_won + EXCLUDED.games_won,
    games_lost   = users.games_lost + EXCLUDED.games_lost,
    games_drawn  = users.games_drawn + EXCLUDED.games_drawn`

// incrementPlayerStats updates both seats' aggregate counters from the
// game's final result string: a result naming a winner by color
// ("white won by checkmate") counts as a win and loss, and anything else
// ("draw by ...", "aborted") counts as a draw for both players.
func incrementPlayerStats(ctx context.Context, tx pgx.Tx, g *protocol.Game) error {
	whiteWon, blackWon, drawn := 0, 0, 0
	switch {
	case isWin(g.Result, protocol.White):
		whiteWon = 1
	case isWin(g.Result, protocol.Black):
		blackWon = 1
	default:
		drawn = 1
	}

	if g.WhiteId != "" {
		if _, err := tx.Exec(ctx, incrementStatsSQL, string(g.WhiteId), whiteWon, blackWon, drawn); err != nil {
			return err
		}
	}
	if g.BlackId != "" && g.BlackId != g.WhiteId {
		if _, err := tx.Exec(ctx, incrementStatsSQL, string(g.BlackId), blackWon, whiteWon, drawn); err != nil {
			return err
		}
	}
	return nil
}

func isWin(result string, c protocol.Color) bool {
	prefix := string(c) + " won"
	return len(result) >= len(prefix) && result[:len(prefix)] == prefix
}
