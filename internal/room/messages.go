package room

import (
	"time"

	"github.com/banchess/server/internal/protocol"
)

type joinMsg struct {
	userId protocol.UserId
	reply  func(frame any, err error)
}

type submitActionMsg struct {
	userId       protocol.UserId
	action       protocol.Action
	receivedAtMs int64
	reply        func(frame any, err error)
}

type giveTimeMsg struct {
	userId protocol.UserId
	amount time.Duration
	reply  func(frame any, err error)
}

type resignMsg struct {
	userId protocol.UserId
	reply  func(frame any, err error)
}

type offerDrawMsg struct {
	userId protocol.UserId
	reply  func(frame any, err error)
}

type acceptDrawMsg struct {
	userId protocol.UserId
	reply  func(frame any, err error)
}

type declineDrawMsg struct {
	userId protocol.UserId
	reply  func(frame any, err error)
}

type shutdownMsg struct{}

// Join attaches userId to this room. The full-state frame (or an error)
// is delivered synchronously via reply, before any later broadcast the
// caller subscribes to afterward — preserving the §5 per-client ordering
// guarantee.
func (r *Room) Join(userId protocol.UserId, reply func(frame any, err error)) bool {
	return r.Send(joinMsg{userId: userId, reply: reply})
}

func (r *Room) SubmitAction(userId protocol.UserId, action protocol.Action, receivedAtMs int64, reply func(frame any, err error)) bool {
	return r.Send(submitActionMsg{userId: userId, action: action, receivedAtMs: receivedAtMs, reply: reply})
}

// GiveTime credits time to userId's opponent — the frame carries no
// explicit recipient (§6: `give-time` takes only `gameId, amount?`), so
// the Room derives the opponent seat itself from the submitter's color.
func (r *Room) GiveTime(userId protocol.UserId, amount time.Duration, reply func(frame any, err error)) bool {
	return r.Send(giveTimeMsg{userId: userId, amount: amount, reply: reply})
}

func (r *Room) Resign(userId protocol.UserId, reply func(frame any, err error)) bool {
	return r.Send(resignMsg{userId: userId, reply: reply})
}

func (r *Room) OfferDraw(userId protocol.UserId, reply func(frame any, err error)) bool {
	return r.Send(offerDrawMsg{userId: userId, reply: reply})
}

func (r *Room) AcceptDraw(userId protocol.UserId, reply func(frame any, err error)) bool {
	return r.Send(acceptDrawMsg{userId: userId, reply: reply})
}

func (r *Room) DeclineDraw(userId protocol.UserId, reply func(frame any, err error)) bool {
	return r.Send(declineDrawMsg{userId: userId, reply: reply})
}

// Shutdown requests a graceful stop of the processing loop.
func (r *Room) Shutdown() {
	r.Send(shutdownMsg{})
}
