package control

import (
	"errors"
	"fmt"
	"time"

	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/playback"
	"github.com/zsiec/reel/internal/session"
)

var (
	// ErrUnknownCommand is returned for a command name Execute does not know.
	ErrUnknownCommand = errors.New("control: unknown command")
	// ErrBadRequest is returned when a command lacks a required argument.
	ErrBadRequest = errors.New("control: bad request")
)

// Command is a remote playback instruction, shared by the REST API and the
// MQTT bridge.
type Command struct {
	Command string `json:"command"`
	Session string `json:"session"`
	// Direction is the play step: negative plays backward, anything else
	// forward.
	Direction  int     `json:"direction,omitempty"`
	Background bool    `json:"background,omitempty"`
	Frame      *int64  `json:"frame,omitempty"`
	Mode       string  `json:"mode,omitempty"`
	Speed      float64 `json:"speed,omitempty"`
}

// Response acknowledges a Command.
type Response struct {
	Ack       string          `json:"ack"`
	Session   string          `json:"session,omitempty"`
	Status    string          `json:"status"`
	State     *playback.State `json:"state,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Execute applies cmd to its session and returns the resulting state.
func Execute(sessions *session.Manager, cmd Command) (playback.State, error) {
	s, err := sessions.Get(cmd.Session)
	if err != nil {
		return playback.State{}, err
	}
	ctrl := s.Ctrl

	switch cmd.Command {
	case "play":
		dir := media.Forward
		if cmd.Direction < 0 {
			dir = media.Backward
		}
		err = ctrl.Play(dir, !cmd.Background)
	case "stop":
		ctrl.Stop()
	case "seek":
		if cmd.Frame == nil {
			return playback.State{}, fmt.Errorf("%w: seek needs a frame", ErrBadRequest)
		}
		err = ctrl.Seek(*cmd.Frame)
	case "loop":
		var mode playback.LoopMode
		if mode, err = playback.ParseLoopMode(cmd.Mode); err != nil {
			return playback.State{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		ctrl.SetLoopMode(mode)
	case "speed":
		if cmd.Speed <= 0 {
			return playback.State{}, fmt.Errorf("%w: speed must be positive", ErrBadRequest)
		}
		ctrl.SetSpeed(cmd.Speed)
	case "state":
	default:
		return playback.State{}, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Command)
	}
	return ctrl.State(), err
}

// respond runs cmd and wraps the outcome.
func respond(sessions *session.Manager, cmd Command) Response {
	resp := Response{Ack: cmd.Command, Session: cmd.Session, Timestamp: time.Now()}
	st, err := Execute(sessions, cmd)
	if err != nil {
		resp.Status = "error"
		resp.Error = err.Error()
		return resp
	}
	resp.Status = "ok"
	resp.State = &st
	return resp
}
