package server

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/nlowell/bizsock/internal/bizcontext"
	"github.com/nlowell/bizsock/internal/connection"
	"github.com/nlowell/bizsock/internal/protocol"
	"github.com/nlowell/bizsock/internal/router"
)

// Route priorities for the built-in handlers. Liveness handling outranks
// everything; context switches outrank ordinary traffic.
const (
	priorityLiveness = 100
	priorityControl  = 50
	priorityDefault  = 0
)

// registerRoutes installs the built-in protocol routes.
func (s *Server) registerRoutes() {
	s.router.AddRoute(protocol.TypeHeartbeat, s.handleHeartbeat, router.RouteOptions{Priority: priorityLiveness})
	s.router.AddRoute(protocol.TypeSocketSwitch, s.handleSocketSwitch, router.RouteOptions{Priority: priorityControl})
	s.router.AddRoute(protocol.TypeRoomJoin, s.handleRoomJoin, router.RouteOptions{Priority: priorityDefault})
	s.router.AddRoute(protocol.TypeRoomLeave, s.handleRoomLeave, router.RouteOptions{Priority: priorityDefault})
	s.router.AddRoute(protocol.TypeBroadcast, s.handleBroadcast, router.RouteOptions{Priority: priorityDefault})
	s.router.AddRoute(protocol.TypeBusinessEvent, s.handleBusinessEvent, router.RouteOptions{Priority: priorityDefault, RetryOnError: true})
	s.router.AddRoute(protocol.TypeClientLeave, s.handleClientLeave, router.RouteOptions{Priority: priorityDefault})
}

// ack replies to the sender, correlated to the triggering message.
func (s *Server) ack(senderID string, original *protocol.Message, data map[string]any) {
	reply := protocol.NewMessage(protocol.TypeAck, data)
	reply.MessageID = uuid.NewString()
	reply.CorrelationID = original.MessageID
	reply.TargetClient = senderID

	if err := s.reg.Send(senderID, reply); err != nil {
		s.logger.Debug("ack undeliverable", "conn_id", senderID, "error", err)
	}
}

func (s *Server) handleHeartbeat(_ context.Context, msg *protocol.Message, rc *router.RouteContext) error {
	s.reg.TouchLiveness(rc.SenderID)
	s.ack(rc.SenderID, msg, map[string]any{"alive": true})
	return nil
}

func (s *Server) handleRoomJoin(_ context.Context, msg *protocol.Message, rc *router.RouteContext) error {
	room, _ := msg.Data["room"].(string)
	if err := s.rooms.Join(rc.SenderID, room); err != nil {
		return fmt.Errorf("join %q: %w", room, err)
	}
	s.ack(rc.SenderID, msg, map[string]any{
		"room":    room,
		"members": len(s.rooms.MembersOf(room)),
	})
	return nil
}

func (s *Server) handleRoomLeave(_ context.Context, msg *protocol.Message, rc *router.RouteContext) error {
	room, _ := msg.Data["room"].(string)
	if err := s.rooms.Leave(rc.SenderID, room); err != nil {
		return fmt.Errorf("leave %q: %w", room, err)
	}
	s.ack(rc.SenderID, msg, map[string]any{"room": room})
	return nil
}

// handleBroadcast fans a message out. Precedence: a target client gets a
// direct send, a room goes to that room's members, otherwise every
// connection hears it. The sender never receives its own broadcast.
func (s *Server) handleBroadcast(_ context.Context, msg *protocol.Message, rc *router.RouteContext) error {
	if msg.TargetClient != "" {
		if err := s.reg.Send(msg.TargetClient, msg); err != nil {
			if errors.Is(err, connection.ErrNotConnected) {
				return protocol.NewError(protocol.CodeClientNotFound, "target client not connected")
			}
			return err
		}
		return nil
	}

	if msg.Room != "" {
		info, ok := s.reg.Get(rc.SenderID)
		if !ok || !slices.Contains(info.Rooms, msg.Room) {
			return protocol.NewError(protocol.CodePermissionDenied, "broadcast to a room requires membership")
		}
		s.reg.BroadcastToRoom(msg.Room, msg, rc.SenderID)
		return nil
	}

	s.reg.Broadcast(msg, rc.SenderID)
	return nil
}

func (s *Server) handleSocketSwitch(ctx context.Context, msg *protocol.Message, rc *router.RouteContext) error {
	target, _ := msg.Data["context"].(string)
	opts, _ := msg.Data["options"].(map[string]any)

	res, err := s.coord.Switch(ctx, target, opts, rc.SenderID)
	if err != nil {
		if errors.Is(err, bizcontext.ErrUnknownContext) {
			return protocol.NewError(protocol.CodeContextNotFound, err.Error())
		}
		return protocol.NewError(protocol.CodeContextSwitchFailed, err.Error())
	}

	if res.AlreadyActive {
		s.ack(rc.SenderID, msg, map[string]any{
			"context": target,
			"status":  "already active",
		})
		return nil
	}

	s.ack(rc.SenderID, msg, map[string]any{
		"from": res.From,
		"to":   res.To,
	})
	return nil
}

func (s *Server) handleBusinessEvent(ctx context.Context, msg *protocol.Message, rc *router.RouteContext) error {
	eventType, _ := msg.Data["eventType"].(string)
	payload, _ := msg.Data["payload"].(map[string]any)

	result, err := s.coord.HandleEvent(ctx, bizcontext.Event{
		Type:     eventType,
		Payload:  payload,
		ClientID: rc.SenderID,
	})
	if err != nil {
		return protocol.NewError(protocol.CodeBusinessEventFailed, err.Error())
	}

	s.ack(rc.SenderID, msg, map[string]any{
		"eventType": eventType,
		"result":    map[string]any(result),
	})
	return nil
}

func (s *Server) handleClientLeave(_ context.Context, msg *protocol.Message, rc *router.RouteContext) error {
	s.ack(rc.SenderID, msg, map[string]any{"goodbye": true})
	s.reg.Remove(rc.SenderID, "client requested leave")
	return nil
}
