package chat

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telemed/telemed/internal/domain/consultation"
	"github.com/telemed/telemed/internal/domain/identity"
)

// maxProtocolStrikes is how many malformed or unknown frames a connection
// may send before it is closed.
const maxProtocolStrikes = 3

// Session is the per-connection protocol handler. By the time a Session
// exists the connection is authenticated and authorized; Run drives the
// event loop, processing one inbound command to completion (persist, then
// broadcast) before reading the next, and guarantees deregistration on every
// exit path.
type Session struct {
	client        *Client
	user          *identity.User
	consultations *consultation.Service
	identities    *identity.Service
	registry      *Registry
	broadcaster   *Broadcaster
	logger        zerolog.Logger

	strikes int
}

func NewSession(
	client *Client,
	user *identity.User,
	consultations *consultation.Service,
	identities *identity.Service,
	registry *Registry,
	broadcaster *Broadcaster,
	logger zerolog.Logger,
) *Session {
	return &Session{
		client:        client,
		user:          user,
		consultations: consultations,
		identities:    identities,
		registry:      registry,
		broadcaster:   broadcaster,
		logger: logger.With().
			Str("consultation_id", client.ConsultationID.String()).
			Str("user_id", user.ID.String()).
			Logger(),
	}
}

// Run executes the event loop until the connection drops, the peer violates
// the protocol repeatedly, or ctx is cancelled. A fault while processing one
// command never terminates the process or other connections' loops.
func (s *Session) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("chat: session panic recovered")
		}
		s.registry.Unregister(s.client)
		s.client.Close()
		s.logger.Debug().Msg("chat: session closed")
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		data, err := s.client.Read()
		if err != nil {
			return
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			if !s.protocolError("malformed frame") {
				return
			}
			continue
		}

		if !s.dispatch(ctx, cmd) {
			return
		}
	}
}

// dispatch processes one command synchronously. It returns false when the
// session should end.
func (s *Session) dispatch(ctx context.Context, cmd Command) bool {
	switch cmd.Type {
	case CmdMessage:
		s.handleMessage(ctx, cmd)
	case CmdReadReceipt:
		s.handleReadReceipt(ctx, cmd)
	case CmdStatusUpdate:
		s.handleStatusUpdate(ctx, cmd)
	case CmdMarkRead:
		s.handleMarkRead(ctx)
	case CmdGetMessagesBulk:
		s.handleMessagesBulk(ctx)
	case CmdPing:
		s.reply(Event{Type: EventPong, ConsultationID: s.client.ConsultationID})
	default:
		return s.protocolError("unknown command type: " + cmd.Type)
	}
	return !s.client.Closed()
}

func (s *Session) handleMessage(ctx context.Context, cmd Command) {
	msg, err := s.consultations.SendMessage(ctx, s.client.ConsultationID, s.user.ID, cmd.Content)
	if err != nil {
		// Structural and exhausted-transient failures go to the sender
		// only; nothing is broadcast.
		s.replyError(err, cmd.TempID)
		return
	}

	// Acknowledge to the sender first, correlated to the client-supplied
	// temporary id, then fan out to everyone registered.
	s.reply(Event{
		Type:           EventMessage,
		ConsultationID: s.client.ConsultationID,
		Message:        msg,
		TempID:         cmd.TempID,
	})
	s.broadcaster.Broadcast(s.client.ConsultationID, Event{
		Type:           EventMessage,
		ConsultationID: s.client.ConsultationID,
		Message:        msg,
	})
}

func (s *Session) handleReadReceipt(ctx context.Context, cmd Command) {
	messageID, err := uuid.Parse(cmd.MessageID)
	if err != nil {
		s.reply(Event{
			Type:           EventError,
			ConsultationID: s.client.ConsultationID,
			Code:           CodeProtocol,
			Detail:         "invalid message_id",
		})
		return
	}

	flipped, err := s.consultations.MarkRead(ctx, s.client.ConsultationID, s.user.ID, messageID)
	if err != nil {
		s.replyError(err, "")
		return
	}
	if !flipped {
		// Already read: no broadcast, marking twice is not an error.
		return
	}

	s.broadcaster.Broadcast(s.client.ConsultationID, Event{
		Type:           EventReadReceipt,
		ConsultationID: s.client.ConsultationID,
		MessageID:      messageID.String(),
		ReaderID:       s.user.ID.String(),
	})
}

func (s *Session) handleStatusUpdate(ctx context.Context, cmd Command) {
	if cmd.Status != consultation.StatusCompleted {
		s.reply(Event{
			Type:           EventError,
			ConsultationID: s.client.ConsultationID,
			Code:           CodeInvalidState,
			Detail:         "only the completed status may be set over the socket",
		})
		return
	}

	cons, err := s.consultations.Complete(ctx, s.client.ConsultationID, s.user.ID, s.user.Role)
	if err != nil {
		s.replyError(err, "")
		return
	}

	s.broadcaster.Broadcast(s.client.ConsultationID, Event{
		Type:           EventStatusUpdate,
		ConsultationID: s.client.ConsultationID,
		Consultation:   cons,
	})
}

func (s *Session) handleMarkRead(ctx context.Context) {
	flipped, err := s.consultations.MarkAllRead(ctx, s.client.ConsultationID, s.user.ID)
	if err != nil {
		s.replyError(err, "")
		return
	}
	if flipped == 0 {
		return
	}

	s.broadcaster.Broadcast(s.client.ConsultationID, Event{
		Type:           EventMessagesRead,
		ConsultationID: s.client.ConsultationID,
		ReaderID:       s.user.ID.String(),
	})
}

func (s *Session) handleMessagesBulk(ctx context.Context) {
	cons, err := s.consultations.Get(ctx, s.client.ConsultationID)
	if err != nil {
		s.replyError(err, "")
		return
	}

	msgs, err := s.consultations.History(ctx, s.client.ConsultationID)
	if err != nil {
		s.replyError(err, "")
		return
	}

	// History enrichment is best effort: a missing profile must not block
	// the transcript.
	participants := &Participants{}
	if p, err := s.identities.ParticipantSummary(ctx, cons.PatientID); err == nil {
		participants.Patient = p
	}
	if p, err := s.identities.ParticipantSummary(ctx, cons.DoctorID); err == nil {
		participants.Doctor = p
	}

	// History goes to the requesting connection only.
	s.reply(Event{
		Type:           EventMessagesBulk,
		ConsultationID: s.client.ConsultationID,
		Messages:       msgs,
		Consultation:   cons,
		Participants:   participants,
	})

	// Receiving the transcript implies reading it: flip the other
	// participant's unread messages and tell everyone.
	flipped, err := s.consultations.MarkAllRead(ctx, s.client.ConsultationID, s.user.ID)
	if err != nil || flipped == 0 {
		return
	}
	s.broadcaster.Broadcast(s.client.ConsultationID, Event{
		Type:           EventMessagesRead,
		ConsultationID: s.client.ConsultationID,
		ReaderID:       s.user.ID.String(),
	})
}

// reply sends an event to this session's connection only.
func (s *Session) reply(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Error().Err(err).Str("event", event.Type).Msg("chat: failed to marshal reply")
		return
	}
	if !s.client.TrySend(data, s.broadcaster.sendTimeout) {
		s.client.Close()
	}
}

// replyError converts a message-store failure into a typed error event for
// the originating connection only.
func (s *Session) replyError(err error, tempID string) {
	code := CodeInternal
	detail := "internal error"
	switch {
	case errors.Is(err, consultation.ErrNotFound):
		code, detail = CodeNotFound, "consultation or message not found"
	case errors.Is(err, consultation.ErrForbidden):
		code, detail = CodeForbidden, "access denied"
	case errors.Is(err, consultation.ErrLimitExceeded):
		code, detail = CodeLimitExceeded, "message limit reached; extend the consultation to continue"
	case errors.Is(err, consultation.ErrInvalidState):
		code, detail = CodeInvalidState, "consultation is not active"
	case errors.Is(err, consultation.ErrConflict):
		code, detail = CodeTransient, "could not save the message, please retry"
	default:
		s.logger.Error().Err(err).Msg("chat: command failed")
	}

	s.reply(Event{
		Type:           EventError,
		ConsultationID: s.client.ConsultationID,
		Code:           code,
		Detail:         detail,
		TempID:         tempID,
	})
}

// protocolError replies a protocol error and reports whether the session may
// continue; repeated violations close the connection.
func (s *Session) protocolError(detail string) bool {
	s.strikes++
	s.logger.Warn().Int("strikes", s.strikes).Str("detail", detail).Msg("chat: protocol violation")
	s.reply(Event{
		Type:           EventError,
		ConsultationID: s.client.ConsultationID,
		Code:           CodeProtocol,
		Detail:         detail,
	})
	return s.strikes < maxProtocolStrikes && !s.client.Closed()
}
