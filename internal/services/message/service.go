package message

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"conclave/internal/domain"
)

// Service sends and receives group messages over the relay.
//
// High-level flow:
//   - Send: encrypt under the group's current epoch and hand the frame
//     to the relay for every member but us.
//   - Receive: hold the delivery stream open, route welcomes to the
//     join path and everything else through the engine, and report
//     each decrypted event to the caller.
type Service struct {
	ids    domain.IdentityStore
	engine domain.GroupEngine
	relay  domain.RelayClient
	log    *zap.Logger
}

// New constructs a message service with the given store, engine, relay
// client, and logger.
func New(ids domain.IdentityStore, engine domain.GroupEngine, relay domain.RelayClient, log *zap.Logger) *Service {
	return &Service{ids: ids, engine: engine, relay: relay, log: log}
}

// Send encrypts plaintext for group and fans it out to the other
// members. A sole member has no one to tell; the send is a no-op.
func (s *Service) Send(ctx context.Context, group domain.GroupID, plaintext []byte) error {
	id, err := s.ids.LoadIdentity()
	if err != nil {
		return err
	}
	members, err := s.engine.Members(group)
	if err != nil {
		return err
	}
	frame, err := s.engine.Encrypt(group, plaintext)
	if err != nil {
		return err
	}

	recipients := make([]string, 0, len(members))
	for _, m := range members {
		if m != id.Name {
			recipients = append(recipients, m)
		}
	}
	if len(recipients) == 0 {
		return nil
	}
	if _, err := s.relay.SendMessage(ctx, id.Name, recipients, frame); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// Receive runs until ctx ends, the relay closes the stream, or a fatal
// protocol error surfaces. Every decrypted application message, merged
// commit, staged proposal, and completed join is reported through
// deliver.
func (s *Service) Receive(ctx context.Context, deliver func(domain.Event)) error {
	id, err := s.ids.LoadIdentity()
	if err != nil {
		return err
	}

	stream, err := s.relay.ReceiveMessages(ctx, id.Name)
	if err != nil {
		return fmt.Errorf("open receive stream: %w", err)
	}
	defer stream.Close()

	for {
		d, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			// A dead stream after cancellation is the normal way out.
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive stream: %w", err)
		}
		if err := s.handleFrame(d.Content, deliver); err != nil {
			return err
		}
	}
}

// handleFrame routes one delivery. A nil return keeps the loop
// running; dropped frames are logged and nil.
func (s *Service) handleFrame(frame []byte, deliver func(domain.Event)) error {
	kind, _, err := s.engine.Inspect(frame)
	if err != nil {
		// Undecodable bytes could come from anyone; dropping them is
		// the same call as dropping a non-member sender.
		s.log.Warn("dropping undecodable frame", zap.Error(err))
		return nil
	}

	switch kind {
	case domain.KindWelcome:
		group, err := s.engine.JoinFromWelcome(frame)
		if errors.Is(err, domain.ErrStaleEpoch) {
			s.log.Warn("dropping stale welcome", zap.Error(err))
			return nil
		}
		if err != nil {
			return err
		}
		deliver(domain.Event{Kind: domain.KindWelcome, Group: group})
		return nil

	case domain.KindApplication, domain.KindProposal, domain.KindCommit:
		ev, err := s.engine.ProcessIncoming(frame)
		switch {
		case err == nil:
			deliver(ev)
			return nil
		case errors.Is(err, domain.ErrUnknownSender):
			s.log.Warn("dropping frame from non-member", zap.Error(err))
			return nil
		case errors.Is(err, domain.ErrStaleEpoch):
			s.log.Debug("dropping stale frame", zap.Error(err))
			return nil
		default:
			return err
		}

	default:
		// Key package and group info frames have no business on the
		// message stream.
		return fmt.Errorf("%s frame on the message stream: %w", kind, domain.ErrProtocolViolation)
	}
}

// Compile-time assertion that Service implements domain.MessageService.
var _ domain.MessageService = (*Service)(nil)
