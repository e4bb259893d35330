package outbound

import (
	"context"
	"time"

	"github.com/kyodoai/dealdesk/internal/bus"
	"github.com/kyodoai/dealdesk/internal/platform"
	"github.com/kyodoai/dealdesk/internal/store"
	"go.uber.org/zap"
)

// MessageAppender is the slice of the platform client the sender needs.
type MessageAppender interface {
	AppendMessage(ctx context.Context, dealID, author, body string) (platform.Message, error)
}

// Confirmed is the message.confirmed payload: the optimistic row now
// carries this server identity.
type Confirmed struct {
	DealID      string
	ClientMsgID string
	ServerMsgID string
	SentAt      int64 // server-side creation time, unix millis
}

// SendFailed is the message.send_failed payload.
type SendFailed struct {
	DealID      string
	ClientMsgID string
	Reason      string
}

// Sender drains queued outbound messages and delivers them to the hosted
// store. The view layer has already inserted the optimistic pending row
// and queued the entry; the sender's job is delivery, confirmation and
// failure marking.
type Sender struct {
	db     *store.DB
	client MessageAppender
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

func NewSender(db *store.DB, client MessageAppender, b *bus.Bus, logger *zap.Logger) *Sender {
	return &Sender{
		db:     db,
		client: client,
		bus:    b,
		logger: logger,
	}
}

// Start begins polling the outbound queue.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.ProcessPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// ProcessPending delivers every queued entry once, oldest first.
func (s *Sender) ProcessPending(ctx context.Context) {
	pending, err := s.db.PendingOutbound()
	if err != nil {
		s.logger.Error("failed to read outbound queue", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if err := s.db.MarkOutboundSending(entry.ClientMsgID); err != nil {
			s.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			continue
		}

		srv, err := s.client.AppendMessage(ctx, entry.DealID, platform.AuthorUser, entry.Body)
		if err != nil {
			s.logger.Error("failed to send message", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			_ = s.db.MarkOutboundFailed(entry.ClientMsgID, err.Error())
			_ = s.db.MarkMessageFailed(entry.DealID, entry.ClientMsgID)
			s.bus.Publish(bus.Event{
				Kind:      bus.KindMessageFailed,
				Timestamp: time.Now(),
				Payload: SendFailed{
					DealID:      entry.DealID,
					ClientMsgID: entry.ClientMsgID,
					Reason:      err.Error(),
				},
			})
			continue
		}

		if err := s.db.MarkOutboundConfirmed(entry.ClientMsgID, srv.ID); err != nil {
			s.logger.Error("failed to mark confirmed", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		}
		// Rewrite the optimistic row to the server identity so the next
		// poll upserts onto it instead of duplicating.
		if err := s.db.ConfirmMessage(entry.DealID, entry.ClientMsgID, srv.ID, srv.CreatedAt.UnixMilli()); err != nil {
			s.logger.Error("failed to confirm message", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		}

		s.logger.Info("message sent",
			zap.String("client_msg_id", entry.ClientMsgID),
			zap.String("server_msg_id", srv.ID))
		s.bus.Publish(bus.Event{
			Kind:      bus.KindMessageConfirmed,
			Timestamp: time.Now(),
			Payload: Confirmed{
				DealID:      entry.DealID,
				ClientMsgID: entry.ClientMsgID,
				ServerMsgID: srv.ID,
				SentAt:      srv.CreatedAt.UnixMilli(),
			},
		})
	}
}
