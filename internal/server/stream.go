package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/loothing/lodestone/internal/auth"
	"github.com/loothing/lodestone/internal/domain"
	"github.com/loothing/lodestone/internal/protocol"
	"github.com/loothing/lodestone/internal/session"
	redisstore "github.com/loothing/lodestone/internal/store/redis"
)

// Application close codes, in the websocket private range.
const (
	closeUnauthorized = websocket.StatusCode(4001)
	closeRateLimited  = websocket.StatusCode(4029)
)

// streamConn is the server side of one websocket stream: a read loop on
// the request goroutine, one writer goroutine draining outbound, and a
// teardown that runs exactly once regardless of which side closes.
type streamConn struct {
	conn    *websocket.Conn
	server  *Server
	session *session.Session
	ctxID   string

	outbound chan []byte

	mu      sync.Mutex
	uploads map[string]func() // upload id -> subscription cancel

	teardown sync.Once
}

// handleStream upgrades the connection and runs the stream protocol.
// Authentication and the connection-slot quota check happen before any
// session state is allocated; failures close with application codes so
// clients can distinguish "fix your key" from "try again later".
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	secret := r.URL.Query().Get("api_key")
	if secret == "" {
		secret = r.Header.Get("X-API-Key")
	}

	result, err := s.auth.Authenticate(r.Context(), secret)
	if err != nil {
		_ = conn.Close(closeUnauthorized, "authentication failed")
		return
	}
	if !result.HasCapability(domain.CapabilityStream) {
		_ = conn.Close(closeUnauthorized, "missing stream capability")
		return
	}

	sessionID := uuid.New()

	// Reserves the connection slot atomically with the quota check;
	// every failure path from here on must release it.
	if err := s.auth.CheckQuota(result.ClientID, result.Quota, 0, &sessionID); err != nil {
		reason := "rate limited"
		if rle, ok := auth.AsRateLimit(err); ok {
			reason = string(rle.Kind)
		}
		_ = conn.Close(closeRateLimited, reason)
		return
	}

	cred, err := s.store.Credentials().GetByID(r.Context(), result.CredentialID)
	if err != nil {
		s.auth.UntrackConnection(result.ClientID, sessionID)
		log.Error().Err(err).Str("client_id", result.ClientID).Msg("credential fetch after auth")
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}

	sess, err := s.registry.Create(result.ClientID, sessionID, cred)
	if err != nil {
		s.auth.UntrackConnection(result.ClientID, sessionID)
		if errors.Is(err, session.ErrCapacityExceeded) {
			_ = conn.Close(websocket.StatusTryAgainLater, "server at capacity")
			return
		}
		log.Error().Err(err).Msg("session create")
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}

	ctxID, err := s.coordinator.CreateContext(sess)
	if err != nil {
		s.auth.UntrackConnection(result.ClientID, sessionID)
		s.registry.Remove(sessionID)
		log.Error().Err(err).Msg("processing context create")
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}

	sc := &streamConn{
		conn:     conn,
		server:   s,
		session:  sess,
		ctxID:    ctxID,
		outbound: make(chan []byte, 64),
		uploads:  make(map[string]func()),
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	defer sc.close()

	go sc.writeLoop(ctx)

	sc.send(protocol.Status("connected", map[string]any{
		"session_id":   sessionID.String(),
		"client_id":    result.ClientID,
		"capabilities": result.Capabilities,
		"rate_limits": map[string]any{
			"events_per_minute": result.Quota.EventsPerMinute,
			"max_connections":   result.Quota.MaxConnections,
		},
	}))

	sc.readLoop(ctx)
}

// readLoop consumes client messages until the connection drops or the
// client ends the session. Malformed messages get an error reply and
// the stream continues.
func (sc *streamConn) readLoop(ctx context.Context) {
	for {
		typ, data, err := sc.conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			sc.send(protocol.ErrorReply("binary frames not supported", nil))
			continue
		}

		msg, err := protocol.DecodeClient(data)
		if err != nil {
			sc.send(protocol.ErrorReply(err.Error(), nil))
			continue
		}

		sc.session.Touch()

		switch m := msg.(type) {
		case protocol.LogLine:
			sc.handleLogLine(m)

		case protocol.StartSession:
			sc.session.Activate(session.Metadata{
				ClientVersion: m.Meta.ClientVersion,
				CharacterName: m.Meta.CharacterName,
				Realm:         m.Meta.Realm,
				Region:        m.Meta.Region,
			})
			sc.send(protocol.Status("session_started", map[string]any{
				"session_id": sc.session.ID.String(),
			}))

		case protocol.EndSession:
			sc.send(protocol.Status("session_ended", nil))
			_ = sc.conn.Close(websocket.StatusNormalClosure, "session ended")
			return

		case protocol.Heartbeat:
			sc.session.Heartbeat()
			sc.send(protocol.Status("heartbeat_ack", nil))

		case protocol.Checkpoint:
			sc.session.AcknowledgeSequence(m.Sequence)
			sc.send(protocol.Ack(m.Sequence, map[string]any{
				"last_sequence_ack": sc.session.LastAck(),
			}))

		case protocol.SubscribeUpload:
			sc.subscribeUpload(ctx, m.UploadID)

		case protocol.UnsubscribeUpload:
			sc.unsubscribeUpload(m.UploadID)
		}
	}
}

func (sc *streamConn) handleLogLine(m protocol.LogLine) {
	seq, err := sc.server.coordinator.ProcessLine(sc.ctxID, m.Line, protocol.UnixTime(m.Timestamp), m.Sequence)
	if err != nil {
		if rle, ok := auth.AsRateLimit(err); ok {
			sc.send(protocol.ErrorReply("rate limited", map[string]any{
				"reason": string(rle.Kind),
			}))
			return
		}
		sc.send(protocol.ErrorReply("line rejected", nil))
		return
	}

	sc.send(protocol.Ack(seq, nil))
}

// subscribeUpload relays upload progress from Redis onto this stream as
// metrics messages. One subscription per upload id per connection.
func (sc *streamConn) subscribeUpload(ctx context.Context, uploadID string) {
	sc.mu.Lock()
	if _, exists := sc.uploads[uploadID]; exists {
		sc.mu.Unlock()
		sc.send(protocol.Status("already_subscribed", map[string]any{"upload_id": uploadID}))
		return
	}
	sc.mu.Unlock()

	subCtx, cancel := context.WithCancel(ctx)
	messages, cleanup, err := sc.server.pubsub.Subscribe(subCtx, redisstore.UploadChannel(uploadID))
	if err != nil {
		cancel()
		sc.send(protocol.ErrorReply("subscribe failed", map[string]any{"upload_id": uploadID}))
		return
	}

	sc.mu.Lock()
	sc.uploads[uploadID] = func() {
		cancel()
		cleanup()
	}
	sc.mu.Unlock()

	go func() {
		for payload := range messages {
			sc.send(protocol.Metrics(map[string]any{
				"upload_id": uploadID,
				"progress":  string(payload),
			}))
		}
	}()

	sc.send(protocol.Status("subscribed", map[string]any{"upload_id": uploadID}))
}

func (sc *streamConn) unsubscribeUpload(uploadID string) {
	sc.mu.Lock()
	cancel, ok := sc.uploads[uploadID]
	if ok {
		delete(sc.uploads, uploadID)
	}
	sc.mu.Unlock()

	if ok {
		cancel()
	}
	sc.send(protocol.Status("unsubscribed", map[string]any{"upload_id": uploadID}))
}

// writeLoop is the single writer for the connection.
func (sc *streamConn) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-sc.outbound:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := sc.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				log.Debug().Err(err).Msg("websocket write")
				return
			}
		}
	}
}

// send encodes and queues an outbound message. A full outbound queue
// drops the message; acknowledgments are advisory and the checkpoint
// flow recovers the high-water mark.
func (sc *streamConn) send(msg protocol.ServerMessage) {
	data, err := msg.Encode()
	if err != nil {
		log.Error().Err(err).Msg("encode server message")
		return
	}

	select {
	case sc.outbound <- data:
	default:
		log.Warn().Str("session_id", sc.session.ID.String()).Msg("outbound queue full, message dropped")
	}
}

// close runs the teardown path exactly once: drain and persist via the
// coordinator, release the connection slot, record cumulative usage.
func (sc *streamConn) close() {
	sc.teardown.Do(func() {
		sc.mu.Lock()
		cancels := make([]func(), 0, len(sc.uploads))
		for _, cancel := range sc.uploads {
			cancels = append(cancels, cancel)
		}
		sc.uploads = map[string]func(){}
		sc.mu.Unlock()
		for _, cancel := range cancels {
			cancel()
		}

		sc.server.coordinator.StopContext(sc.ctxID)
		sc.server.auth.UntrackConnection(sc.session.ClientID, sc.session.ID)
		sc.server.registry.Remove(sc.session.ID)

		snap := sc.session.Snapshot()
		if sc.session.Cred != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			sc.server.auth.RecordUsage(ctx, sc.session.Cred.ID, int64(snap.Metrics.TotalEvents), 1)
			cancel()
		}

		log.Info().
			Str("session_id", sc.session.ID.String()).
			Str("client_id", sc.session.ClientID).
			Uint64("events", snap.Metrics.TotalEvents).
			Msg("stream closed")
	})
}
