package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"waitline/internal/api"
	"waitline/internal/broadcast"
	"waitline/internal/logging"
)

const sseKeepAlive = 15 * time.Second

// handleWebSocket streams one JSON snapshot per text frame. Client frames
// are read only to answer pings and close.
func (s *apiServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log().Debug("websocket upgrade failed", logging.Error(err))
		return
	}
	defer conn.Close()

	obs := &wsObserver{conn: conn, writeTimeout: s.writeTimeout}
	sub := s.daemon.hub.Subscribe()
	defer sub.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		_ = obs.readLoop()
	}()

	logger := logging.WithContext(r.Context(), s.log())
	logger.Debug("websocket observer connected", logging.String("subscription", sub.ID))

	for {
		select {
		case <-ctx.Done():
			obs.goAway()
			return
		case msg, ok := <-sub.C():
			if !ok {
				obs.goAway()
				return
			}
			data, err := encodeMessage(msg)
			if err != nil {
				logger.Error("failed to encode snapshot", logging.Error(err))
				return
			}
			if err := obs.write(ws.OpText, data); err != nil {
				logger.Debug("websocket observer dropped", logging.String("subscription", sub.ID), logging.Error(err))
				return
			}
		}
	}
}

// wsObserver owns the write side of one observer connection. Snapshots and
// control replies share mu so frames never interleave on the wire.
type wsObserver struct {
	conn         net.Conn
	writeTimeout time.Duration

	mu        sync.Mutex
	closeSent bool
}

func (o *wsObserver) write(op ws.OpCode, payload []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closeSent {
		return net.ErrClosed
	}
	if op == ws.OpClose {
		o.closeSent = true
	}
	if o.writeTimeout > 0 {
		_ = o.conn.SetWriteDeadline(time.Now().Add(o.writeTimeout))
	}
	return wsutil.WriteServerMessage(o.conn, op, payload)
}

func (o *wsObserver) goAway() {
	_ = o.write(ws.OpClose, ws.NewCloseFrameBody(ws.StatusGoingAway, "shutting down"))
}

// readLoop consumes client frames until the connection fails or the client
// closes it. Data frames are discarded.
func (o *wsObserver) readLoop() error {
	rd := &wsutil.Reader{
		Source:         o.conn,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		OnIntermediate: o.handleControl,
	}
	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return err
		}
		if hdr.OpCode.IsControl() {
			if err := o.handleControl(hdr, rd); err != nil {
				return err
			}
			continue
		}
		if err := rd.Discard(); err != nil {
			return err
		}
	}
}

func (o *wsObserver) handleControl(hdr ws.Header, r io.Reader) error {
	payload, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	switch hdr.OpCode {
	case ws.OpPing:
		return o.write(ws.OpPong, payload)
	case ws.OpClose:
		code, reason := ws.ParseCloseFrameData(payload)
		var body []byte
		if !code.Empty() {
			body = ws.NewCloseFrameBody(code, "")
		}
		_ = o.write(ws.OpClose, body)
		return wsutil.ClosedError{Code: code, Reason: reason}
	}
	return nil
}

// handleEvents streams snapshots as Server-Sent Events.
func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	sub := s.daemon.hub.Subscribe()
	defer sub.Close()

	logger := logging.WithContext(r.Context(), s.log())
	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	write := func(frame string) bool {
		if s.writeTimeout > 0 {
			_ = rc.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		}
		if _, err := fmt.Fprint(w, frame); err != nil {
			logger.Debug("event observer dropped", logging.String("subscription", sub.ID), logging.Error(err))
			return false
		}
		return rc.Flush() == nil
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if !write(": keepalive\n\n") {
				return
			}
		case msg, ok := <-sub.C():
			if !ok {
				return
			}
			data, err := encodeMessage(msg)
			if err != nil {
				logger.Error("failed to encode snapshot", logging.Error(err))
				return
			}
			if !write(fmt.Sprintf("id: %d\nevent: snapshot\ndata: %s\n\n", msg.Sequence, data)) {
				return
			}
		}
	}
}

func encodeMessage(msg broadcast.Message) ([]byte, error) {
	return json.Marshal(api.FromSnapshot(msg.Snapshot, msg.Sequence))
}
