package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/zlib"
	"go.uber.org/zap"
)

// Gateway owns the websocket connection lifecycle: dialing, the read loop,
// the heartbeat loop, and the resume-or-identify decision on every close.
// One Gateway serves one Session for the life of the process.
type Gateway struct {
	token   string
	session *Session
	client  *Client
	log     *zap.SugaredLogger

	dialer      *websocket.Dialer
	RateLimiter RateLimiter

	socketMutex sync.Mutex // serializes socket writes
	sync.RWMutex
	conn      *websocket.Conn
	listening chan interface{}
	closeCode int // set when we initiated the close
}

func NewGateway(token string, client *Client, session *Session, log *zap.SugaredLogger) *Gateway {
	g := &Gateway{
		token:   token,
		session: session,
		client:  client,
		log:     log,
		dialer:  websocket.DefaultDialer,
	}
	g.RateLimiter = NewRateLimiter()
	return g
}

// Initialize brings the first connection up. Application initialization runs
// concurrently; when it hasn't finished yet the connection attempt waits it
// out inside retrieveSocket.
func (g *Gateway) Initialize(ctx context.Context) error {
	if !g.session.HasInitializedApp || g.session.GatewayURL == "" {
		time.Sleep(time.Second * 3)
	}
	return g.establishConnection(ctx, g.session.GatewayURL)
}

// establishConnection keeps attempting until a socket is up or ctx ends.
// Dial errors are classified and retried; the backoff lives in
// retrieveSocket's connection-error handling.
func (g *Gateway) establishConnection(ctx context.Context, gatewayURL string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := g.retrieveSocket(ctx, gatewayURL); err == nil {
			return nil
		}
		time.Sleep(time.Second * 3)
	}
}

// retrieveSocket resolves the connection to use: a resume always dials
// fresh, an existing socket is reused, and everything else waits for
// application initialization and any pending connection error to clear.
func (g *Gateway) retrieveSocket(ctx context.Context, gatewayURL string) (*websocket.Conn, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if g.session.Resuming {
			return g.dial(ctx, gatewayURL)
		}

		g.RLock()
		conn := g.conn
		g.RUnlock()
		if conn != nil {
			return conn, nil
		}

		if g.session.HasInitializedApp && gatewayURL != "" {
			if g.session.ConnectionHasError {
				g.session.ConnectionHasError = false
				time.Sleep(time.Second * 3)
				continue
			}
			return g.dial(ctx, gatewayURL)
		}

		time.Sleep(time.Second * 3)
		if g.session.GatewayURL != "" {
			gatewayURL = g.session.GatewayURL
		}
	}
}

func (g *Gateway) dial(ctx context.Context, gatewayURL string) (*websocket.Conn, error) {
	gatewayHeaders := http.Header{}
	gatewayHeaders.Add("accept-encoding", "zlib")

	conn, _, err := g.dialer.DialContext(ctx, gatewayURL, gatewayHeaders)
	if err != nil {
		g.classifyNetErr(err)
		return nil, err
	}

	g.Lock()
	g.conn = conn
	g.closeCode = 0
	g.listening = make(chan interface{})
	listening := g.listening
	g.Unlock()

	g.RateLimiter.Reset()

	go g.listen(ctx, conn, listening)

	return conn, nil
}

func (g *Gateway) listen(ctx context.Context, conn *websocket.Conn, listening <-chan interface{}) {
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			g.RLock()
			sameConnection := g.conn == conn
			code := g.closeCode
			g.RUnlock()

			if !sameConnection {
				return
			}

			if code == 0 {
				var closeErr *websocket.CloseError
				if errors.As(err, &closeErr) {
					code = closeErr.Code
				} else {
					code = closeAbnormal
				}
			}

			g.teardown(ctx)
			g.handleClose(ctx, code)
			return
		}

		select {
		case <-listening:
			return
		default:
			g.onEvent(ctx, messageType, message)
		}
	}
}

// teardown releases the socket and stops the heartbeat loop via the
// listening channel.
func (g *Gateway) teardown(ctx context.Context) {
	g.Lock()
	if g.listening != nil {
		close(g.listening)
		g.listening = nil
	}
	if g.conn != nil {
		g.RateLimiter.Close(ctx)
		g.conn.Close()
		g.conn = nil
	}
	g.Unlock()
}

// closeSocket initiates a close with the given code. The read loop observes
// the resulting error and routes the recorded code through handleClose, so
// self-initiated and server-initiated closes take the same path.
func (g *Gateway) closeSocket(ctx context.Context, code int) {
	g.Lock()
	conn := g.conn
	if conn == nil {
		g.Unlock()
		return
	}
	g.closeCode = code
	g.Unlock()

	g.socketMutex.Lock()
	if err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, "")); err != nil {
		g.log.Debugw("close frame write failed", "error", err)
	}
	g.socketMutex.Unlock()

	time.Sleep(time.Second)
	conn.Close()
}

// handleClose decides resume versus re-identify from the close code and
// reconnects.
func (g *Gateway) handleClose(ctx context.Context, code int) {
	if msg, ok := closeMessages[code]; ok {
		g.log.Infow("gateway closed", "code", code, "reason", msg)
	} else {
		g.log.Infow("gateway closed", "code", code)
	}

	var err error
	if resumableCodes[code] {
		err = g.establishConnection(ctx, g.session.Resume())
	} else {
		g.session.Resuming = false
		g.session.ResumeSessionID = ""
		err = g.establishConnection(ctx, g.session.GatewayURL)
	}
	if err != nil {
		g.log.Errorw("reconnect abandoned", "error", err)
	}
}

func (g *Gateway) onEvent(ctx context.Context, messageType int, message []byte) {
	var json = jsoniter.ConfigCompatibleWithStandardLibrary
	var reader io.Reader = bytes.NewBuffer(message)

	if messageType == websocket.BinaryMessage {
		z, err := zlib.NewReader(reader)
		if err != nil {
			return
		}
		defer z.Close()
		reader = z
	}

	var e *event
	if err := json.NewDecoder(reader).Decode(&e); err != nil || e == nil {
		return
	}

	if e.Sequence != 0 {
		g.session.SetSequence(e.Sequence)
	}

	switch e.Operation {
	case opDispatch:
		var d M
		if len(e.RawData) > 0 {
			if err := json.Unmarshal(e.RawData, &d); err != nil {
				g.log.Errorw("dispatch decode failed", "type", e.Type, "error", err)
				return
			}
		}
		g.client.handleDispatch(e.Type, d)

	case opHeartbeat:
		g.sendHeartbeat(ctx)

	case opReconnect:
		g.closeSocket(ctx, closeServiceRestart)

	case opInvalidSession:
		var resumable bool
		_ = json.Unmarshal(e.RawData, &resumable)
		if resumable {
			g.closeSocket(ctx, closeRetrySession)
		} else {
			g.invalidSession(ctx)
		}

	case opHello:
		var h helloOp
		if err := json.Unmarshal(e.RawData, &h); err != nil {
			return
		}
		// record the interval and start beating, nothing else: the missed-ack
		// escalation has to survive the reconnect a zombie close triggers, so
		// only a real opcode-11 ack may clear it
		g.session.Heartbeat.Interval = h.HeartbeatInterval

		g.RLock()
		listening := g.listening
		g.RUnlock()
		go g.heartbeatLoop(ctx, time.Duration(h.HeartbeatInterval)*time.Millisecond, listening)

	case opHeartbeatAck:
		g.session.AckHeartbeat()

	default:
		g.log.Warnw("unknown opcode", "op", e.Operation)
	}
}

// heartbeatLoop spaces the first beat by interval*random[0,1) to spread
// reconnect storms, sends the identify or resume frame after a further small
// jitter, then beats at exactly the server interval. A tick with the previous
// beat unacknowledged runs the heart-check escalation instead of beating.
func (g *Gateway) heartbeatLoop(ctx context.Context, interval time.Duration, listening <-chan interface{}) {
	if listening == nil {
		return
	}

	select {
	case <-listening:
		return
	case <-time.After(time.Duration(rand.Float64() * float64(interval))):
	}

	g.sendHeartbeat(ctx)

	time.Sleep(time.Duration(rand.Float64() * 1.2 * float64(time.Millisecond)))
	if g.session.Resuming {
		g.sendResume(ctx)
	} else {
		g.sendIdentify(ctx)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-listening:
			return
		case <-ticker.C:
			if !g.session.HeartbeatAcknowledged() {
				g.heartCheck(ctx)
			} else {
				g.sendHeartbeat(ctx)
			}
		}
	}
}

func (g *Gateway) heartCheck(ctx context.Context) {
	code := g.session.HeartCheck(time.Now().UnixMilli())
	if code == 0 {
		return
	}
	if code == closeInternalError {
		g.log.Error("heart attack, obtaining new session")
	}
	g.closeSocket(ctx, code)
}

func (g *Gateway) send(ctx context.Context, v interface{}) error {
	g.RLock()
	conn := g.conn
	g.RUnlock()
	if conn == nil {
		return errors.New("no gateway connection")
	}

	if err := g.RateLimiter.Wait(ctx); err != nil {
		return err
	}
	defer g.RateLimiter.Unlock()

	var json = jsoniter.ConfigCompatibleWithStandardLibrary
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}

	g.socketMutex.Lock()
	defer g.socketMutex.Unlock()
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (g *Gateway) sendHeartbeat(ctx context.Context) {
	g.session.BeginHeartbeat()
	if err := g.send(ctx, heartbeatOp{opHeartbeat, g.session.Sequence()}); err != nil {
		g.log.Errorw("heartbeat send failed", "error", err)
	}
}

func (g *Gateway) sendIdentify(ctx context.Context) {
	payload := identifyOp{
		Op: opIdentify,
		Data: identifyData{
			Token:      g.token,
			Properties: g.session.Properties,
			Shard:      [2]int{0, 1},
			Presence:   g.session.PresenceSnapshot(),
			Intents:    g.session.Intents,
		},
	}
	if err := g.send(ctx, payload); err != nil {
		g.log.Errorw("identify send failed", "error", err)
	}
}

func (g *Gateway) sendResume(ctx context.Context) {
	payload := resumeOp{
		Op: opResume,
		Data: resumeData{
			Token:     g.token,
			SessionID: g.session.ResumeSessionID,
			Sequence:  g.session.ResumeSeq,
		},
	}
	if err := g.send(ctx, payload); err != nil {
		g.log.Errorw("resume send failed", "error", err)
	}
}

// invalidSession handles a non-resumable opcode 9: the project is flagged
// inactive and the session is closed for a full re-identify.
func (g *Gateway) invalidSession(ctx context.Context) {
	g.log.Error("invalid session, disabling project")
	if g.client != nil {
		g.client.MarkInactive()
	}
	g.closeSocket(ctx, closeInternalError)
}

// classifyNetErr maps transport errors onto the connection-error flag that
// gates the reconnect backoff. Unknown errors are logged without flagging.
func (g *Gateway) classifyNetErr(err error) {
	var dnsErr *net.DNSError
	var netErr net.Error

	switch {
	case errors.As(err, &dnsErr):
		g.session.ConnectionHasError = true
		g.log.Error("gateway error: address not found")
	case errors.Is(err, syscall.ECONNREFUSED):
		g.session.ConnectionHasError = true
		g.log.Error("gateway error: connection refused")
	case errors.Is(err, syscall.ETIMEDOUT), errors.As(err, &netErr) && netErr.Timeout():
		g.session.ConnectionHasError = true
		g.log.Error("gateway error: connection timed out")
	case errors.Is(err, syscall.ECONNRESET):
		g.session.ConnectionHasError = true
		g.log.Error("gateway error: connection reset")
	case errors.Is(err, syscall.EHOSTUNREACH):
		g.session.ConnectionHasError = true
		g.log.Error("gateway error: host unreachable")
	case errors.Is(err, syscall.ECONNABORTED):
		g.session.ConnectionHasError = true
		g.log.Error("gateway error: connection aborted")
	case errors.Is(err, syscall.EHOSTDOWN):
		g.session.ConnectionHasError = true
		g.log.Error("gateway error: host down")
	default:
		g.log.Errorw("gateway error", "error", err)
	}
}
