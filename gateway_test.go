package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testGateway() *Gateway {
	return NewGateway("token", nil, NewSession(), zap.NewNop().Sugar())
}

func TestResumableCodeTable(t *testing.T) {
	for _, code := range []int{closeGoingAway, closeZombie, closeAbnormal, closeServiceRestart, closeRetrySession} {
		assert.True(t, resumableCodes[code], "code %d should resume", code)
	}
	for _, code := range []int{1000, closeInternalError, 4004, 4013, 4014} {
		assert.False(t, resumableCodes[code], "code %d should re-identify", code)
	}
}

func TestCloseMessagesCoverGatewayCodes(t *testing.T) {
	for _, code := range []int{4000, 4004, 4008, closeRetrySession} {
		assert.NotEmpty(t, closeMessages[code], "code %d needs a reason", code)
	}
}

func TestClassifyNetErrFlagsKnownFailures(t *testing.T) {
	g := testGateway()

	g.classifyNetErr(&net.DNSError{Err: "no such host", Name: "gateway.example"})
	assert.True(t, g.session.ConnectionHasError)

	// unknown errors are logged without flagging
	g.session.ConnectionHasError = false
	g.classifyNetErr(assert.AnError)
	assert.False(t, g.session.ConnectionHasError)
}

func TestHelloKeepsMissedAckBookkeeping(t *testing.T) {
	g := testGateway()
	g.session.HeartCheck(time.Now().UnixMilli()) // a miss window is open

	g.onEvent(context.Background(), websocket.TextMessage, []byte(`{"op":10,"d":{"heartbeat_interval":45000}}`))

	// hello records the interval but leaves the escalation untouched
	assert.Equal(t, int64(45000), g.session.Heartbeat.Interval)
	assert.Equal(t, 1, g.session.Heartbeat.MissedAcks)
	assert.NotZero(t, g.session.Heartbeat.FirstMissedAck)

	// only a real heartbeat ack clears it
	g.onEvent(context.Background(), websocket.TextMessage, []byte(`{"op":11}`))
	assert.True(t, g.session.HeartbeatAcknowledged())
	assert.Equal(t, 0, g.session.Heartbeat.MissedAcks)
	assert.Equal(t, int64(0), g.session.Heartbeat.FirstMissedAck)
}

func TestSendWithoutConnectionErrors(t *testing.T) {
	g := testGateway()
	err := g.send(context.Background(), heartbeatOp{opHeartbeat, 1})
	assert.Error(t, err)
}

func TestRetrieveSocketHonorsContext(t *testing.T) {
	g := testGateway()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.retrieveSocket(ctx, "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRateLimiterBlocksWhenBudgetSpent(t *testing.T) {
	l := NewRateLimiter(WithCommandsPerMinute(2))
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx))
	l.Unlock()
	require.NoError(t, l.Wait(ctx))
	l.Unlock()

	// budget is spent, the third command must wait for the window
	blocked, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := l.Wait(blocked)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRateLimiterResetRestoresBudget(t *testing.T) {
	l := NewRateLimiter(WithCommandsPerMinute(1))
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx))
	l.Unlock()

	l.Reset()

	done, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	assert.NoError(t, l.Wait(done))
	l.Unlock()
}
