package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/CoolE88/aurora-telemetry-service/internal/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeConn — скриптованный канал: каждый запрос получает следующий
// заготовленный ответ либо ошибку
type fakeConn struct {
	responses [][]byte
	errs      []error
	calls     int
	written   [][]byte
	closed    bool
	flushed   int
	pos       int // смещение внутри текущего ответа
}

func (f *fakeConn) Write(p []byte) (int, error) {
	buf := make([]byte, len(p))
	copy(buf, p)
	f.written = append(f.written, buf)
	f.pos = 0
	return len(p), nil
}

func (f *fakeConn) Read(p []byte) (int, error) {
	if f.calls >= len(f.responses) {
		return 0, nil // больше ответов нет: имитация тишины на линии
	}
	if f.errs != nil && f.errs[f.calls] != nil {
		err := f.errs[f.calls]
		f.calls++
		return 0, err
	}
	resp := f.responses[f.calls]
	n := copy(p, resp[f.pos:])
	f.pos += n
	if f.pos >= len(resp) {
		f.calls++
		f.pos = 0
	}
	return n, nil
}

func (f *fakeConn) Close() error { f.closed = true; return nil }
func (f *fakeConn) Flush() error { f.flushed++; return nil }

func validResponse(t *testing.T) []byte {
	t.Helper()
	body := []byte{0, protocol.GlobalStateRun, 0x01, 0x02, 0x03, 0x04}
	return protocol.AppendChecksum(body)
}

func newTestSession(t *testing.T, conn *fakeConn, opts Options) *Session {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	s := NewSession(func() (Connection, error) { return conn, nil }, opts, logger)
	require.NoError(t, s.Open())
	return s
}

func TestSession_RequestSuccess(t *testing.T) {
	conn := &fakeConn{responses: [][]byte{validResponse(t)}}
	s := newTestSession(t, conn, Options{Timeout: 100 * time.Millisecond, MaxConsecutiveFailures: 3})

	frame, err := protocol.EncodeRequest(2, protocol.CmdState)
	require.NoError(t, err)

	resp, err := s.Request(context.Background(), frame)
	require.NoError(t, err)
	assert.Equal(t, validResponse(t), resp)
	assert.Equal(t, 1, conn.flushed)

	state := s.State()
	assert.True(t, state.IsOpen)
	assert.Equal(t, 0, state.ConsecutiveFailures)
}

func TestSession_RequestTimeout(t *testing.T) {
	conn := &fakeConn{} // ответов нет вообще
	s := newTestSession(t, conn, Options{Timeout: 20 * time.Millisecond, MaxConsecutiveFailures: 3})

	frame, _ := protocol.EncodeRequest(2, protocol.CmdState)
	_, err := s.Request(context.Background(), frame)
	assert.ErrorIs(t, err, ErrTimeout)

	state := s.State()
	assert.Equal(t, 1, state.ConsecutiveFailures)
	assert.NotEmpty(t, state.LastError)
}

func TestSession_PartialResponseIsTimeout(t *testing.T) {
	conn := &fakeConn{responses: [][]byte{{0x00, 0x06, 0x01}}} // только 3 байта
	s := newTestSession(t, conn, Options{Timeout: 20 * time.Millisecond, MaxConsecutiveFailures: 3})

	frame, _ := protocol.EncodeRequest(2, protocol.CmdState)
	_, err := s.Request(context.Background(), frame)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorContains(t, err, "partial response")
}

func TestSession_IoError(t *testing.T) {
	ioErr := errors.New("device unplugged")
	conn := &fakeConn{responses: [][]byte{nil}, errs: []error{ioErr}}
	s := newTestSession(t, conn, Options{Timeout: 20 * time.Millisecond, MaxConsecutiveFailures: 3})

	frame, _ := protocol.EncodeRequest(2, protocol.CmdState)
	_, err := s.Request(context.Background(), frame)
	assert.ErrorIs(t, err, ioErr)
}

func TestSession_UnusableAfterThreshold(t *testing.T) {
	conn := &fakeConn{}
	s := newTestSession(t, conn, Options{Timeout: 5 * time.Millisecond, MaxConsecutiveFailures: 2})

	frame, _ := protocol.EncodeRequest(2, protocol.CmdState)
	for i := 0; i < 2; i++ {
		_, err := s.Request(context.Background(), frame)
		assert.ErrorIs(t, err, ErrTimeout)
	}

	// порог достигнут: любые запросы отклоняются до явного переоткрытия
	_, err := s.Request(context.Background(), frame)
	assert.ErrorIs(t, err, ErrUnusable)

	require.NoError(t, s.Reopen())
	assert.Equal(t, 0, s.State().ConsecutiveFailures)
}

func TestSession_SuccessResetsFailures(t *testing.T) {
	conn := &fakeConn{responses: [][]byte{nil, validResponse(t)}, errs: []error{errors.New("io"), nil}}
	s := newTestSession(t, conn, Options{Timeout: 20 * time.Millisecond, MaxConsecutiveFailures: 5})

	frame, _ := protocol.EncodeRequest(2, protocol.CmdState)
	_, err := s.Request(context.Background(), frame)
	require.Error(t, err)
	assert.Equal(t, 1, s.State().ConsecutiveFailures)

	_, err = s.Request(context.Background(), frame)
	require.NoError(t, err)
	assert.Equal(t, 0, s.State().ConsecutiveFailures)
}

func TestSession_QuietPeriod(t *testing.T) {
	conn := &fakeConn{responses: [][]byte{validResponse(t), validResponse(t)}}
	quiet := 50 * time.Millisecond
	s := newTestSession(t, conn, Options{Timeout: 100 * time.Millisecond, QuietPeriod: quiet, MaxConsecutiveFailures: 3})

	frame, _ := protocol.EncodeRequest(2, protocol.CmdState)
	_, err := s.Request(context.Background(), frame)
	require.NoError(t, err)

	start := time.Now()
	_, err = s.Request(context.Background(), frame)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), quiet-5*time.Millisecond)
}

func TestSession_QuietPeriodRespectsContext(t *testing.T) {
	conn := &fakeConn{responses: [][]byte{validResponse(t), validResponse(t)}}
	s := newTestSession(t, conn, Options{Timeout: 100 * time.Millisecond, QuietPeriod: time.Second, MaxConsecutiveFailures: 3})

	frame, _ := protocol.EncodeRequest(2, protocol.CmdState)
	_, err := s.Request(context.Background(), frame)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = s.Request(ctx, frame)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSession_RequestWhenClosed(t *testing.T) {
	conn := &fakeConn{}
	logger, _ := zap.NewDevelopment()
	s := NewSession(func() (Connection, error) { return conn, nil }, Options{Timeout: time.Millisecond}, logger)

	frame, _ := protocol.EncodeRequest(2, protocol.CmdState)
	_, err := s.Request(context.Background(), frame)
	assert.ErrorIs(t, err, ErrNotOpen)
}
