// Package transport serves the JSON-RPC endpoint over NATS request/reply.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"time-agent/handler"
)

const (
	correlationHeader  = "X-Correlation-Id"
	queueGroup         = "time-agent"
	defaultMaxInFlight = 32
	closeTimeout       = 30 * time.Second
)

// Processor handles one JSON-RPC body. *handler.Handler satisfies it.
type Processor interface {
	Process(ctx context.Context, correlationID string, body []byte) (int, handler.Response)
}

type NATSConfig struct {
	URL            string
	Name           string
	Subject        string
	ConnectTimeout time.Duration
	// RequestTimeout bounds the processing of one message.
	RequestTimeout time.Duration
	// MaxInFlight caps concurrently processed messages. Zero means 32.
	MaxInFlight int
}

type NATSTransport struct {
	conn    *nats.Conn
	sub     *nats.Subscription
	subject string
	timeout time.Duration
	proc    Processor
	log     *zap.Logger

	sem chan struct{}
	wg  sync.WaitGroup
}

func NewNATSTransport(cfg NATSConfig, proc Processor, log *zap.Logger) (*NATSTransport, error) {
	if proc == nil {
		return nil, errors.New("transport: processor must not be nil")
	}
	if strings.TrimSpace(cfg.Subject) == "" {
		return nil, errors.New("transport: subject must not be empty")
	}
	if log == nil {
		log = zap.NewNop()
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.Timeout(cfg.ConnectTimeout),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("transport: connect to NATS: %w", err)
	}
	log.Info("connected to NATS", zap.String("url", conn.ConnectedUrl()))

	maxInFlight := cfg.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = defaultMaxInFlight
	}
	return &NATSTransport{
		conn:    conn,
		subject: cfg.Subject,
		timeout: cfg.RequestTimeout,
		proc:    proc,
		log:     log,
		sem:     make(chan struct{}, maxInFlight),
	}, nil
}

// Start subscribes to the request subject. Instances share a queue group so
// each request is answered once. Messages are processed concurrently, at most
// MaxInFlight at a time.
func (nt *NATSTransport) Start() error {
	sub, err := nt.conn.QueueSubscribe(nt.subject, queueGroup, nt.dispatch)
	if err != nil {
		return fmt.Errorf("transport: subscribe to %s: %w", nt.subject, err)
	}
	nt.sub = sub
	nt.log.Info("subscribed", zap.String("subject", nt.subject), zap.String("queue", queueGroup))
	return nil
}

// dispatch runs on the subscription's delivery goroutine. It blocks while
// MaxInFlight messages are being processed.
func (nt *NATSTransport) dispatch(msg *nats.Msg) {
	nt.sem <- struct{}{}
	nt.wg.Add(1)
	go func() {
		defer func() {
			<-nt.sem
			nt.wg.Done()
		}()
		nt.handleRequest(msg)
	}()
}

func (nt *NATSTransport) handleRequest(msg *nats.Msg) {
	correlationID := ""
	if msg.Header != nil {
		correlationID = msg.Header.Get(correlationHeader)
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	ctx := context.Background()
	if nt.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, nt.timeout)
		defer cancel()
	}

	data := nt.reply(ctx, correlationID, msg.Data)
	if msg.Reply == "" {
		nt.log.Warn("request without reply subject", zap.String("correlation_id", correlationID))
		return
	}

	resp := nats.NewMsg(msg.Reply)
	resp.Header.Set(correlationHeader, correlationID)
	resp.Data = data
	if err := nt.conn.PublishMsg(resp); err != nil {
		nt.log.Error("failed to send response", zap.String("correlation_id", correlationID), zap.Error(err))
	}
}

// reply runs the processor and encodes its response.
func (nt *NATSTransport) reply(ctx context.Context, correlationID string, body []byte) []byte {
	status, resp := nt.proc.Process(ctx, correlationID, body)
	data, err := json.Marshal(resp)
	if err != nil {
		nt.log.Error("failed to marshal response", zap.String("correlation_id", correlationID), zap.Error(err))
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"Internal error"}}`)
	}
	nt.log.Info("processed request",
		zap.String("correlation_id", correlationID),
		zap.Int("status", status))
	return data
}

// Close stops taking new messages, waits for in-flight replies to be sent and
// then closes the connection.
func (nt *NATSTransport) Close() error {
	if nt.conn == nil {
		return nil
	}
	defer nt.conn.Close()

	if nt.sub != nil {
		if err := nt.sub.Drain(); err != nil {
			return fmt.Errorf("transport: drain: %w", err)
		}
		deadline := time.Now().Add(closeTimeout)
		for nt.sub.IsValid() && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
	}
	nt.wg.Wait()

	if err := nt.conn.FlushTimeout(5 * time.Second); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("transport: flush: %w", err)
	}
	nt.log.Info("NATS connection closed")
	return nil
}
