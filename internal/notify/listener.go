// Package notify listens on the service's change-notification websocket and
// asks for a sync cycle whenever the server announces new changes.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

const (
	minReconnectDelay = time.Second
	maxReconnectDelay = 2 * time.Minute
	// A connection that stayed up this long resets the backoff.
	stableConnection = 30 * time.Second

	messageTypeChanges = "changes"
	readLimit          = 64 << 10
)

// TokenSource supplies the bearer token for the upgrade request.
type TokenSource interface {
	Token() (string, error)
}

// Listener keeps a websocket open to URL, reconnecting with exponential
// backoff, and calls OnNotify for every {"type":"changes"} frame.
type Listener struct {
	URL        string
	Token      TokenSource
	HTTPClient *http.Client
	Logger     *slog.Logger
	OnNotify   func()

	// sleepFunc waits between reconnects. Tests replace it.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

type message struct {
	Type string `json:"type"`
}

// Run blocks until ctx is canceled. Connection failures are logged and
// retried; Run only returns nil.
func (l *Listener) Run(ctx context.Context) error {
	logger := l.logger()
	delay := minReconnectDelay

	for {
		started := time.Now()
		err := l.session(ctx)

		if ctx.Err() != nil {
			return nil
		}

		if time.Since(started) >= stableConnection {
			delay = minReconnectDelay
		}

		logger.Warn("notification connection lost",
			slog.String("url", l.URL),
			slog.String("error", errString(err)),
			slog.Duration("retry_in", delay),
		)

		if err := l.sleep(ctx, delay); err != nil {
			return nil
		}

		delay = min(delay*2, maxReconnectDelay)
	}
}

// session dials once and reads frames until the connection fails.
func (l *Listener) session(ctx context.Context) error {
	header := http.Header{}

	if l.Token != nil {
		tok, err := l.Token.Token()
		if err != nil {
			return fmt.Errorf("notify: obtaining token: %w", err)
		}

		header.Set("Authorization", "Bearer "+tok)
	}

	conn, resp, err := websocket.Dial(ctx, l.URL, &websocket.DialOptions{
		HTTPClient: l.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil {
			return fmt.Errorf("notify: dialing %s: HTTP %d: %w", l.URL, resp.StatusCode, err)
		}

		return fmt.Errorf("notify: dialing %s: %w", l.URL, err)
	}
	defer conn.CloseNow()

	conn.SetReadLimit(readLimit)
	l.logger().Info("notification connection established", slog.String("url", l.URL))

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				conn.Close(websocket.StatusNormalClosure, "shutting down")
			}

			return err
		}

		if typ != websocket.MessageText {
			continue
		}

		l.handle(data)
	}
}

func (l *Listener) handle(data []byte) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		l.logger().Debug("ignoring malformed notification", slog.String("error", err.Error()))
		return
	}

	if msg.Type != messageTypeChanges {
		l.logger().Debug("ignoring notification", slog.String("type", msg.Type))
		return
	}

	l.logger().Debug("remote changes announced")

	if l.OnNotify != nil {
		l.OnNotify()
	}
}

func (l *Listener) sleep(ctx context.Context, d time.Duration) error {
	if l.sleepFunc != nil {
		return l.sleepFunc(ctx, d)
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (l *Listener) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}

	return l.Logger
}

func errString(err error) string {
	var closeErr websocket.CloseError
	if errors.As(err, &closeErr) {
		return fmt.Sprintf("closed by server: %s (%d)", closeErr.Reason, closeErr.Code)
	}

	if err == nil {
		return ""
	}

	return err.Error()
}
