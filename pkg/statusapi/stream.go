package statusapi

import (
	"context"
	"fmt"
	"net/url"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"vehiclestatus/internal/domain"
)

// Watch opens the live status stream for depots (every depot when empty) and
// calls fn with each update until ctx ends or the connection drops. A dropped
// connection is a *NetworkError; ending ctx returns ctx.Err().
func (c *Client) Watch(ctx context.Context, depots []string, fn func(domain.LiveUpdate)) error {
	streamURL, err := c.streamURL(depots)
	if err != nil {
		return err
	}

	dialCtx, cancel := ctx, context.CancelFunc(func() {})
	if c.timeout > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, c.timeout)
	}
	conn, _, err := websocket.Dial(dialCtx, streamURL, nil)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &NetworkError{Endpoint: EndpointStream, Err: err}
	}
	defer conn.CloseNow()

	for {
		var u domain.LiveUpdate
		if err := wsjson.Read(ctx, conn, &u); err != nil {
			if ctx.Err() != nil {
				conn.Close(websocket.StatusNormalClosure, "")
				return ctx.Err()
			}
			return &NetworkError{Endpoint: EndpointStream, Err: err}
		}
		fn(u)
	}
}

func (c *Client) streamURL(depots []string) (string, error) {
	u, err := url.Parse(c.baseURL + c.paths.Stream)
	if err != nil {
		return "", fmt.Errorf("parsing stream url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	q := url.Values{}
	for _, d := range depots {
		q.Add("depot", d)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
