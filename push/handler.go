package push

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// StreamPath serves the notification event stream.
const StreamPath = "/notifications/stream"

// Register wires the stream endpoint on e.
func Register(e *echo.Echo, hub *Hub, auth Authenticator, keepAlive time.Duration) {
	e.GET(StreamPath, Stream(hub, auth, keepAlive))
}

// Stream writes every message addressed to the authenticated user as an SSE
// event until the client disconnects. Browsers that cannot set headers on
// EventSource may pass the token as a query parameter.
func Stream(hub *Hub, auth Authenticator, keepAlive time.Duration) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if token := c.QueryParam("token"); authHeader == "" && token != "" {
			authHeader = "Bearer " + token
		}
		userID, err := auth.UserIDFromAuthHeader(authHeader)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		res := c.Response()
		flusher, ok := res.Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		res.Header().Set(echo.HeaderContentType, "text/event-stream")
		res.Header().Set(echo.HeaderCacheControl, "no-cache")
		res.Header().Set(echo.HeaderConnection, "keep-alive")
		res.Header().Set("X-Accel-Buffering", "no")
		res.WriteHeader(http.StatusOK)
		flusher.Flush()

		msgs, unsubscribe := hub.Subscribe(userID)
		defer unsubscribe()

		var tick <-chan time.Time
		if keepAlive > 0 {
			t := time.NewTicker(keepAlive)
			defer t.Stop()
			tick = t.C
		}
		ctx := c.Request().Context()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-tick:
				if _, err := res.Write([]byte(": ping\n\n")); err != nil {
					return nil
				}
			case msg := <-msgs:
				if err := writeEvent(res, msg); err != nil {
					c.Logger().Error(err)
					return nil
				}
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, msg Message) error {
	buf := make([]byte, 0, len(msg.Data)+len(msg.Event)+16)
	if msg.Event != "" {
		buf = append(buf, "event: "...)
		buf = append(buf, msg.Event...)
		buf = append(buf, '\n')
	}
	buf = append(buf, "data: "...)
	buf = append(buf, msg.Data...)
	buf = append(buf, "\n\n"...)
	_, err := w.Write(buf)
	return err
}
