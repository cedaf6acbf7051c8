package eventstream

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/nodekeeper/nodekeeper/events"
)

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func newMessage(kind string, data events.Event) ([]byte, error) {
	msg := Message{Kind: kind, Timestamp: time.Now().UnixMilli()}
	if data != nil {
		msg.Data = data
	}

	return json.Marshal(msg)
}

// HandleWebSocket streams every application event to one client as a JSON Message until the client
// goes away or the server shuts down.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	id, ch := s.Subscribe(0)
	defer s.Unsubscribe(id)

	s.logger.Debugf("[EventStream] client %s connected from %s", id, c.RealIP())

	// the read side only detects the client closing
	closed := make(chan struct{})

	go func() {
		defer close(closed)

		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingTimer := time.NewTicker(pingInterval)
	defer pingTimer.Stop()

	for {
		var (
			data []byte
			err  error
		)

		select {
		case <-closed:
			s.logger.Debugf("[EventStream] client %s disconnected", id)
			return nil
		case <-pingTimer.C:
			data, err = newMessage("ping", nil)
		case e, ok := <-ch:
			if !ok {
				_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeTimeout))
				return nil
			}

			data, err = newMessage(e.Kind(), e)
		}

		if err != nil {
			s.logger.Errorf("[EventStream] failed to marshal message: %v", err)
			continue
		}

		_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))

		if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
			s.logger.Infof("[EventStream] connection to client %s lost: %v", id, err)
			return nil
		}
	}
}
