package networking

import (
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"net/http"
	"time"
)

// WebsocketMessageHandler usage:
// * Read from GetReader chan until closed (which means the other party closed it)
// * Write into GetWriter chan until you want - if you close it than the websocket will be closed gracefully.
//
// NOTE: Messages are websocket.TextMessage (JSON), audio travels base64 encoded inside them.
type WebsocketMessageHandler interface {
	// GetReader is where websocket.ReadMessage will produce messages into UNTIL the websocket is closed,
	// then the Reader chan will be CLOSED, i.e. do NOT close this channel yourself as panic is a guaranteed.
	GetReader() chan<- []byte
	// GetWriter is where you can write response - upon channel close, or a failed write,
	// the websocket will attempt to close gracefully.
	GetWriter() <-chan []byte
}

const (
	writeWait = 10 * time.Second
	// A few seconds of recorded wav, base64 encoded.
	maxMessageSize = 16 << 20
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the UI is served from a different origin during development
	},
}

func getClientIpAddress(r *http.Request) (clientIP string) {
	clientIP = r.RemoteAddr

	// Check for real IP in headers (useful if behind proxy)
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		clientIP = realIP
	} else if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
		clientIP = forwardedFor
	}
	return
}

// NewWebsocketHandlerFunc takes the raw http reader / writer,
// and abstracts it into WebsocketMessageHandler which works at the chan []byte message level.
func NewWebsocketHandlerFunc(createHandler func() WebsocketMessageHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientIP := getClientIpAddress(r)
		log.Info().Str("client_ip", clientIP).Str("request_url", r.URL.String()).Msg("attempting to establish a websocket connection")

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already replied with an HTTP error.
			errLog(err, "websocket upgrader.Upgrade")
			return
		}
		defer func() { errLog(ws.Close(), "websocket.Close()") }()
		ws.SetReadLimit(maxMessageSize)

		handler := createHandler()
		defer func() { close(handler.GetReader()) }()

		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			writeRoutine(ws, handler.GetWriter())
		}()

		for {
			_, msg, err := ws.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
					log.Info().Str("client_ip", clientIP).Msg("websocket connection closed by the other party")
				} else {
					select {
					case <-writerDone:
						log.Info().Str("client_ip", clientIP).Msg("websocket closed after the writer finished")
					default:
						log.Error().Err(err).Str("client_ip", clientIP).Msg("couldn't read message from websocket")
					}
				}
				// Usually, nothing good will happen ever after a bad websocket message
				return
			}
			handler.GetReader() <- msg
		}
	}
}

// writeRoutine drains writer into ws. When writer is closed, or a write fails, the
// connection is closed so the read loop ends too.
func writeRoutine(ws *websocket.Conn, writer <-chan []byte) {
	for msg := range writer {
		errLog(ws.SetWriteDeadline(time.Now().Add(writeWait)), "websocket.SetWriteDeadline")
		if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Info().Msg("websocket too late to write message, as already closed")
			} else {
				errLog(err, "ws.WriteMessage")
			}
			errLog(ws.Close(), "websocket.Close() after failed write")
			// Keep draining so the producer never blocks on a dead connection.
			for range writer {
			}
			return
		}
	}

	log.Info().Msg("websocket writer channel closed, attempting to close connection gracefully")
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	errLog(ws.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(writeWait)), "websocket.CloseMessage gracefully")
}

func errLog(err error, what string) {
	if err != nil {
		log.Error().Err(err).Msg(what)
	}
}
