package notify

import (
	"net/http"
	"workflow-preview/core"

	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

const (
	EventJoinRoom       = "join-room"
	EventLeaveRoom      = "leave-room"
	EventPreviewCreated = "preview-created"
	EventPreviewDeleted = "preview-deleted"
)

// DeletedPayload is sent to a workflow room when one of its previews is removed.
type DeletedPayload struct {
	WorkflowID string `json:"workflowId"`
	PreviewID  string `json:"previewId"`
}

// Hub pushes preview events to Socket.IO clients. Clients join the room named after
// the workflow they display.
type Hub struct {
	io *socketio.Server
}

func NewHub(allowedOrigin string) *Hub {
	if allowedOrigin == "" {
		allowedOrigin = "*"
	}
	opts := socketio.DefaultServerOptions()
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	opts.SetCors(&types.Cors{
		Origin:      allowedOrigin,
		Credentials: true,
	})
	h := &Hub{io: socketio.NewServer(nil, opts)}
	h.io.On("connection", h.onConnection)
	return h
}

func (h *Hub) onConnection(clients ...any) {
	socket, ok := clients[0].(*socketio.Socket)
	if !ok {
		return
	}
	me := socket.Id()
	log := logrus.WithField("socket_id", me)
	log.Debug("Preview subscriber connected")

	socket.On(EventJoinRoom, func(datas ...any) {
		workflowID, ok := roomArg(datas)
		if !ok {
			log.Warn("join-room without workflow id")
			return
		}
		socket.Join(socketio.Room(workflowID))
		log.WithField("workflow_id", workflowID).Debug("Subscribed to workflow previews")
	})
	socket.On(EventLeaveRoom, func(datas ...any) {
		if workflowID, ok := roomArg(datas); ok {
			socket.Leave(socketio.Room(workflowID))
		}
	})
	socket.On("disconnect", func(datas ...any) {
		socket.RemoveAllListeners("")
		log.Debug("Preview subscriber disconnected")
	})
}

func roomArg(datas []any) (string, bool) {
	if len(datas) == 0 {
		return "", false
	}
	id, ok := datas[0].(string)
	if !ok || core.ValidateID("workflowId", id) != nil {
		return "", false
	}
	return id, true
}

// Handler serves the Socket.IO endpoint.
func (h *Hub) Handler() http.Handler {
	return h.io.ServeHandler(nil)
}

func (h *Hub) PreviewCreated(result *core.PreviewResult) {
	h.io.To(socketio.Room(result.WorkflowID)).Emit(EventPreviewCreated, result)
}

func (h *Hub) PreviewDeleted(workflowID, previewID string) {
	h.io.To(socketio.Room(workflowID)).Emit(EventPreviewDeleted, DeletedPayload{WorkflowID: workflowID, PreviewID: previewID})
}

func (h *Hub) Close() {
	h.io.Close(nil)
}
