package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/mykim19/debug-dashboard-core/pkg/events"
	"github.com/mykim19/debug-dashboard-core/pkg/storage"
)

// heartbeatInterval is the client-idle bound before a comment frame is sent
// to keep intermediaries from closing the connection.
const heartbeatInterval = 30 * time.Second

// agentEventsHandler handles GET /api/agent/events: the SSE stream.
//
// Wire format: "id: <N>\ndata: <json>\n\n" per frame, ": heartbeat\n\n"
// comments on idle. A reconnecting client sends Last-Event-ID; missed events
// are replayed from the durable store oldest-first, preceded by a synthetic
// _gap frame when the replay was truncated at the configured limit.
func (s *Server) agentEventsHandler(c *echo.Context) error {
	h, wsID := s.resolveAgent(c)
	if h == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "agent not configured")
	}

	res := c.Response()
	header := res.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)

	// Register before replay: events arriving during the replay queue up in
	// the client buffer instead of being lost.
	client := h.Emitter.Register()
	defer h.Emitter.Unregister(client)

	if lastEventID := c.Request().Header.Get("Last-Event-ID"); lastEventID != "" {
		s.replayMissedEvents(c, h, wsID, lastEventID)
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	reqCtx := c.Request().Context()
	for {
		select {
		case <-reqCtx.Done():
			return nil
		case frame, ok := <-client.Frames():
			if !ok {
				// Dropped as a slow client; the stream ends here.
				return nil
			}
			if err := writeFrame(res, frame.ID, frame.Payload); err != nil {
				return nil
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(res, ": heartbeat\n\n"); err != nil {
				return nil
			}
			res.Flush()
		}
	}
}

// replayMissedEvents streams events with id > lastEventID from the durable
// store, bounded by the workspace's sse_replay_limit. When the replay hits
// the limit, older events were dropped: a _gap frame is emitted first so the
// client can inform the user and fall back to paginated history.
func (s *Server) replayMissedEvents(c *echo.Context, h *AgentHandle, wsID, lastEventID string) {
	sinceID, err := strconv.ParseInt(lastEventID, 10, 64)
	if err != nil {
		return
	}

	limit := h.Config.Agent.SSEReplayLimit
	missed, err := s.store.GetEvents(c.Request().Context(), wsID, sinceID, limit)
	if err != nil {
		slog.Warn("SSE replay query failed", "workspace_id", wsID, "error", err)
		return
	}
	if len(missed) == 0 {
		return
	}
	// The store returns newest-first; replay goes oldest-first.
	oldest := missed[len(missed)-1]

	res := c.Response()
	if len(missed) >= limit {
		dropped := oldest.ID - sinceID - 1
		if dropped < 0 {
			dropped = 0
		}
		gap := map[string]any{
			"type": "_gap",
			"data": map[string]any{
				"from_id":       lastEventID,
				"to_id":         strconv.FormatInt(oldest.ID, 10),
				"dropped_count": dropped,
				"replayed":      limit,
				"message":       fmt.Sprintf("Some events were dropped (more than %d missed). See History for the full log.", limit),
			},
		}
		payload, err := json.Marshal(gap)
		if err == nil {
			_ = writeFrame(res, events.NextFrameID(), payload)
		}
	}

	for i := len(missed) - 1; i >= 0; i-- {
		payload, err := json.Marshal(replayWireEvent(missed[i]))
		if err != nil {
			continue
		}
		if err := writeFrame(res, events.NextFrameID(), payload); err != nil {
			return
		}
	}
}

// replayWireEvent converts a stored row to the SSE wire shape, marked as a
// replay.
func replayWireEvent(row storage.EventRow) map[string]any {
	data := map[string]any{}
	_ = json.Unmarshal([]byte(row.DataJSON), &data)
	return map[string]any{
		"type":         row.EventType,
		"timestamp":    row.Timestamp,
		"source":       row.Source,
		"workspace_id": row.WorkspaceID,
		"data":         data,
		"_replay":      true,
	}
}

func writeFrame(res *echo.Response, id int64, payload []byte) error {
	if _, err := fmt.Fprintf(res, "id: %d\ndata: %s\n\n", id, payload); err != nil {
		return err
	}
	res.Flush()
	return nil
}
