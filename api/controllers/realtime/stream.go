package realtime

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tableserve-backend/api/middleware"
	"github.com/angelmondragon/tableserve-backend/api/responses"
	internalrealtime "github.com/angelmondragon/tableserve-backend/internal/realtime"
	pkgerrors "github.com/angelmondragon/tableserve-backend/pkg/errors"
	"github.com/angelmondragon/tableserve-backend/pkg/logger"
)

const heartbeatInterval = 25 * time.Second

// Stream pushes settlement events for the caller's room as server-sent events.
// Guests hear about their own orders; staff hear about every table.
func Stream(sub internalrealtime.Subscriber, staffRoom string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if sub == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "realtime unavailable"))
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "streaming unsupported"))
			return
		}

		room, err := roomFor(r, staffRoom)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		messages, cancel, err := sub.Subscribe(ctx, room)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "subscribe"))
			return
		}
		defer cancel()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "event: ready\ndata: {\"room\":%q}\n\n", room)
		flusher.Flush()

		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Fprint(w, ": ping\n\n")
				flusher.Flush()
			case msg, open := <-messages:
				if !open {
					return
				}
				body, err := json.Marshal(msg)
				if err != nil {
					if logg != nil {
						logg.Error(ctx, "encode realtime message", err)
					}
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, body)
				flusher.Flush()
			}
		}
	}
}

func roomFor(r *http.Request, staffRoom string) (string, error) {
	role := middleware.RoleFromContext(r.Context())
	if role.IsStaff() {
		if staffRoom == "" {
			staffRoom = internalrealtime.DefaultStaffRoom
		}
		return staffRoom, nil
	}
	id := middleware.SubjectIDFromContext(r.Context())
	if id == uuid.Nil {
		return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "guest identity required")
	}
	return internalrealtime.GuestRoom(id), nil
}
