package rooms

import (
	"devsync-server/core"
	"devsync-server/membership"
	"devsync-server/middleware"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type (
	// PresenceCounter reports present identities per room.
	PresenceCounter interface {
		Rooms() map[string]int
	}

	DocumentReader interface {
		Content(roomID string) (string, bool)
	}

	ActiveRoom struct {
		RoomID    string `json:"roomId"`
		UserCount int    `json:"userCount"`
	}

	Document struct {
		RoomID  string `json:"roomId"`
		Content string `json:"content"`
	}

	createRequest struct {
		Name string `json:"name"`
	}
)

// Mount registers the room routes on r. Every route needs an identity in
// the request context.
func Mount(r chi.Router, svc *membership.Service, presence PresenceCounter, docs DocumentReader) {
	r.Post("/", HandleCreate(svc))
	r.Post("/create", HandleCreate(svc))
	r.Get("/mine", HandleListMine(svc))
	r.Get("/active", HandleListActive(svc, presence))
	r.Route("/{roomId}", func(r chi.Router) {
		r.Get("/", HandleGet(svc))
		r.Delete("/", HandleDelete(svc))
		r.Post("/join", HandleJoin(svc))
		r.Post("/leave", HandleLeave(svc))
		r.Get("/document", HandleGetDocument(svc, docs))
	})
}

func writeError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	status := core.HTTPStatus(err)
	fields := logrus.Fields{
		"error":   err,
		"room_id": chi.URLParam(r, "roomId"),
	}
	if status >= http.StatusInternalServerError {
		logrus.WithFields(fields).Error(msg)
	} else {
		logrus.WithFields(fields).Debug(msg)
	}
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": core.Reason(err)})
}

func identity(w http.ResponseWriter, r *http.Request) (*core.Identity, bool) {
	identity := middleware.IdentityFrom(r.Context())
	if identity == nil {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, map[string]string{"error": "User claims not found"})
		return nil, false
	}
	return identity, true
}

func HandleCreate(svc *membership.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := identity(w, r)
		if !ok {
			return
		}

		var req createRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", core.ErrInvalidPayload, err), "Failed to decode room")
			return
		}

		room, err := svc.CreateRoom(r.Context(), caller, req.Name)
		if err != nil {
			writeError(w, r, err, "Failed to create room")
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, room)
	}
}

func HandleJoin(svc *membership.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := identity(w, r)
		if !ok {
			return
		}

		m, err := svc.Join(r.Context(), caller, chi.URLParam(r, "roomId"))
		if err != nil {
			writeError(w, r, err, "Failed to join room")
			return
		}
		render.JSON(w, r, m)
	}
}

func HandleGet(svc *membership.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := identity(w, r)
		if !ok {
			return
		}

		details, err := svc.GetRoom(r.Context(), caller, chi.URLParam(r, "roomId"))
		if err != nil {
			writeError(w, r, err, "Failed to get room")
			return
		}
		render.JSON(w, r, details)
	}
}

func HandleLeave(svc *membership.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := identity(w, r)
		if !ok {
			return
		}

		if err := svc.Leave(r.Context(), caller, chi.URLParam(r, "roomId")); err != nil {
			writeError(w, r, err, "Failed to leave room")
			return
		}
		render.JSON(w, r, map[string]string{"message": "Left room successfully"})
	}
}

func HandleDelete(svc *membership.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := identity(w, r)
		if !ok {
			return
		}

		if err := svc.DeleteRoom(r.Context(), caller, chi.URLParam(r, "roomId")); err != nil {
			writeError(w, r, err, "Failed to delete room")
			return
		}
		render.JSON(w, r, map[string]string{"message": "Room deleted successfully"})
	}
}

func HandleListMine(svc *membership.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := identity(w, r)
		if !ok {
			return
		}

		rooms, err := svc.ListRooms(r.Context(), caller)
		if err != nil {
			writeError(w, r, err, "Failed to list rooms")
			return
		}
		render.JSON(w, r, rooms)
	}
}

// HandleListActive lists the caller's rooms that have live presence,
// busiest first.
func HandleListActive(svc *membership.Service, presence PresenceCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := identity(w, r)
		if !ok {
			return
		}

		mine, err := svc.ListRooms(r.Context(), caller)
		if err != nil {
			writeError(w, r, err, "Failed to list active rooms")
			return
		}

		counts := presence.Rooms()
		active := make([]ActiveRoom, 0, len(mine))
		for _, room := range mine {
			if n := counts[room.Room.ID]; n > 0 {
				active = append(active, ActiveRoom{RoomID: room.Room.ID, UserCount: n})
			}
		}
		sort.Slice(active, func(i, j int) bool {
			if active[i].UserCount != active[j].UserCount {
				return active[i].UserCount > active[j].UserCount
			}
			return active[i].RoomID < active[j].RoomID
		})
		render.JSON(w, r, active)
	}
}

// HandleGetDocument returns the merged document text to room members.
func HandleGetDocument(svc *membership.Service, docs DocumentReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := identity(w, r)
		if !ok {
			return
		}

		roomID := chi.URLParam(r, "roomId")
		if err := svc.RequireMember(r.Context(), caller, roomID); err != nil {
			writeError(w, r, err, "Failed to get document")
			return
		}

		content, _ := docs.Content(roomID)
		render.JSON(w, r, Document{RoomID: roomID, Content: content})
	}
}
