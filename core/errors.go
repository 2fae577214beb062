package core

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrNotAMember       = errors.New("not a participant")
	ErrRoomNotFound     = roomNotFound{}
	ErrOwnerCannotLeave = errors.New("owner cannot leave the room, transfer ownership or delete it")
	ErrInvalidPayload   = errors.New("invalid payload")
	// ErrConflict is returned by stores on a duplicate insert.
	ErrConflict         = errors.New("conflict")
	ErrService          = errors.New("service unavailable")
)

// roomNotFound matches both ErrRoomNotFound and ErrNotFound under errors.Is.
type roomNotFound struct{}

func (roomNotFound) Error() string { return "room not found" }

func (roomNotFound) Is(target error) bool { return target == ErrNotFound }

// Reason returns the string reported to clients for err.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized):
		return ErrUnauthorized.Error()
	case errors.Is(err, ErrForbidden):
		return ErrForbidden.Error()
	case errors.Is(err, ErrNotAMember):
		return ErrNotAMember.Error()
	case errors.Is(err, ErrRoomNotFound):
		return ErrRoomNotFound.Error()
	case errors.Is(err, ErrOwnerCannotLeave):
		return ErrOwnerCannotLeave.Error()
	case errors.Is(err, ErrInvalidPayload):
		return ErrInvalidPayload.Error()
	case errors.Is(err, ErrConflict):
		return ErrConflict.Error()
	case errors.Is(err, ErrNotFound):
		return ErrNotFound.Error()
	default:
		// Store internals never leak to clients.
		return ErrService.Error()
	}
}

// HTTPStatus maps err onto a response code.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrNotAMember):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrOwnerCannotLeave), errors.Is(err, ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
