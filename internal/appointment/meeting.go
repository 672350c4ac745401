package appointment

import (
	"context"
	"errors"
	"net/url"

	"github.com/google/uuid"
)

// MeetingLinkProvider issues the join link for a video consultation.
type MeetingLinkProvider interface {
	MeetingLink(ctx context.Context, appointmentID uuid.UUID) (string, error)
}

// RoomLinks derives a stable room URL from the appointment id.
type RoomLinks struct {
	base *url.URL
}

func NewRoomLinks(baseURL string) (*RoomLinks, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.New("meeting base URL must be absolute")
	}
	return &RoomLinks{base: u}, nil
}

func (l *RoomLinks) MeetingLink(ctx context.Context, appointmentID uuid.UUID) (string, error) {
	return l.base.JoinPath("rooms", appointmentID.String()).String(), nil
}
