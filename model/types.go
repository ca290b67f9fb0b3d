package model

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"time"
)

// Gender is only used to pick a default avatar.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// Valid reports whether g is one of the known values.
func (g Gender) Valid() bool {
	switch g {
	case GenderMale, GenderFemale, GenderOther:
		return true
	}
	return false
}

// DefaultAvatar returns the avatar reference used when no profile picture is set.
func (g Gender) DefaultAvatar() string {
	if g == GenderMale {
		return "/avatar.png"
	}
	return "/avatar2.png"
}

// Identity is the authenticated user.
type Identity struct {
	ID         string     `json:"_id"`
	FullName   string     `json:"fullName"`
	Email      string     `json:"email"`
	ProfilePic string     `json:"profilePic"`
	Gender     Gender     `json:"gender"`
	IsActive   bool       `json:"isActive"`
	LastSeen   *time.Time `json:"lastSeen,omitempty"` // Session only
	CreatedAt  time.Time  `json:"createdAt"`
}

// Avatar returns the profile picture or the gender default.
func (i Identity) Avatar() string {
	if i.ProfilePic != "" {
		return i.ProfilePic
	}
	return i.Gender.DefaultAvatar()
}

// Contact is another user the identity can talk to.
type Contact struct {
	ID         string    `json:"_id"`
	FullName   string    `json:"fullName"`
	Email      string    `json:"email"`
	ProfilePic string    `json:"profilePic"`
	Gender     Gender    `json:"gender"`
	IsActive   bool      `json:"isActive"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (c Contact) Avatar() string {
	if c.ProfilePic != "" {
		return c.ProfilePic
	}
	return c.Gender.DefaultAvatar()
}

// Message is one entry of a conversation. ID and CreatedAt are assigned by the server.
type Message struct {
	ID         string    `json:"_id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Text       string    `json:"text,omitempty"`
	Image      string    `json:"image,omitempty"` // URL of the stored image
	CreatedAt  time.Time `json:"createdAt"`
}

var (
	ErrMissingID      = errors.New("missing id")
	ErrMissingSender  = errors.New("missing sender")
	ErrEmptyMessage   = errors.New("message has neither text nor image")
	ErrMissingCreated = errors.New("missing creation time")
)

// Validate checks the invariants a server-issued message must satisfy.
func (m Message) Validate() error {
	if m.ID == "" {
		return ErrMissingID
	}
	if m.SenderID == "" {
		return ErrMissingSender
	}
	if m.Text == "" && m.Image == "" {
		return ErrEmptyMessage
	}
	if m.CreatedAt.IsZero() {
		return ErrMissingCreated
	}
	return nil
}

// Attachment is an image ready to be uploaded.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// OutgoingMessage is what the client posts to the send endpoint.
type OutgoingMessage struct {
	Text  string
	Image *Attachment
}

// Empty reports whether there is nothing to send.
func (o OutgoingMessage) Empty() bool {
	return strings.TrimSpace(o.Text) == "" && (o.Image == nil || len(o.Image.Data) == 0)
}

// EventType represents the type of push event.
type EventType string

const (
	EventPresenceSnapshot EventType = "presence-snapshot"
	EventNewMessage       EventType = "new-message"
)

// Event is the wrapper for websocket messages.
type Event struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewEvent marshals payload into an Event.
func NewEvent(t EventType, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: t, Payload: data}, nil
}

// SignupRequest is the body of POST /auth/signup.
type SignupRequest struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Gender   Gender `json:"gender"`
}

var emailPattern = regexp.MustCompile(`\S+@\S+\.\S+`)

// Validate checks the form before it is sent. Error texts are shown to the user.
func (r SignupRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.FullName) == "":
		return errors.New("Full name is required")
	case strings.TrimSpace(r.Email) == "":
		return errors.New("Email is required")
	case !emailPattern.MatchString(r.Email):
		return errors.New("Invalid email format")
	case r.Password == "":
		return errors.New("Password is required")
	case len(r.Password) < 6:
		return errors.New("Password must be at least 6 characters")
	case !r.Gender.Valid():
		return errors.New("Gender is required")
	}
	return nil
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ProfileResponse is returned by POST /auth/updateProfile.
type ProfileResponse struct {
	ProfilePic string `json:"profilePic"`
}

// ErrorResponse is the error body returned by the server.
type ErrorResponse struct {
	Message string `json:"message"`
}
