package domain

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

// MaxContentLength bounds the size of a single message payload in bytes.
const MaxContentLength = 4096

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
		return identifierPattern.MatchString(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

type messageInput struct {
	RoomID   string `validate:"required,max=128,identifier"`
	SenderID string `validate:"required,max=128"`
	Content  string `validate:"required,max=4096"`
}

// ValidateRoomID returns ErrRoomNotFound for ids that can never name a room.
func ValidateRoomID(roomID string) error {
	if err := validate.Var(roomID, "required,max=128,identifier"); err != nil {
		return fmt.Errorf("%w: %q", ErrRoomNotFound, roomID)
	}
	return nil
}

// ValidateUserID checks an opaque user identifier handed in by a collaborator.
func ValidateUserID(userID string) error {
	if err := validate.Var(userID, "required,max=128"); err != nil {
		return fmt.Errorf("%w: user id", ErrInvalidInput)
	}
	return nil
}

// ValidateMessage checks a message before it is admitted or appended.
func ValidateMessage(roomID, senderID, content string) error {
	err := validate.Struct(messageInput{RoomID: roomID, SenderID: senderID, Content: content})
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if fe.Field() == "RoomID" {
				return fmt.Errorf("%w: %q", ErrRoomNotFound, roomID)
			}
		}
		return fmt.Errorf("%w: %s failed %s", ErrInvalidInput, verrs[0].Field(), verrs[0].Tag())
	}
	return fmt.Errorf("%w: %v", ErrInvalidInput, err)
}
