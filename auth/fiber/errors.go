package fiber

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"therapyhub.io/shared/auth"
)

type errorBody struct {
	Type    auth.ErrorKind `json:"type"`
	Message string         `json:"message"`
	Missing []string       `json:"missing,omitempty"`
}

// WriteError renders err as {"error": {"type", "message"}} with the status of
// its kind. Internal details are never sent to the client.
func WriteError(c *fiber.Ctx, err error) error {
	authErr := auth.AsAuthError(err)
	body := errorBody{Type: authErr.Type, Message: authErr.Message, Missing: authErr.Missing}
	return c.Status(authErr.Type.Status()).JSON(fiber.Map{"error": body})
}

// ErrorHandler is the fiber.Config ErrorHandler for the service. Fiber's own
// errors (404 route, body too large) keep their status.
func ErrorHandler(log logrus.FieldLogger) fiber.ErrorHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return func(c *fiber.Ctx, err error) error {
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return c.Status(fiberErr.Code).JSON(fiber.Map{"error": errorBody{
				Type:    kindForStatus(fiberErr.Code),
				Message: fiberErr.Message,
			}})
		}
		authErr := auth.AsAuthError(err)
		if authErr.Type == auth.KindInternal || authErr.Type == auth.KindServiceUnavailable {
			log.WithError(err).WithFields(logrus.Fields{
				"method": c.Method(),
				"path":   c.Path(),
			}).Error("request failed")
		}
		return WriteError(c, authErr)
	}
}

func kindForStatus(status int) auth.ErrorKind {
	switch status {
	case fiber.StatusUnauthorized:
		return auth.KindUnauthorized
	case fiber.StatusForbidden:
		return auth.KindForbidden
	case fiber.StatusNotFound:
		return auth.KindNotFound
	case fiber.StatusConflict:
		return auth.KindConflict
	case fiber.StatusServiceUnavailable:
		return auth.KindServiceUnavailable
	}
	if status >= 400 && status < 500 {
		return auth.KindBadRequest
	}
	return auth.KindInternal
}
