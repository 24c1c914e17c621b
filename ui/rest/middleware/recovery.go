package middleware

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// statusCoder is implemented by errors that know their own HTTP status
// and code, generalized in place of the ResponseData-typed recover block
// ui/rest handlers used to share — middleware can't import ui/rest
// itself without a cycle.
type statusCoder interface {
	error
	ErrCode() string
	StatusCode() int
}

func Recovery() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		defer func() {
			err := recover()
			if err != nil {
				status := 500
				code := "INTERNAL_SERVER_ERROR"
				message := fmt.Sprintf("%v", err)

				logrus.Errorf("Panic recovered in middleware: %v", err)

				if sc, ok := err.(statusCoder); ok {
					status, code, message = sc.StatusCode(), sc.ErrCode(), sc.Error()
				}

				_ = ctx.Status(status).JSON(fiber.Map{
					"status":  status,
					"code":    code,
					"message": message,
				})
			}
		}()

		return ctx.Next()
	}
}
