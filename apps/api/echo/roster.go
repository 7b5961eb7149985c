package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/sghajdao/Canvas-Attendance-lti/core"
	"github.com/sghajdao/Canvas-Attendance-lti/core/roster"
)

type rosterApi struct {
	svc      roster.Service
	validate *validator.Validate
}

func registerRosterAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc roster.Service, validate *validator.Validate) {
	api := rosterApi{svc: svc, validate: validate}

	lg := g.Group("/lti", jwt)
	lg.POST("/roster", api.fetch, instructorMiddleware())
}

func (api *rosterApi) fetch(ctx echo.Context) error {
	var data roster.FetchRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to FetchRequest")
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	// the token vault is keyed by the session user
	data.UserID = claims.Subject
	data.CourseID = core.CleanString(data.CourseID)
	if data.CourseID == "" {
		data.CourseID = claims.CourseID
	}
	data.NRPSURL = core.CleanString(data.NRPSURL)
	if err = api.validate.Struct(data); err != nil {
		return err
	}
	if !claims.InCourse(data.CourseID) {
		return errHttpForbidden
	}

	return ctx.JSON(http.StatusOK, api.svc.Fetch(ctx.Request().Context(), data))
}
