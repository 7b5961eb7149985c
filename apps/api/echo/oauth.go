package echoapi

import (
	"bytes"
	"html/template"
	"net/http"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/sghajdao/Canvas-Attendance-lti/core"
	"github.com/sghajdao/Canvas-Attendance-lti/core/vault"
)

const (
	stateAudience = "canvas-oauth-state"
	stateLifetime = 10 * time.Minute
)

var popupTmpl = template.Must(template.New("popup").Parse(`<html>
  <body>
    <script>
      {{if .Success}}if (window.opener) {
        window.opener.location.reload();
        window.close();
      } else {
        window.location.href = '/attendance?authorized=true';
      }{{else}}window.close();{{end}}
    </script>
    <p>{{.Message}}</p>
  </body>
</html>`))

type popupPage struct {
	Success bool
	Message string
}

// stateClaims bind an authorization round trip to the session that started it.
type stateClaims struct {
	jwt.StandardClaims
	CourseID string `json:"course_id"`
}

type oauthApi struct {
	svc    vault.Service
	secret []byte
	logger core.Logger
}

func registerOAuthAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc vault.Service, secret string, logger core.Logger) {
	api := oauthApi{svc: svc, secret: []byte(secret), logger: logger}

	ag := g.Group("/auth")
	ag.GET("/canvas", api.authorize, tokenFromQuery, jwt)
	ag.GET("/callback", api.callback)
}

// tokenFromQuery accepts the session token as `?token=` for browser redirects that cannot set headers.
func tokenFromQuery(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		req := ctx.Request()
		if req.Header.Get(echo.HeaderAuthorization) == "" {
			if token := ctx.QueryParam(tokenQueryKey); token != "" {
				req.Header.Set(echo.HeaderAuthorization, middleware.DefaultJWTConfig.AuthScheme+" "+token)
			}
		}
		return next(ctx)
	}
}

func (api *oauthApi) signState(userID, courseID string) (string, error) {
	now := time.Now()
	claims := &stateClaims{
		StandardClaims: jwt.StandardClaims{
			Subject:   userID,
			Audience:  stateAudience,
			ExpiresAt: now.Add(stateLifetime).Unix(),
			IssuedAt:  now.Unix(),
		},
		CourseID: courseID,
	}
	ss, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(api.secret)
	return ss, errors.Wrap(err, "signing state")
}

func (api *oauthApi) parseState(state string) (stateClaims, error) {
	var claims stateClaims
	token, err := jwt.ParseWithClaims(state, &claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return api.secret, nil
	})
	if err != nil || !token.Valid {
		return stateClaims{}, errInvalidState
	}
	if !claims.VerifyAudience(stateAudience, true) || claims.Subject == "" || claims.CourseID == "" {
		return stateClaims{}, errInvalidState
	}
	return claims, nil
}

func (api *oauthApi) popup(ctx echo.Context, code int, page popupPage) error {
	var buf bytes.Buffer
	if err := popupTmpl.Execute(&buf, page); err != nil {
		return errors.Wrap(err, "rendering popup")
	}
	return ctx.HTMLBlob(code, buf.Bytes())
}

// Handlers

func (api *oauthApi) authorize(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	courseID := core.CleanString(ctx.QueryParam("course_id"))
	if courseID == "" {
		courseID = claims.CourseID
	}
	if courseID == "" {
		return core.NewValidationError(nil, core.FieldError{Field: "course_id", Error: "this field is required"})
	}
	if !claims.InCourse(courseID) {
		return errHttpForbidden
	}

	state, err := api.signState(claims.Subject, courseID)
	if err != nil {
		return err
	}
	return ctx.Redirect(http.StatusFound, api.svc.AuthCodeURL(state))
}

func (api *oauthApi) callback(ctx echo.Context) error {
	if oauthErr := ctx.QueryParam("error"); oauthErr != "" {
		api.logger.Warn("canvas authorization denied: " + oauthErr)
		return api.popup(ctx, http.StatusBadRequest, popupPage{Message: "Authorization failed: " + oauthErr})
	}
	code := ctx.QueryParam("code")
	if code == "" {
		return api.popup(ctx, http.StatusBadRequest, popupPage{Message: "Authorization failed: No authorization code received"})
	}
	state, err := api.parseState(ctx.QueryParam("state"))
	if err != nil {
		return api.popup(ctx, http.StatusBadRequest, popupPage{Message: "Invalid authorization state. Please try again."})
	}

	if err = api.svc.Authorize(ctx.Request().Context(), state.Subject, state.CourseID, code); err != nil {
		api.logger.Error("authorizing canvas access", errors.Wrap(err, "authorizing canvas access"), core.Person{ID: state.Subject})
		return api.popup(ctx, http.StatusBadGateway, popupPage{Message: "Failed to store authorization. Please try again."})
	}
	return api.popup(ctx, http.StatusOK, popupPage{
		Success: true,
		Message: "Authorization successful! This window will close automatically.",
	})
}
