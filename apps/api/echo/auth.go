package echoapi

import (
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/sghajdao/Canvas-Attendance-lti/core"
)

// Session roles carried by Claims.Roles.
const (
	RoleInstructor        = "Instructor"
	RoleTeachingAssistant = "TeachingAssistant"
	RoleStudent           = "Student"

	audience      = "attendance"
	tokenQueryKey = "token"
)

var contextTokenKey = "sessionToken"

// Claims represents the authorization claims of an LTI session, transmitted via a JWT.
// The subject is the Canvas user id.
type Claims struct {
	jwt.StandardClaims
	UserSISID   string   `json:"user_sis_id,omitempty"`
	CourseID    string   `json:"course_id,omitempty"`
	CourseSISID string   `json:"course_sis_id,omitempty"`
	Name        string   `json:"name,omitempty"`
	Roles       []string `json:"roles,omitempty"`
}

// Session is who an LTI launch identified.
type Session struct {
	UserID      string
	UserSISID   string
	CourseID    string
	CourseSISID string
	Name        string
	Roles       []string
}

func NewClaims(conf *core.Config, s Session) *Claims {
	now := time.Now()
	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Id:        uuid.New().String(),
			Issuer:    conf.AppName,
			Subject:   s.UserID,
			Audience:  audience,
			ExpiresAt: now.Add(conf.Server.JWTExpirationDelta).Unix(),
			IssuedAt:  now.Unix(),
		},
		UserSISID:   s.UserSISID,
		CourseID:    s.CourseID,
		CourseSISID: s.CourseSISID,
		Name:        s.Name,
		Roles:       s.Roles,
	}
}

func (c Claims) hasAnyRole(roles ...string) bool {
	for _, have := range c.Roles {
		for _, want := range roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// IsInstructor is true for instructors and teaching assistants.
func (c Claims) IsInstructor() bool {
	return c.hasAnyRole(RoleInstructor, RoleTeachingAssistant)
}

// InCourse reports whether the session may act on the course. Sessions without a course are not scoped.
func (c Claims) InCourse(courseID string) bool {
	return c.CourseID == "" || c.CourseID == courseID
}

// InSISCourse is InCourse for SIS course ids.
func (c Claims) InSISCourse(courseSISID string) bool {
	return c.CourseSISID == "" || c.CourseSISID == courseSISID
}

// IsStudent reports whether the session belongs to the student with the SIS id.
func (c Claims) IsStudent(studentSISID string) bool {
	return c.UserSISID != "" && c.UserSISID == studentSISID
}

func (c Claims) Person() core.Person {
	return core.Person{ID: c.Subject, Username: c.Name}
}

func newJWTConfig(secret string) middleware.JWTConfig {
	return middleware.JWTConfig{
		SigningKey:    []byte(secret),
		SigningMethod: middleware.AlgorithmHS256,
		ContextKey:    contextTokenKey,
		Claims:        new(Claims),
	}
}

// GenerateToken generates a signed JWT token string representing the session Claims.
func GenerateToken(claims *Claims, secret string) (string, error) {
	method := jwt.GetSigningMethod(middleware.AlgorithmHS256)
	token := jwt.NewWithClaims(method, claims)

	ss, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(contextTokenKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthorized
}

func contextHasAnyRole(ctx echo.Context, roles []string) bool {
	if len(roles) == 0 {
		return true
	}
	if claims, err := getContextClaims(ctx); err == nil {
		return claims.hasAnyRole(roles...)
	}
	return false
}
