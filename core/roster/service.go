package roster

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/sghajdao/Canvas-Attendance-lti/core"
	"github.com/sghajdao/Canvas-Attendance-lti/core/vault"
)

type (
	// CanvasAPI is the part of the Canvas REST API a roster needs.
	CanvasAPI interface {
		Enrollments(ctx context.Context, token, courseID string) ([]Enrollment, error)
		Sections(ctx context.Context, token, courseID string) ([]Section, error)
	}

	// Tokens hands out Canvas access tokens; vault.Service implements it.
	Tokens interface {
		Acquire(ctx context.Context, userID, courseID string) (string, error)
		Delete(ctx context.Context, userID, courseID string) error
	}

	Cache interface {
		Get(ctx context.Context, key string) (Result, bool, error)
		Set(ctx context.Context, key string, res Result) error
		Delete(ctx context.Context, key string) error
	}

	Service interface {
		// Fetch never fails: when Canvas cannot serve the roster, the placeholder roster is returned
		// along with a message and, when the user must (re)authorize, NeedsAuth.
		Fetch(ctx context.Context, req FetchRequest) Result
	}

	service struct {
		api    CanvasAPI
		tokens Tokens
		cache  Cache
		logger core.Logger
	}

	nopCache struct{}
)

var (
	_ Service = (*service)(nil)
	_ Tokens  = (vault.Service)(nil)
)

func NewService(api CanvasAPI, tokens Tokens, cache Cache, logger core.Logger) Service {
	if cache == nil {
		cache = nopCache{}
	}
	return &service{
		api:    api,
		tokens: tokens,
		cache:  cache,
		logger: logger,
	}
}

func (nopCache) Get(context.Context, string) (Result, bool, error) { return Result{}, false, nil }
func (nopCache) Set(context.Context, string, Result) error         { return nil }
func (nopCache) Delete(context.Context, string) error              { return nil }

func cacheKey(req FetchRequest) string {
	return fmt.Sprintf("roster:%s:%s", req.UserID, req.CourseID)
}

func mock(msg string) Result {
	return Result{Members: MockMembers(), Message: msg}
}

func (svc *service) Fetch(ctx context.Context, req FetchRequest) Result {
	courseID := CanvasCourseID(req.NRPSURL, req.CourseID)
	if courseID == "" {
		res := mock("Could not determine Canvas course ID")
		res.Error = "No valid course ID found"
		return res
	}

	// a cached roster is only served to a user who still holds a token
	token, err := svc.tokens.Acquire(ctx, req.UserID, req.CourseID)
	if err != nil {
		if errors.Cause(err) != vault.ErrNoToken {
			svc.logger.Error("acquiring canvas token", errors.Wrap(err, "acquiring canvas token"))
			res := mock("Error fetching roster")
			res.Error = err.Error()
			return res
		}
		res := mock("API authorization required")
		res.NeedsAuth = true
		return res
	}

	key := cacheKey(req)
	if res, ok, err := svc.cache.Get(ctx, key); err != nil {
		svc.logger.Warn("reading roster cache", errors.Wrap(err, key))
	} else if ok {
		return res
	}

	enrollments, err := svc.api.Enrollments(ctx, token, courseID)
	if err != nil {
		switch errors.Cause(err) {
		case ErrUnauthorized:
			if dErr := svc.tokens.Delete(ctx, req.UserID, req.CourseID); dErr != nil {
				svc.logger.Error("deleting rejected canvas token", dErr)
			}
			if dErr := svc.cache.Delete(ctx, key); dErr != nil {
				svc.logger.Warn("dropping cached roster", errors.Wrap(dErr, key))
			}
			res := mock("API token expired - please reauthorize")
			res.NeedsAuth = true
			return res
		case ErrCourseNotFound:
			res := mock(fmt.Sprintf("Course %s not found", courseID))
			res.Error = "Course not found"
			return res
		default:
			svc.logger.Error("fetching canvas enrollments", errors.Wrap(err, "fetching canvas enrollments"))
			res := mock("Error fetching roster")
			res.Error = err.Error()
			return res
		}
	}

	sections, err := svc.api.Sections(ctx, token, courseID)
	if err != nil {
		svc.logger.Warn("fetching canvas sections", errors.Wrap(err, "fetching canvas sections"))
	}

	members := Members(enrollments)
	res := Result{
		Members:  members,
		Sections: sections,
		Message:  fmt.Sprintf("Real Canvas roster - %d members", len(members)),
		Success:  true,
	}
	if err = svc.cache.Set(ctx, key, res); err != nil {
		svc.logger.Warn("writing roster cache", errors.Wrap(err, key))
	}
	return res
}
