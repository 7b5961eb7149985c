package canvassvc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"

	"github.com/sghajdao/Canvas-Attendance-lti/core"
	"github.com/sghajdao/Canvas-Attendance-lti/core/roster"
)

const (
	enrollmentsPath = "/api/v1/courses/%s/enrollments"
	sectionsPath    = "/api/v1/courses/%s/sections"
	perPage         = "100"
)

// Client calls the Canvas REST API on behalf of a user token.
type Client struct {
	baseURL string
	timeout time.Duration
	rest    *rest.Client
}

var _ roster.CanvasAPI = (*Client)(nil)

func NewClient(conf *core.Config) *Client {
	return &Client{
		baseURL: strings.TrimRight(conf.Canvas.BaseURL, "/"),
		timeout: conf.Canvas.Timeout,
		rest:    &rest.Client{HTTPClient: &http.Client{Timeout: conf.Canvas.Timeout}},
	}
}

func (c *Client) get(ctx context.Context, token, path string, params map[string]string, dest interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := rest.Request{
		Method:  http.MethodGet,
		BaseURL: c.baseURL + path,
		Headers: map[string]string{
			"Authorization": "Bearer " + token,
			"Accept":        "application/json",
		},
		QueryParams: params,
	}
	res, err := c.rest.SendWithContext(ctx, req)
	if err != nil {
		return errors.Wrapf(err, "GET %s", path)
	}

	switch {
	case res.StatusCode == http.StatusUnauthorized:
		return roster.ErrUnauthorized
	case res.StatusCode == http.StatusNotFound:
		return roster.ErrCourseNotFound
	case res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices:
		return &roster.UpstreamError{StatusCode: res.StatusCode}
	}

	if err = json.Unmarshal([]byte(res.Body), dest); err != nil {
		return errors.Wrapf(err, "decoding GET %s", path)
	}
	return nil
}

// Enrollments lists the first page (100) of enrollments of the course, with users embedded.
func (c *Client) Enrollments(ctx context.Context, token, courseID string) ([]roster.Enrollment, error) {
	var enrollments []roster.Enrollment
	params := map[string]string{"per_page": perPage, "include[]": "user"}
	if err := c.get(ctx, token, fmt.Sprintf(enrollmentsPath, courseID), params, &enrollments); err != nil {
		return nil, err
	}
	return enrollments, nil
}

func (c *Client) Sections(ctx context.Context, token, courseID string) ([]roster.Section, error) {
	var sections []roster.Section
	params := map[string]string{"per_page": perPage}
	if err := c.get(ctx, token, fmt.Sprintf(sectionsPath, courseID), params, &sections); err != nil {
		return nil, err
	}
	return sections, nil
}
