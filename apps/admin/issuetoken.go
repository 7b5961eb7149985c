package main

import (
	"errors"
	"fmt"

	echoapi "github.com/sghajdao/Canvas-Attendance-lti/apps/api/echo"
)

var errUnknownRole = errors.New("role must be one of Instructor, TeachingAssistant, Student")

type issueTokenParams struct {
	userID      string
	courseID    string
	role        string
	userSISID   string
	courseSISID string
	name        string
}

// issueToken prints a session JWT, for integrators who launch the tool without LTI.
func (cli *commandLine) issueToken(p issueTokenParams) error {
	switch p.role {
	case echoapi.RoleInstructor, echoapi.RoleTeachingAssistant, echoapi.RoleStudent:
	default:
		return errUnknownRole
	}

	claims := echoapi.NewClaims(cli.conf, echoapi.Session{
		UserID:      p.userID,
		UserSISID:   p.userSISID,
		CourseID:    p.courseID,
		CourseSISID: p.courseSISID,
		Name:        p.name,
		Roles:       []string{p.role},
	})
	token, err := echoapi.GenerateToken(claims, cli.conf.SecretKey)
	if err != nil {
		return err
	}
	fmt.Fprintln(cli.out, token)
	return nil
}
