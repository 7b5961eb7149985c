package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/sghajdao/Canvas-Attendance-lti/core/vault"
)

// setToken stores a Canvas access token obtained out of band, e.g. a personal access token.
func (cli *commandLine) setToken(userID, courseID, accessToken string, expiresIn int) error {
	tok := vault.Token{
		AccessToken: strings.TrimSpace(accessToken),
		ExpiresIn:   expiresIn,
	}
	if err := cli.vaultSvc.Store(context.Background(), userID, courseID, tok); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "token stored for user %s in course %s\n", userID, courseID)
	return nil
}
