package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"syscall"

	"golang.org/x/term"

	"github.com/sghajdao/Canvas-Attendance-lti/core"
	"github.com/sghajdao/Canvas-Attendance-lti/core/vault"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	conf     *core.Config
	db       *sql.DB
	vaultSvc vault.Service
	out      io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS] - run a goose command (up, up-by-one, up-to, down, down-to, redo, reset, status, version, create, fix)")
	fmt.Fprintln(cli.out, "  settoken -user USER_ID -course COURSE_ID [-expires-in SECONDS] - store a Canvas access token (prompted next)")
	fmt.Fprintln(cli.out, "  purgetokens - delete expired Canvas tokens")
	fmt.Fprintln(cli.out, "  issuetoken -user USER_ID -course COURSE_ID -role ROLE [-sis SIS_ID] [-coursesis SIS_ID] [-name NAME] - print a session token")
}

func (cli *commandLine) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(cli.out)
	return fs
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	setTokenCmd := cli.newFlagSet("settoken")
	setTokenUser := setTokenCmd.String("user", "", "The Canvas user id.")
	setTokenCourse := setTokenCmd.String("course", "", "The Canvas course id. The access token will be prompted next.")
	setTokenExpiresIn := setTokenCmd.Int("expires-in", 0, "Token lifetime in seconds (defaults to the configured policy).")

	issueTokenCmd := cli.newFlagSet("issuetoken")
	issueTokenUser := issueTokenCmd.String("user", "", "The Canvas user id (token subject).")
	issueTokenCourse := issueTokenCmd.String("course", "", "The Canvas course id.")
	issueTokenRole := issueTokenCmd.String("role", "", "Instructor, TeachingAssistant or Student.")
	issueTokenSIS := issueTokenCmd.String("sis", "", "The user's SIS id.")
	issueTokenCourseSIS := issueTokenCmd.String("coursesis", "", "The course's SIS id.")
	issueTokenName := issueTokenCmd.String("name", "", "The user's display name.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "settoken":
		if err := setTokenCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *setTokenUser == "" || *setTokenCourse == "" {
			setTokenCmd.Usage()
			return errHelp
		}
		fmt.Fprint(cli.out, "Enter access token:")
		tok, err := readPasswordFunc(int(syscall.Stdin))
		fmt.Fprintln(cli.out)
		if err != nil {
			return err
		}
		if len(tok) == 0 {
			setTokenCmd.Usage()
			return errHelp
		}
		return cli.setToken(*setTokenUser, *setTokenCourse, string(tok), *setTokenExpiresIn)

	case "purgetokens":
		return cli.purgeTokens()

	case "issuetoken":
		if err := issueTokenCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *issueTokenUser == "" || *issueTokenRole == "" {
			issueTokenCmd.Usage()
			return errHelp
		}
		return cli.issueToken(issueTokenParams{
			userID:      *issueTokenUser,
			courseID:    *issueTokenCourse,
			role:        *issueTokenRole,
			userSISID:   *issueTokenSIS,
			courseSISID: *issueTokenCourseSIS,
			name:        *issueTokenName,
		})

	default:
		cli.printUsage()
		return errHelp
	}
}
