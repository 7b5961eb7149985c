package main

import (
	"log"
	"os"

	"github.com/sghajdao/Canvas-Attendance-lti/core"
	"github.com/sghajdao/Canvas-Attendance-lti/core/vault"
	canvassvc "github.com/sghajdao/Canvas-Attendance-lti/services/canvas"
	logsvc "github.com/sghajdao/Canvas-Attendance-lti/services/logger"
	"github.com/sghajdao/Canvas-Attendance-lti/storage/database"
	sqlxrepos "github.com/sghajdao/Canvas-Attendance-lti/storage/database/sqlx"
)

var logger *log.Logger

func main() {
	conf := core.MustNewConfig()
	logger = logsvc.NewStdLogger(conf, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

	// set up DB
	db, err := database.Open(conf)
	errAndDie(err)

	code := 0
	cli := commandLine{
		conf: conf,
		db:   db.DB,
		vaultSvc: vault.NewService(
			conf,
			sqlxrepos.NewTokenRepository(db),
			canvassvc.NewOAuth(conf),
			logsvc.NewRollbarLogger(logger, conf),
		),
		out: os.Stdout,
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		code = 1
	}
	_ = db.Close()
	os.Exit(code)
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
	}
}
