package main

import (
	"context"
	"fmt"
)

func (cli *commandLine) purgeTokens() error {
	n, err := cli.vaultSvc.PurgeExpired(context.Background())
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%d expired tokens deleted\n", n)
	return nil
}
