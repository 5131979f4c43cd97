package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/fx"

	"github.com/DERELya/instaking-chat/internal/daemon"
	"github.com/DERELya/instaking-chat/internal/session"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	flag.Parse()

	// .env holds the API token; missing file is fine.
	_ = godotenv.Load()

	profile := session.Resolve(*profileFlag)
	if err := session.ValidateName(profile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			Profile: profile,
			Token:   os.Getenv("INSTAKING_TOKEN"),
		}),
	)

	app.Run()
}
