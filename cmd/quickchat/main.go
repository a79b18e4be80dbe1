package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/rama7993/quickchat/internal/app"
)

func main() {
	// A missing .env is fine; real environment variables still apply.
	_ = godotenv.Load()

	if err := app.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "quickchat:", err)
		os.Exit(1)
	}
}
