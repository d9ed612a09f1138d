// Command pingpong runs the ping protocol server, its clients, or both in one process.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	if dotenvErr := godotenv.Load(); dotenvErr != nil && !os.IsNotExist(dotenvErr) {
		fmt.Fprintf(os.Stderr, "Failed to load .env file! %s\n", dotenvErr.Error())
	}

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
