// fcmsend sends one message through the legacy FCM HTTP API and prints the
// correlated outcome as JSON.
//
// Usage:
//
//	FCM_API_KEY=... fcmsend -t <registration-id> -t <registration-id> \
//	    --title "Hello" --body "World" --data conversation=c-1 --priority high
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
