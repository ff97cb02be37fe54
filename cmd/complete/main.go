// Command complete continues one line of text with a base model served by a
// local LM Studio style inference server.
package main

import (
	"context"
	"os"

	"complete/internal/app"
	"complete/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:], app.Streams{In: os.Stdin, Out: os.Stdout, Err: os.Stderr}))
}
