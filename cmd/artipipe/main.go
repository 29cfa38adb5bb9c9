// Artipipe runs incremental artifact pipelines.
package main

import "github.com/albertocavalcante/artipipe/cmd/artipipe/internal/cli"

func main() {
	cli.Execute()
}
