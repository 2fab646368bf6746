// The main package for the crawler-service executable.
package main

import (
	"github.com/xiaolu-workflow/crawler-service/cmd"
)

func main() {
	cmd.Execute()
}
