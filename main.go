// The main package for the yt-history-sync executable.
package main

import (
	"github.com/JakeFAU/yt-history-sync/cmd"
)

func main() {
	cmd.Execute()
}
