// The main package for the rum-crawler executable.
package main

import (
	"github.com/JakeFAU/rum-crawler/cmd"
)

func main() {
	cmd.Execute()
}
