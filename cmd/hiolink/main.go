// Command hiolink runs a framed echo/relay server or an interactive client
// on top of the hiolink dispatch core.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
