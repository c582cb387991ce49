// Command manage is a placeholder for the node's management/administration
// surface (cluster membership, manual retention overrides). Not implemented
// in this build.
package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Fprintln(os.Stderr, "redbackup manage: the management service is not implemented in this build")
	os.Exit(0)
}
