// Command silverload runs the incremental bronze to silver ingestion of the
// datasets declared in a project file.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "silverload: %v\n", err)
		os.Exit(exitCode(err))
	}
}
