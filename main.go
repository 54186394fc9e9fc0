package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/ptops/ptriage/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		var exitErr cmd.ExitCodeError
		if errors.As(err, &exitErr) {
			if exitErr.Msg != "" {
				fmt.Fprintf(os.Stderr, "%s\n", exitErr.Msg)
			}
			os.Exit(int(exitErr.Code))
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(int(20))
	}
}
