package main

import (
	"os"

	"github.com/TOOITW/morning-pulse/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
