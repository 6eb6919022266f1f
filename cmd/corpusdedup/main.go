package main

import (
	"os"

	"horse.fit/corpusdedup/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
