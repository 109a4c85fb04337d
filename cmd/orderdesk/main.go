package main

import (
	"log"

	"orderdesk/cmd/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
