package main

import (
	"log"

	"github.com/coldyjudgy/ggb-smart-contracts/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatalf("groupbuy: %v", err)
	}
}
