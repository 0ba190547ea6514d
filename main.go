package main

import (
	"github.com/cardhaus/cartsync/cmd"
)

func main() {
	cmd.Start()
}
