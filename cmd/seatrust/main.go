package main

import "github.com/maritimelab/seatrust/cmd/seatrust/cmd"

func main() {
	cmd.Execute()
}
