package cmd

import (
	"fmt"
)

const banner = `
  _____           _______           _
 / ____|         |__   __|         | |
| (___   ___  __ _  | |_ __ _   _ __| |_
 \___ \ / _ \/ _` + "`" + ` | | | '__| | | / __| __|
 ____) |  __/ (_| | | | |  | |_| \__ \ |_
|_____/ \___|\__,_| |_|_|   \__,_|___/\__|

`

func printBanner() {
	fmt.Printf("\x1b[34m%s\x1b[0m", banner)
	fmt.Printf("\x1b[32m  Maritime Certificate Service - Version %s\x1b[0m\n\n", Version)
}
