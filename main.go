package main

import (
	"os"

	"mxtool/internal/mxtool"
)

func main() {
	os.Exit(mxtool.Main())
}
