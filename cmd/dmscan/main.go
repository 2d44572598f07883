package main

import "github.com/MeKo-Tech/dmscan/cmd/dmscan/cmd"

func main() {
	cmd.Execute()
}
