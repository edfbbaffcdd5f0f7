package main

import "github.com/kozaktomas/facepic/cmd"

func main() {
	cmd.Execute()
}
