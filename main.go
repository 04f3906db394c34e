package main

import "audio-structure-analyzer/cmd"

func main() {
	cmd.Execute()
}
