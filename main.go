package main

import "github.com/openclaw/clawd/cmd"

func main() {
	cmd.Execute()
}
