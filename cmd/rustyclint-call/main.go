package main

import "github.com/spayyavula/azrustyclint/cmd/rustyclint-call/cmd"

func main() {
	cmd.Execute()
}
