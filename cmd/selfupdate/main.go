package main

import "github.com/oshokin/selfupdate/cmd/selfupdate/cmd"

func main() {
	cmd.Execute()
}
