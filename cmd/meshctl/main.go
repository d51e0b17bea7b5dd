package main

import "github.com/hashjosh/meshauth/cmd/meshctl/cmd"

func main() {
	cmd.Execute()
}
