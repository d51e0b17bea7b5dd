package main

import "github.com/hashjosh/meshauth/cmd"

func main() {
	cmd.Execute()
}
