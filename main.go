package main

import (
	"songmill/cmd"
)

func main() {
	cmd.Execute()
}
