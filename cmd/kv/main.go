package main

import "github.com/micro/go-kv/cmd"

func main() {
	cmd.Run()
}
