package main

import "github.com/MeKo-Tech/pagefuse/cmd/pagefuse/cmd"

func main() {
	cmd.Execute()
}
