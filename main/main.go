package main

import (
	"log"

	"github.com/awaketai/urlfrontier/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatalf("run err:%v", err)
	}
}
