package main

import (
	"fmt"

	"github.com/digitect38/xstatenet/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		fmt.Println(err.Error())
		return
	}
}
