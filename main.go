// The main package for the newsingest executable.
package main

import (
	"github.com/ghalehnoei/news-scraper/cmd"
)

func main() {
	cmd.Execute()
}
