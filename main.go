// Command provider-crawler scrapes a healthcare provider directory into Postgres.
package main

import (
	"github.com/JakeFAU/provider-directory-crawler/cmd"
)

func main() {
	cmd.Execute()
}
