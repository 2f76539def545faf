package cli

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

func printHeader(title string) {
	fmt.Println()
	fmt.Println(color.CyanString(logo))
	fmt.Println(color.New(color.Bold).Sprint(title))
	fmt.Println(strings.Repeat("-", len(title)))
}

func printOK(what string) {
	fmt.Printf("  %s %s\n", color.GreenString("ok"), what)
}

func printWarn(what string) {
	fmt.Printf("  %s %s\n", color.YellowString("!!"), what)
}

func printFail(what string) {
	fmt.Printf("  %s %s\n", color.RedString("FAIL"), what)
}
