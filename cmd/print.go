// print gathers all tools for formatting output
package cmd

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/avi-mesh/avi/event"
)

var noColor bool

func SetNoColor() {
	color.NoColor = noColor
}

func PrintSuccess(msg string, params ...interface{}) {
	color.Green(msg, params...)
}

func PrintInfo(msg string, params ...interface{}) {
	color.White(msg, params...)
}

func PrintWarning(msg string, params ...interface{}) {
	color.Yellow(msg, params...)
}

func PrintErr(err error, params ...interface{}) {
	color.Red(err.Error(), params...)
}

// PrintEvent renders a single runtime event on stdout, coloured by
// topic class, for `avi start --print-events`.
func PrintEvent(e event.Event) {
	blue := color.New(color.FgBlue).SprintFunc()
	switch {
	case strings.HasPrefix(string(e.Topic), "stream:"):
		color.Cyan("%s  %s  %+v", blue(e.Timestamp), e.Topic, e.Payload)
	case strings.HasPrefix(string(e.Topic), "context:"):
		color.Magenta("%s  %s  %+v", blue(e.Timestamp), e.Topic, e.Payload)
	default:
		fmt.Printf("%s  %s  %+v\n", blue(e.Timestamp), e.Topic, e.Payload)
	}
}

