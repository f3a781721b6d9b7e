package filters

import (
	"regexp"
	"strconv"
)

var ticketTokenRegexp = regexp.MustCompile(`#(\d+)`)

// findTicketToken returns the first #<digits> number in input.
func findTicketToken(input string) (int, bool) {
	matches := ticketTokenRegexp.FindStringSubmatch(input)
	if len(matches) < 2 {
		return 0, false
	}
	n, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
