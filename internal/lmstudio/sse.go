package lmstudio

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// errStopStream is returned by a data handler to end reading without error.
var errStopStream = errors.New("stop stream")

// readEvents parses a Server-Sent Event body and calls fn with the payload of
// each "data:" line. Blank lines, comments, and other fields are skipped.
func readEvents(body io.Reader, fn func(data string) error) error {
	r := bufio.NewReader(body)
	for {
		line, err := r.ReadString('\n')
		if len(line) > 0 {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(strings.ToLower(line), "data:") {
				data := strings.TrimSpace(line[len("data:"):])
				if cbErr := fn(data); cbErr != nil {
					if errors.Is(cbErr, errStopStream) {
						return nil
					}
					return cbErr
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
