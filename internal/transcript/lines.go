package transcript

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/MrWong99/signdeck/pkg/types"
)

// ReadLines publishes every line read from r on feed as a final transcript.
// Each line replaces the previous transcript. A line consisting of a single
// "." clears it. ReadLines returns nil at EOF and ctx.Err() when ctx is
// cancelled between lines.
func ReadLines(ctx context.Context, r io.Reader, feed *Feed) error {
	s := bufio.NewScanner(r)
	for s.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(s.Text())
		if line == "." {
			line = ""
		}
		feed.Publish(types.Transcript{Text: line, IsFinal: true})
	}
	if err := s.Err(); err != nil {
		return fmt.Errorf("transcript: read lines: %w", err)
	}
	return nil
}
