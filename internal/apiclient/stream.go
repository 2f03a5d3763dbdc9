package apiclient

import (
	"bufio"
	"bytes"
	"io"
	"iter"
	"strings"
)

const maxStreamBlock = 1 << 20

// ParseStream splits an assistant stream into payloads. Blocks are separated
// by a blank line; inside a block every non-empty trimmed line is a payload,
// with a leading "data:" prefix removed. A trailing block without the final
// blank line is still emitted at EOF.
func ParseStream(r io.Reader) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64<<10), maxStreamBlock)
		sc.Split(splitBlocks)

		for sc.Scan() {
			for _, payload := range blockPayloads(sc.Text()) {
				if !yield(payload, nil) {
					return
				}
			}
		}
		if err := sc.Err(); err != nil {
			yield("", err)
		}
	}
}

func blockPayloads(block string) []string {
	var out []string
	for line := range strings.SplitSeq(block, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			line = strings.TrimSpace(rest)
		}
		out = append(out, line)
	}
	return out
}

func splitBlocks(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i, n := blockEnd(data); i >= 0 {
		return i + n, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// blockEnd returns the index of the first blank-line separator and its length.
func blockEnd(data []byte) (int, int) {
	lf := bytes.Index(data, []byte("\n\n"))
	crlf := bytes.Index(data, []byte("\r\n\r\n"))
	switch {
	case lf < 0 && crlf < 0:
		return -1, 0
	case crlf < 0 || (lf >= 0 && lf < crlf):
		return lf, 2
	default:
		return crlf, 4
	}
}
