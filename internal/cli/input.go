package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// isTerminal is a test seam for term.IsTerminal.
var isTerminal = term.IsTerminal

// readNoteText returns the note body. --text wins; otherwise the whole of
// in is read. When in is an interactive terminal the user is prompted and
// input ends on an empty line.
func readNoteText(in io.Reader, w io.Writer, text string) (string, error) {
	if text != "" {
		return text, nil
	}
	if f, ok := in.(*os.File); ok && isTerminal(int(f.Fd())) {
		return getMultiline(bufio.NewReader(in), "Session notes", w)
	}
	b, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("read notes: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// getMultiline prints prompt and reads lines until an empty one.
func getMultiline(reader *bufio.Reader, prompt string, w io.Writer) (string, error) {
	if _, err := fmt.Fprint(w, prompt+"\n(press Enter on an empty line to finish)\n"); err != nil {
		return "", err
	}

	var lines []string
	for {
		line, err := reader.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		lines = append(lines, line)
		if err != nil {
			break
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), nil
}
