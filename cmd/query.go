package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/antonlok/aggregator-threadpool/internal/news"
)

const (
	maxMatchesToShow = 15
	maxDisplayRunes  = 60
	searchPrompt     = "Enter a search term [or just hit <enter> to quit]: "
)

// queryLoop answers search terms read line by line from in until an empty
// line or end of input.
func queryLoop(in io.Reader, out io.Writer, searcher news.Searcher) error {
	scanner := bufio.NewScanner(in)
	for {
		if _, err := io.WriteString(out, searchPrompt); err != nil {
			return fmt.Errorf("write prompt: %w", err)
		}
		if !scanner.Scan() {
			fmt.Fprintln(out)
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read search term: %w", err)
			}
			return nil
		}
		term := strings.TrimSpace(scanner.Text())
		if term == "" {
			return nil
		}
		printMatches(out, term, searcher.Query(term))
	}
}

func printMatches(w io.Writer, term string, matches []news.Match) {
	if len(matches) == 0 {
		fmt.Fprintf(w, "Ah, we didn't find the term \"%s\". Try again.\n", term)
		return
	}

	fmt.Fprintf(w, "That term appears in %d article%s.  ", len(matches), plural(len(matches)))
	switch {
	case len(matches) > maxMatchesToShow:
		fmt.Fprintf(w, "Here are the top %d of them:\n", maxMatchesToShow)
	case len(matches) > 1:
		fmt.Fprintln(w, "Here they are:")
	default:
		fmt.Fprintln(w, "Here it is:")
	}

	for i, m := range matches {
		if i == maxMatchesToShow {
			break
		}
		times := "times"
		if m.Count == 1 {
			times = "time"
		}
		fmt.Fprintf(w, "  %2d.) \"%s\" [appears %d %s].\n", i+1, truncate(m.Article.Title), m.Count, times)
		fmt.Fprintf(w, "       \"%s\"\n", truncate(m.Article.URL))
	}
}

// truncate shortens s to maxDisplayRunes runes, the last three being "...".
func truncate(s string) string {
	if utf8.RuneCountInString(s) <= maxDisplayRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxDisplayRunes-3]) + "..."
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
