// digby-view is a simple CLI tool for browsing digby store files.
//
// Usage:
//
//	digby-view <filename>           # interactive mode
//	digby-view -l <filename>        # list mode (print all)
//	digby-view -l -n 20 <filename>  # list first 20 items
//	digby-view -table orders <filename>  # browse a named table instead of the global tree
//
// Interactive mode:
//
//	j/↓    scroll down
//	k/↑    scroll up
//	g      jump to first
//	G      jump to last
//	q/Esc  quit
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/term"

	"github.com/digby-db/digby"
)

func main() {
	listFlag := flag.Bool("l", false, "list mode (non-interactive)")
	countFlag := flag.Int("n", 0, "number of items (0 = all)")
	tableFlag := flag.String("table", "", "browse a named table instead of the global tree")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: digby-view [-l] [-n count] [-table name] <filename>")
		os.Exit(1)
	}
	filename := flag.Arg(0)

	db, err := digby.Open(filename, digby.WithReadOnly())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	items, err := load(db, *tableFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *listFlag {
		runList(items, *countFlag)
		return
	}
	runInteractive(items)
}

type item struct {
	key, val []byte
}

// load walks every entry of the global tree, or of a named table when
// table != "", into memory. digby's façade exposes only the in-order
// walk the tree naturally supports (spec §1's Non-goals exclude a
// seekable range cursor), so the viewer pages through a snapshot taken
// up front rather than seeking live against the store.
func load(db *digby.DB, table string) ([]item, error) {
	var items []item
	visit := func(key, val []byte) error {
		items = append(items, item{key: append([]byte(nil), key...), val: append([]byte(nil), val...)})
		return nil
	}
	if table == "" {
		if err := db.All(visit); err != nil {
			return nil, err
		}
		return items, nil
	}
	if err := db.Table([]byte(table)).All(visit); err != nil {
		return nil, err
	}
	return items, nil
}

func runList(items []item, count int) {
	for i, it := range items {
		if count > 0 && i >= count {
			break
		}
		fmt.Printf("%s: %s\n", display(it.key, 40), display(it.val, 60))
	}
}

func runInteractive(items []item) {
	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer term.Restore(int(os.Stdin.Fd()), oldState)

	v := &viewer{items: items}
	v.updateSize()

	fmt.Print("\033[?25l\033[2J") // hide cursor, clear screen once
	defer fmt.Print("\033[?25h\033[2J\033[H") // show cursor, clear screen

	reader := bufio.NewReader(os.Stdin)
	for {
		v.updateSize()
		v.render()

		b, err := reader.ReadByte()
		if err != nil {
			break
		}
		switch b {
		case 'q', 3, 27: // q, Ctrl+C, Esc
			if b == 27 && reader.Buffered() > 0 {
				b2, _ := reader.ReadByte()
				if b2 == '[' {
					b3, _ := reader.ReadByte()
					switch b3 {
					case 'A':
						v.up()
					case 'B':
						v.down()
					}
				}
				continue
			}
			return
		case 'j':
			v.down()
		case 'k':
			v.up()
		case 'g':
			v.top = 0
		case 'G':
			v.top = max(0, len(v.items)-v.lines())
		}
	}
}

type viewer struct {
	items  []item
	width  int
	height int
	top    int
}

func (v *viewer) updateSize() bool {
	w, h, err := term.GetSize(int(os.Stdin.Fd()))
	if err != nil {
		w, h = 80, 24
	}
	if w == v.width && h == v.height {
		return false
	}
	v.width, v.height = w, h
	return true
}

func (v *viewer) lines() int {
	n := v.height - 3
	if n < 1 {
		n = 1
	}
	return n
}

func (v *viewer) down() {
	if v.top+v.lines() < len(v.items) {
		v.top++
	}
}

func (v *viewer) up() {
	if v.top > 0 {
		v.top--
	}
}

func (v *viewer) render() {
	var b strings.Builder
	b.WriteString("\033[H")
	b.WriteString(fmt.Sprintf("[ digby-view: %d entries ]\033[K\r\n", len(v.items)))
	b.WriteString(strings.Repeat("─", v.width))
	b.WriteString("\033[K\r\n")

	keyWidth := 32
	valWidth := v.width - keyWidth - 4
	if valWidth < 20 {
		valWidth = 20
	}

	lines := v.lines()
	for i := 0; i < lines; i++ {
		idx := v.top + i
		if idx < len(v.items) {
			it := v.items[idx]
			b.WriteString(display(it.key, keyWidth))
			b.WriteString(": ")
			b.WriteString(display(it.val, valWidth))
		} else {
			b.WriteString("~")
		}
		b.WriteString("\033[K\r\n")
	}
	b.WriteString(" j/k:scroll g/G:jump q:quit \033[K")
	fmt.Print(b.String())
}

// display formats bytes for display, truncating if needed. Tries to
// show as a string if printable, otherwise falls back to hex.
func display(b []byte, maxLen int) string {
	if len(b) == 0 {
		return "(empty)"
	}
	if utf8.Valid(b) && isPrintable(b) {
		runes := []rune(string(b))
		if len(runes) > maxLen-3 {
			return string(runes[:maxLen-3]) + "..."
		}
		return string(runes)
	}
	hex := fmt.Sprintf("%x", b)
	if len(hex) > maxLen-3 {
		return hex[:maxLen-3] + "..."
	}
	return hex
}

func isPrintable(b []byte) bool {
	for _, r := range string(b) {
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
