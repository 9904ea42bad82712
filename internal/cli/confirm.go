package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/hupe1980/tdaemon/internal/output"
	"github.com/hupe1980/tdaemon/internal/watch"
)

// errNotInteractive is returned when a confirmation is needed but stdin is
// not a terminal.
var errNotInteractive = errors.New("cannot ask for confirmation (stdin is not a terminal); use --yes or raise --max-size")

// newConfirmFunc asks on out and reads the answer from in. With yes set,
// every tree is accepted without asking.
func newConfirmFunc(in io.Reader, out io.Writer, root string, yes bool) watch.ConfirmFunc {
	return func(total, threshold int64, files int) (bool, error) {
		if yes {
			return true, nil
		}

		if f, ok := in.(*os.File); ok && !term.IsTerminal(int(f.Fd())) {
			return false, errNotInteractive
		}

		fmt.Fprintf(out, "%s holds %s in %d files, more than --max-size %s. Watch it anyway? [y/N] ",
			root, output.FormatBytes(total), files, output.FormatBytes(threshold))

		answer, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return false, fmt.Errorf("reading answer: %w", err)
		}

		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}
